// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package sample

import "fmt"

const (
	maxL16 = 1 << 15
	maxL24 = 1 << 23
)

// Decode reads one big-endian linear PCM sample of the given format from b
// and returns it as a float32 in [-1, 1). len(b) must be >= f.BytesPerSample().
func Decode(f Format, b []byte) float32 {
	switch f {
	case L16:
		v := int16(uint16(b[0])<<8 | uint16(b[1]))
		return float32(v) / maxL16
	case L24:
		v := int32(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
		// sign extend 24 -> 32
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float32(v) / maxL24
	default:
		return 0
	}
}

// Encode writes v (clamped to [-1, 1)) as a big-endian linear PCM sample of
// the given format into out. len(out) must be >= f.BytesPerSample().
func Encode(f Format, v float32, out []byte) {
	switch f {
	case L16:
		v = clamp(v)
		i := int32(v * maxL16)
		out[0] = byte(i >> 8)
		out[1] = byte(i)
	case L24:
		v = clamp(v)
		i := int32(v * maxL24)
		out[0] = byte(i >> 16)
		out[1] = byte(i >> 8)
		out[2] = byte(i)
	}
}

func clamp(v float32) float32 {
	switch {
	case v >= 1:
		// Largest value below 1 that still encodes as the positive
		// full-scale code in both L16 and L24.
		return 1 - 1.0/maxL24
	case v < -1:
		return -1
	default:
		return v
	}
}

// FrameCount returns how many complete frames are present in payload for the
// given channel count and sample format, and validates the payload is an
// exact multiple of one frame's byte size.
func FrameCount(payload []byte, channels int, f Format) (int, error) {
	bpf := BytesPerFrame(channels, f)
	if bpf == 0 || len(payload)%bpf != 0 {
		return 0, fmt.Errorf("sample: payload length %d is not a multiple of frame size %d", len(payload), bpf)
	}
	return len(payload) / bpf, nil
}
