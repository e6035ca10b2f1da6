// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package sample converts between wire-format linear PCM (L16, L24) and the
// deinterleaved float32 samples the ring buffers and host callback operate on.
package sample

import "fmt"

// Format is a linear PCM sample format carried in an AES67 RTP payload.
type Format int

const (
	L16 Format = iota
	L24
)

func (f Format) String() string {
	switch f {
	case L16:
		return "L16"
	case L24:
		return "L24"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the wire size, in bytes, of a single encoded sample.
func (f Format) BytesPerSample() int {
	switch f {
	case L16:
		return 2
	case L24:
		return 3
	default:
		return 0
	}
}

// BytesPerFrame returns the wire size of one frame (one sample per channel).
func BytesPerFrame(channels int, f Format) int {
	return channels * f.BytesPerSample()
}

// ParseFormat maps an SDP rtpmap encoding name (e.g. "L24", "L16") to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "L16":
		return L16, nil
	case "L24":
		return L24, nil
	default:
		return 0, fmt.Errorf("sample: unsupported format %q", name)
	}
}
