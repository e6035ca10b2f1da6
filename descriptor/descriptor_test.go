// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package descriptor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aes67/govsc/sample"
)

func validRx() Rx {
	return Rx{
		ID:           "rx",
		OriginIP:     net.ParseIP("10.0.0.5"),
		Destination:  net.UDPAddr{IP: net.ParseIP("239.1.1.1"), Port: 5004},
		PayloadType:  98,
		PacketTime:   time.Millisecond,
		Channels:     2,
		SampleFormat: sample.L24,
		SampleRate:   48000,
		LinkOffset:   5 * time.Millisecond,
	}
}

func TestRxPayloadFrames(t *testing.T) {
	d := validRx()
	assert.Equal(t, uint32(48), d.PayloadFrames())

	d.PacketTime = 4 * time.Millisecond
	assert.Equal(t, uint32(192), d.PayloadFrames())
}

func TestRxLinkOffsetFrames(t *testing.T) {
	d := validRx()
	assert.Equal(t, uint32(240), d.LinkOffsetFrames())
}

func TestRxValidate(t *testing.T) {
	d := validRx()
	require.NoError(t, d.Validate())

	tests := []struct {
		name   string
		mutate func(*Rx)
	}{
		{"zero channels", func(d *Rx) { d.Channels = 0 }},
		{"zero sample rate", func(d *Rx) { d.SampleRate = 0 }},
		{"zero packet time", func(d *Rx) { d.PacketTime = 0 }},
		{"missing origin", func(d *Rx) { d.OriginIP = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := validRx()
			tc.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestTxValidateRejectsOversizedPackets(t *testing.T) {
	d := Tx{
		ID:           "tx",
		Target:       net.UDPAddr{IP: net.ParseIP("239.2.2.2"), Port: 5004},
		PayloadType:  98,
		PacketTime:   4 * time.Millisecond,
		Channels:     8,
		SampleFormat: sample.L24,
		SampleRate:   48000,
	}
	// 192 frames * 8ch * 3B = 4608 payload bytes, far past the MTU.
	require.Error(t, d.Validate())

	d.PacketTime = time.Millisecond
	d.Channels = 2
	require.NoError(t, d.Validate())
}
