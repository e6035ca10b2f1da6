// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package descriptor holds the immutable value objects a Receiver or Sender
// is constructed from: resolved SDP session parameters. SAP/SDP parsing
// happens outside this module; these types are what the discovery layer
// hands the core.
package descriptor

import (
	"fmt"
	"net"
	"time"

	"github.com/aes67/govsc/sample"
)

// Rx describes one subscribed multicast RTP/AVP audio session.
type Rx struct {
	ID             string
	SessionID      string
	SessionVersion uint64

	OriginIP    net.IP
	Destination net.UDPAddr // multicast group + port

	PayloadType  uint8
	PacketTime   time.Duration
	Channels     int
	SampleFormat sample.Format
	SampleRate   uint32

	// RTPOffset is the initial RTP timestamp offset from SDP
	// a=mediaclk:direct=N.
	RTPOffset uint32

	ChannelLabels []string
	// LinkOffset is the ingress-to-playout buffering budget.
	LinkOffset time.Duration

	Interface string
}

// Tx describes one published RTP/AVP audio session.
type Tx struct {
	ID string

	Target net.UDPAddr
	TTL    int

	PayloadType  uint8
	PacketTime   time.Duration
	Channels     int
	SampleFormat sample.Format
	SampleRate   uint32

	ChannelLabels []string
	Interface     string
}

// PayloadFrames returns how many frames one RTP packet carries at this
// descriptor's packet_time and sample_rate.
func (d *Rx) PayloadFrames() uint32 {
	return uint32(d.PacketTime.Seconds() * float64(d.SampleRate))
}

func (d *Tx) PayloadFrames() uint32 {
	return uint32(d.PacketTime.Seconds() * float64(d.SampleRate))
}

// LinkOffsetFrames converts LinkOffset to a frame count at this
// descriptor's sample rate, for playout-margin measurement.
func (d *Rx) LinkOffsetFrames() uint32 {
	return uint32(d.LinkOffset.Seconds() * float64(d.SampleRate))
}

// Validate rejects impossible field combinations. The rtpmap/ptime/fmt
// attributes the fields were derived from are assumed to already agree.
func (d *Rx) Validate() error {
	if d.Channels <= 0 {
		return fmt.Errorf("descriptor: channels must be positive, got %d", d.Channels)
	}
	if d.SampleRate == 0 {
		return fmt.Errorf("descriptor: sample rate must be positive")
	}
	if d.PacketTime <= 0 {
		return fmt.Errorf("descriptor: packet time must be positive")
	}
	if d.PayloadFrames() == 0 {
		return fmt.Errorf("descriptor: packet time %s too small for sample rate %d", d.PacketTime, d.SampleRate)
	}
	if d.OriginIP == nil {
		return fmt.Errorf("descriptor: origin ip required")
	}
	return nil
}

func (d *Tx) Validate() error {
	if d.Channels <= 0 {
		return fmt.Errorf("descriptor: channels must be positive, got %d", d.Channels)
	}
	if d.SampleRate == 0 {
		return fmt.Errorf("descriptor: sample rate must be positive")
	}
	if d.PacketTime <= 0 {
		return fmt.Errorf("descriptor: packet time must be positive")
	}
	bytesPerPacket := int(d.PayloadFrames()) * sample.BytesPerFrame(d.Channels, d.SampleFormat)
	if bytesPerPacket+12 > 1500 {
		return fmt.Errorf("descriptor: packet_time %s at %d channels/%s exceeds MTU (payload=%d bytes)", d.PacketTime, d.Channels, d.SampleFormat, bytesPerPacket)
	}
	return nil
}
