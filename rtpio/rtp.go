// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package rtpio is the RTP wire-format layer: packet marshal/unmarshal and
// the Sender's wrapping sequence counter for AES67's RTP/AVP audio profile (no
// RTCP, no CSRC mixing, no SRTP).
package rtpio

import (
	"fmt"

	"github.com/pion/rtp"
)

// MaxPacketBytes is the MTU ceiling for AES67 packets on standard
// Ethernet.
const MaxPacketBytes = 1500

// Decode parses buf as an RTP/AVP packet. AES67 audio streams carry no
// extensions, CSRCs or padding; a wire packet that does is treated as
// malformed.
func Decode(buf []byte, pkt *rtp.Packet) error {
	if err := pkt.Unmarshal(buf); err != nil {
		return fmt.Errorf("rtpio: malformed rtp packet: %w", err)
	}
	if pkt.Version != 2 {
		return fmt.Errorf("rtpio: unsupported rtp version %d", pkt.Version)
	}
	if pkt.Padding || pkt.Extension || len(pkt.CSRC) > 0 {
		return fmt.Errorf("rtpio: unexpected padding/extension/csrc in AES67 audio packet")
	}
	return nil
}

// Encode builds the wire bytes for an outgoing packet, failing if the
// resulting packet would exceed MaxPacketBytes.
func Encode(pkt *rtp.Packet) ([]byte, error) {
	b, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtpio: marshal: %w", err)
	}
	if len(b) > MaxPacketBytes {
		return nil, ErrMaxMTUExceeded
	}
	return b, nil
}
