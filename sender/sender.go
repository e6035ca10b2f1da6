// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package sender implements the Sender component: drains a TxBuffer
// consumer and emits one RTP/AVP packet per packet_time window to a
// configured multicast target.
package sender

import (
	"errors"
	"math/rand"
	"net"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/ring"
	"github.com/aes67/govsc/rtpio"
	"github.com/aes67/govsc/stats"
)

// Socket is the narrow write-side transport a Sender needs. *net.UDPConn
// satisfies it.
type Socket interface {
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	Close() error
}

// ErrMaxMTUExceeded mirrors rtpio.ErrMaxMTUExceeded: a built packet exceeded
// 1500 bytes. A configuration bug, fatal to the Sender, not a per-packet
// drop.
var ErrMaxMTUExceeded = rtpio.ErrMaxMTUExceeded

// Sender is one per published session, reading slots off a TxBuffer
// consumer and writing RTP/AVP packets to a fixed multicast target.
type Sender struct {
	desc   descriptor.Tx
	clock  clock.Clock
	cons   *ring.TxConsumer
	socket Socket
	target net.Addr
	sink   *stats.Sink
	log    zerolog.Logger

	ssrc uint32
	seq  rtpio.Sequence

	done chan struct{}
}

// Handle is returned by Start and lets the owner stop the Sender.
type Handle struct {
	s *Sender
}

// Start launches the Sender's single-threaded egress goroutine. It owns
// socket and cons for its lifetime.
func Start(desc descriptor.Tx, clk clock.Clock, cons *ring.TxConsumer, socket Socket, sink *stats.Sink) (*Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	s := &Sender{
		desc:   desc,
		clock:  clk,
		cons:   cons,
		socket: socket,
		target: &desc.Target,
		sink:   sink,
		log:    log.With().Str("component", "sender").Str("session", desc.ID).Logger(),
		ssrc:   rand.Uint32(),
		done:   make(chan struct{}),
	}
	// seq starts at a uniformly random u16; seed the counter one behind so
	// the first Next() call emits it.
	s.seq.Init(uint16(rand.Uint32()) - 1)

	sink.Emit(stats.SenderCreated{Entity: stats.Entity{ID: desc.ID}, Label: desc.ID})
	go s.run()

	return &Handle{s: s}, nil
}

// Stop waits for the egress loop to exit: no further packets are sent once
// the in-flight slot (if any) has been handled. Idempotent.
func (h *Handle) Stop() {
	// Closing the producer side (owned by the host callback, not us) is
	// what actually unblocks the egress loop; Stop just waits for it to
	// observe that close and exit. Callers must close the TxBuffer's
	// producer before calling Stop: host side torn down before core side.
	<-h.s.done
}

func (s *Sender) entity() stats.Entity { return stats.Entity{ID: s.desc.ID} }

func (s *Sender) run() {
	defer close(s.done)
	defer s.sink.Emit(stats.SenderDestroyed{Entity: s.entity()})

	for slot := range s.cons.Slots() {
		if err := s.send(slot); err != nil {
			if errors.Is(err, ErrMaxMTUExceeded) {
				s.log.Error().Err(err).Msg("sender configuration error: packet exceeds MTU")
				return
			}
			s.log.Error().Err(err).Msg("sender egress write failed")
			return
		}
	}
}

// send implements the egress algorithm's steps 2-4: build, guard, write,
// report.
func (s *Sender) send(slot ring.Slot) error {
	payload := s.cons.Bytes(slot)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.desc.PayloadType,
			SequenceNumber: s.seq.Next(),
			Timestamp:      uint32(uint64(slot.IngressTime) % (1 << 32)),
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	b, err := rtpio.Encode(pkt)
	if err != nil {
		return err
	}

	if _, err := s.socket.WriteTo(b, s.target); err != nil {
		return err
	}

	s.sink.Emit(stats.PacketTime{Entity: s.entity(), Frames: uint32(slot.Frames)})
	s.sink.Emit(stats.PacketSize{Entity: s.entity(), Bytes: len(b)})
	return nil
}
