// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package supervisor owns the lifecycles of Receivers and Senders, wires
// each to a shared per-interface MediaClock and a socket adapter, and
// aggregates their stats into one stream.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/netio"
	"github.com/aes67/govsc/receiver"
	"github.com/aes67/govsc/ring"
	"github.com/aes67/govsc/sender"
	"github.com/aes67/govsc/stats"
)

// ShutdownGrace bounds how long Destroy waits for a cooperative stop before
// giving up.
const ShutdownGrace = 2 * time.Second

var (
	// ErrUnknownID is returned by Destroy for an id the Supervisor does not
	// own.
	ErrUnknownID = errors.New("supervisor: unknown entity id")
	// ErrStopTimeout is returned when an entity did not stop within
	// ShutdownGrace. The entity is still considered destroyed: its
	// bookkeeping is removed regardless, and peer entities are left
	// undisturbed.
	ErrStopTimeout = errors.New("supervisor: entity did not stop within grace period")
)

// ClockConfig selects which MediaClock variant new Receivers/Senders on a
// given interface should share.
type ClockConfig struct {
	SampleRate uint32
	// Kind selects System, PHC or EmbeddedSlave. PHCReader/PTPDomain are
	// only consulted for the matching Kind.
	Kind      ClockKind
	PHCReader clock.PHCReader
	PTPDomain uint8
}

type ClockKind int

const (
	ClockSystem ClockKind = iota
	ClockPHC
	ClockEmbeddedSlave
)

// RxHandle is returned by CreateReceiver: the consumer half for the host
// audio callback plus the id used to Destroy it later.
type RxHandle struct {
	ID       string
	Consumer *ring.RxConsumer
}

// TxHandle is returned by CreateSender: the producer half for the host
// audio callback plus the id used to Destroy it later.
type TxHandle struct {
	ID       string
	Producer *ring.TxProducer
}

type receiverEntry struct {
	handle *receiver.Handle
	iface  string
	clk    clock.Clock
}

type senderEntry struct {
	handle   *sender.Handle
	producer *ring.TxProducer
	iface    string
}

// Supervisor owns Receiver/Sender lifecycles keyed by session id, one
// shared MediaClock per network interface, and the aggregated stats sink.
// It is the only place holding ambient state (clocks, entity maps); child
// entities receive what they need by construction, never by reaching into
// a global.
type Supervisor struct {
	mu        sync.Mutex
	clocks    map[string]clock.Clock
	receivers map[string]*receiverEntry
	senders   map[string]*senderEntry

	sink *stats.Sink
	log  zerolog.Logger

	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// New constructs an empty Supervisor with a stats sink of the given
// channel capacity.
func New(sinkCapacity int) *Supervisor {
	s := &Supervisor{
		clocks:    make(map[string]clock.Clock),
		receivers: make(map[string]*receiverEntry),
		senders:   make(map[string]*senderEntry),
		sink:      stats.NewSink(sinkCapacity),
		log:       log.With().Str("component", "supervisor").Logger(),
	}
	s.sink.Emit(stats.VscCreated{Entity: stats.Entity{ID: "vsc"}})

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scanDone = make(chan struct{})
	go s.scanLoop(ctx)
	return s
}

// Stats returns the aggregated event stream; callers should range over it
// until Shutdown is called.
func (s *Supervisor) Stats() <-chan stats.Event { return s.sink.Events() }

// clockFor returns the shared Clock for an interface, constructing it
// lazily on first use: multiple Receivers/Senders on the same interface
// share a single PHC-offset sampler rather than each re-measuring it
// independently.
func (s *Supervisor) clockFor(iface string, cfg ClockConfig) (clock.Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clocks[iface]; ok {
		return c, nil
	}

	var c clock.Clock
	switch cfg.Kind {
	case ClockSystem:
		c = clock.NewSystem(cfg.SampleRate)
	case ClockPHC:
		phc, err := clock.NewPHC(cfg.SampleRate, cfg.PHCReader)
		if err != nil {
			return nil, err
		}
		c = phc
	case ClockEmbeddedSlave:
		es, err := clock.NewEmbeddedSlave(context.Background(), iface, cfg.PTPDomain, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		c = es
	default:
		return nil, fmt.Errorf("supervisor: unknown clock kind %d", cfg.Kind)
	}

	s.clocks[iface] = c
	return c, nil
}

// CreateReceiver starts a Receiver for desc, joining its multicast group on
// desc.Interface and sharing that interface's MediaClock (constructed per
// cfg on first use). Returns the host-facing RxHandle.
func (s *Supervisor) CreateReceiver(desc descriptor.Rx, cfg ClockConfig) (*RxHandle, error) {
	if desc.ID == "" {
		desc.ID = xid.New().String()
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	clk, err := s.clockFor(desc.Interface, cfg)
	if err != nil {
		return nil, err
	}

	sock, err := netio.ListenMulticast(desc.Interface, desc.Destination.IP, desc.Destination.Port)
	if err != nil {
		return nil, err
	}

	prod, cons := ring.NewRxBuffer(desc.Channels, desc.SampleRate, desc.SampleFormat)
	h, err := receiver.Start(desc, clk, prod, sock, s.sink)
	if err != nil {
		sock.Close()
		return nil, err
	}

	s.mu.Lock()
	s.receivers[desc.ID] = &receiverEntry{handle: h, iface: desc.Interface, clk: clk}
	s.mu.Unlock()

	return &RxHandle{ID: desc.ID, Consumer: cons}, nil
}

// CreateSender starts a Sender for desc, dialing a socket bound on
// ifaceIP and sharing desc.Interface's MediaClock. Returns the host-facing
// TxHandle.
func (s *Supervisor) CreateSender(desc descriptor.Tx, ifaceIP net.IP, cfg ClockConfig, txSlotCapacity int) (*TxHandle, error) {
	if desc.ID == "" {
		desc.ID = xid.New().String()
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	clk, err := s.clockFor(desc.Interface, cfg)
	if err != nil {
		return nil, err
	}

	sock, err := netio.DialSender(ifaceIP, desc.TTL)
	if err != nil {
		return nil, err
	}

	prod, cons := ring.NewTxBuffer(desc.Channels, desc.SampleRate, desc.SampleFormat, txSlotCapacity)
	h, err := sender.Start(desc, clk, cons, sock, s.sink)
	if err != nil {
		sock.Close()
		return nil, err
	}

	s.mu.Lock()
	s.senders[desc.ID] = &senderEntry{handle: h, producer: prod, iface: desc.Interface}
	s.mu.Unlock()

	return &TxHandle{ID: desc.ID, Producer: prod}, nil
}

// Destroy stops and removes the Receiver or Sender identified by id. For a
// Sender, the TxBuffer's producer (host side) is closed before the
// Sender's own Stop() is awaited: the host I/O side is torn down before
// the core side, so the audio callback releases the buffer before the
// buffer is dropped. For a Receiver, the symmetric order is the caller's
// responsibility: the host callback consuming the RxConsumer must stop
// calling Read before Destroy is invoked, since the host side there is a
// plain value with no lifecycle of its own.
func (s *Supervisor) Destroy(id string) error {
	s.mu.Lock()
	re, isRx := s.receivers[id]
	se, isTx := s.senders[id]
	s.mu.Unlock()

	switch {
	case isRx:
		return s.destroyReceiver(id, re)
	case isTx:
		return s.destroySender(id, se)
	default:
		return ErrUnknownID
	}
}

func (s *Supervisor) destroyReceiver(id string, re *receiverEntry) error {
	done := make(chan struct{})
	go func() {
		re.handle.Stop()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		s.log.Warn().Str("session", id).Msg("receiver stop exceeded grace period")
		err = ErrStopTimeout
	}

	s.mu.Lock()
	delete(s.receivers, id)
	s.mu.Unlock()
	return err
}

func (s *Supervisor) destroySender(id string, se *senderEntry) error {
	// Host side first: close the producer the host callback writes into,
	// which unblocks the Sender's egress loop via the closed Slots channel.
	se.producer.Close()

	done := make(chan struct{})
	go func() {
		se.handle.Stop()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		s.log.Warn().Str("session", id).Msg("sender stop exceeded grace period")
		err = ErrStopTimeout
	}

	s.mu.Lock()
	delete(s.senders, id)
	s.mu.Unlock()
	return err
}

// Shutdown stops every owned Receiver/Sender, halts any shared PHC/embedded
// clocks, and closes the stats sink. Intended for process exit.
func (s *Supervisor) Shutdown() {
	s.scanCancel()
	<-s.scanDone

	s.mu.Lock()
	ids := make([]string, 0, len(s.receivers)+len(s.senders))
	for id := range s.receivers {
		ids = append(ids, id)
	}
	for id := range s.senders {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Destroy(id)
	}

	s.mu.Lock()
	for _, c := range s.clocks {
		switch cc := c.(type) {
		case *clock.PHC:
			cc.Stop()
		case *clock.EmbeddedSlave:
			cc.Stop()
		}
	}
	s.mu.Unlock()

	s.sink.Close()
}

// scanLoop periodically triggers each Receiver's ScanSkipped, classifying
// long-unresolved reorder gaps as lost packets.
func (s *Supervisor) scanLoop(ctx context.Context) {
	defer close(s.scanDone)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAll()
		}
	}
}

func (s *Supervisor) scanAll() {
	s.mu.Lock()
	entries := make([]*receiverEntry, 0, len(s.receivers))
	for _, re := range s.receivers {
		entries = append(entries, re)
	}
	s.mu.Unlock()

	for _, re := range entries {
		re.handle.ScanSkipped(re.clk.Now())
	}
}
