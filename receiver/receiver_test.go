// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package receiver

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/ring"
	"github.com/aes67/govsc/sample"
	"github.com/aes67/govsc/stats"
)

// fakeClock is a MediaClock test double with a directly settable frame
// count, so ingress scenarios can pin "now" independently of wall time.
type fakeClock struct {
	now        atomic.Uint64
	sampleRate uint32
}

func newFakeClock(sampleRate uint32) *fakeClock {
	c := &fakeClock{sampleRate: sampleRate}
	return c
}

func (c *fakeClock) Now() clock.MediaTime { return clock.MediaTime(c.now.Load()) }
func (c *fakeClock) Set(v uint64)         { c.now.Store(v) }
func (c *fakeClock) PTPMillis() uint64    { return 0 }
func (c *fakeClock) SampleRate() uint32   { return c.sampleRate }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type queuedPkt struct {
	data []byte
	addr net.Addr
}

// fakeSocket is a Socket test double: a buffered queue of incoming packets,
// with SetReadDeadline(anything) modelling the Receiver's shutdown signal
// by unblocking a pending ReadFrom with a timeout error.
type fakeSocket struct {
	pkts    chan queuedPkt
	unblock chan struct{}
}

func newFakeSocket(capacity int) *fakeSocket {
	return &fakeSocket{
		pkts:    make(chan queuedPkt, capacity),
		unblock: make(chan struct{}),
	}
}

func (s *fakeSocket) push(data []byte, from net.IP) {
	s.pkts <- queuedPkt{data: data, addr: &net.UDPAddr{IP: from, Port: 5004}}
}

func (s *fakeSocket) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-s.pkts:
		return copy(b, p.data), p.addr, nil
	case <-s.unblock:
		return 0, nil, timeoutErr{}
	}
}

func (s *fakeSocket) SetReadDeadline(time.Time) error {
	select {
	case <-s.unblock:
	default:
		close(s.unblock)
	}
	return nil
}

func (s *fakeSocket) Close() error { return nil }

const testOriginIP = "239.1.1.1"

func testDescriptor() descriptor.Rx {
	return descriptor.Rx{
		ID:           "rx-test",
		OriginIP:     net.ParseIP("10.0.0.5"),
		Destination:  net.UDPAddr{IP: net.ParseIP(testOriginIP), Port: 5004},
		PayloadType:  97,
		PacketTime:   time.Millisecond,
		Channels:     1,
		SampleFormat: sample.L16,
		SampleRate:   48000,
		RTPOffset:    0,
		LinkOffset:   5 * time.Millisecond,
	}
}

func encodePacket(t *testing.T, seq uint16, ts32 uint32, frames int) []byte {
	t.Helper()
	payload := make([]byte, frames*2)
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    97,
			SequenceNumber: seq,
			Timestamp:      ts32,
			SSRC:           0xC0FFEE,
		},
		Payload: payload,
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)
	return b
}

func drainEvent[T stats.Event](t *testing.T, sink *stats.Sink, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-sink.Events():
			if v, ok := e.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for event %T", zero)
			return zero
		}
	}
}

func TestReceiverHappyPath(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	clk.Set(1000)
	prod, cons := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(4)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)

	sock.push(encodePacket(t, 1000, 48, 48), net.ParseIP("10.0.0.5"))

	got := drainEvent[stats.PacketReceived](t, sink, time.Second)
	assert.Equal(t, uint16(1000), got.Seq)
	assert.Equal(t, clock.MediaTime(48), got.IngressTime)

	dst := [][]float32{make([]float32, 48)}
	require.NoError(t, cons.Read(dst, 48))
}

func TestReceiverRejectsWrongOrigin(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	clk.Set(1_000_000)
	prod, _ := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(4)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)
	sock.push(encodePacket(t, 1, 48, 48), net.ParseIP("192.168.9.9"))

	evt := drainEvent[stats.PacketFromWrongSender](t, sink, time.Second)
	assert.Equal(t, "192.168.9.9", evt.Source)
}

func TestReceiverOutOfOrder(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	prod, cons := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(8)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)

	origin := net.ParseIP("10.0.0.5")
	// media clock tracks just ahead of each packet's derived ingress_time,
	// as it would in a live deployment.
	clk.Set(530)
	sock.push(encodePacket(t, 10, 480, 48), origin)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	// seq 12 arrives before seq 11: classified as out-of-order, not dropped.
	clk.Set(480 + 96 + 50)
	sock.push(encodePacket(t, 12, 480+96, 48), origin)
	ooo := drainEvent[stats.OutOfOrderPacket](t, sink, time.Second)
	assert.Equal(t, uint16(12), ooo.Seq)
	assert.Equal(t, uint16(11), ooo.Expected)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	// the late seq 11 then arrives and is admitted too.
	clk.Set(480 + 48 + 50)
	sock.push(encodePacket(t, 11, 480+48, 48), origin)
	ooo2 := drainEvent[stats.OutOfOrderPacket](t, sink, time.Second)
	assert.Equal(t, uint16(11), ooo2.Seq)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	dst := [][]float32{make([]float32, 48)}
	require.NoError(t, cons.Read(dst, 480))
}

func TestReceiverTimestampWrap(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	prod, _ := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(8)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)

	origin := net.ParseIP("10.0.0.5")
	// media clock tracks just ahead of each packet's ts32, carried across
	// the 2^32 boundary the same way a real PTP-referenced clock would.
	clk.Set(4294967200 + 10)
	sock.push(encodePacket(t, 1, 4294967200, 48), origin)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	clk.Set(4294967248 + 10)
	sock.push(encodePacket(t, 2, 4294967248, 48), origin)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	// ts32 wraps past 2^32-1 back to 48: genuine wrap, not a reorder.
	clk.Set((uint64(1) << 32) + 58)
	sock.push(encodePacket(t, 3, 48, 48), origin)
	recalib := drainEvent[stats.MediaClockOffsetChanged](t, sink, time.Second)
	assert.Equal(t, uint32(48), recalib.RTPTimestamp)
	got := drainEvent[stats.PacketReceived](t, sink, time.Second)
	assert.Equal(t, uint16(3), got.Seq)
}

func TestReceiverInconsistentTimestampDropped(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	clk.Set(1_000_000)
	prod, _ := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(8)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)

	origin := net.ParseIP("10.0.0.5")
	sock.push(encodePacket(t, 1, 480, 48), origin)
	drainEvent[stats.PacketReceived](t, sink, time.Second)

	// seq jumps to 3 but ts32 doesn't match any consistent forward offset.
	sock.push(encodePacket(t, 3, 999999, 48), origin)
	evt := drainEvent[stats.InconsistentTimestamp](t, sink, time.Second)
	assert.Equal(t, uint16(3), evt.Seq)
}

func TestReceiverTimeTravellingPacket(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	clk.Set(100) // media clock far behind the packet's derived ingress_time
	prod, _ := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(4)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)
	defer h.Stop()

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)
	sock.push(encodePacket(t, 1, 50_000, 48), net.ParseIP("10.0.0.5"))

	evt := drainEvent[stats.TimeTravellingPacket](t, sink, time.Second)
	assert.Equal(t, clock.MediaTime(100), evt.MediaNow)
}

func TestReceiverStopDrainsAndUnblocks(t *testing.T) {
	desc := testDescriptor()
	clk := newFakeClock(48000)
	clk.Set(1_000_000)
	prod, _ := ring.NewRxBuffer(1, 48000, sample.L16)
	sock := newFakeSocket(4)
	sink := stats.NewSink(32)

	h, err := Start(desc, clk, prod, sock, sink)
	require.NoError(t, err)

	drainEvent[stats.ReceiverCreated](t, sink, time.Second)

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	drainEvent[stats.ReceiverDestroyed](t, sink, time.Second)
}
