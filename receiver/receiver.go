// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package receiver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/ring"
	"github.com/aes67/govsc/rtpio"
	"github.com/aes67/govsc/stats"
)

// Socket is the narrow read-side transport a Receiver needs. *net.UDPConn
// satisfies it.
type Socket interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Receiver subscribes to one multicast RTP/AVP audio stream, tracks the
// sender's clock against the local MediaClock, and writes admitted packets
// into an RxBuffer at the frame index their timestamp implies.
type Receiver struct {
	desc   descriptor.Rx
	clock  clock.Clock
	prod   *ring.RxProducer
	socket Socket
	sink   *stats.Sink
	log    zerolog.Logger

	state   atomic.Int32
	stopReq atomic.Bool
	done    chan struct{}

	// ingress state, touched only by the single ingress goroutine.
	haveLast     bool
	lastSeq      uint16
	lastTS32     uint32
	unwrapOffset clock.MediaTime

	skippedMu sync.Mutex
	skipped   map[clock.MediaTime]uint16
	lostCount int
	lateCount int

	// clockFault is non-nil when clk implements clock.FaultReporter
	// (currently only clock.System). A failing clock read is fatal to the
	// Receiver rather than silently feeding Now()==0 into calibration.
	clockFault clock.FaultReporter

	// delayAvg/linkOffsetAvg smooth per-packet/per-scan samples into the
	// periodic NetworkDelay/MeasuredLinkOffset reports, instead of emitting
	// one event per packet.
	delayAvg      *avgBuffer
	linkOffsetAvg *avgBuffer
}

// averageWindow is the number of samples folded into one NetworkDelay or
// MeasuredLinkOffset report.
const averageWindow = 1000

// Handle is returned by Start and lets the owner stop the Receiver.
type Handle struct {
	r *Receiver
}

// Start launches the Receiver's single-threaded ingress goroutine. It owns
// socket and prod for its lifetime.
func Start(desc descriptor.Rx, clk clock.Clock, prod *ring.RxProducer, socket Socket, sink *stats.Sink) (*Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	r := &Receiver{
		desc:    desc,
		clock:   clk,
		prod:    prod,
		socket:  socket,
		sink:    sink,
		log:     log.With().Str("component", "receiver").Str("session", desc.ID).Logger(),
		done:    make(chan struct{}),
		skipped: make(map[clock.MediaTime]uint16),

		delayAvg:      newAvgBuffer(averageWindow),
		linkOffsetAvg: newAvgBuffer(averageWindow),
	}
	r.clockFault, _ = clk.(clock.FaultReporter)
	r.state.Store(int32(stateRunning))

	sink.Emit(stats.ReceiverCreated{Entity: r.entity()})
	go r.run()

	return &Handle{r: r}, nil
}

// ScanSkipped delegates to the underlying Receiver's ScanSkipped, for the
// Supervisor's periodic playout scan.
func (h *Handle) ScanSkipped(now clock.MediaTime) {
	h.r.ScanSkipped(now)
}

// Stop requests cooperative shutdown: in-flight packets already read are
// processed, but no new read is started. Idempotent; a second call is a
// no-op.
func (h *Handle) Stop() {
	r := h.r
	if !r.stopReq.CompareAndSwap(false, true) {
		<-r.done
		return
	}
	r.state.Store(int32(stateStopping))
	r.socket.SetReadDeadline(time.Now())
	<-r.done
	r.state.Store(int32(stateStopped))
}

func (r *Receiver) entity() stats.Entity { return stats.Entity{ID: r.desc.ID} }

func (r *Receiver) run() {
	defer close(r.done)
	defer r.prod.Close()
	defer r.sink.Emit(stats.ReceiverDestroyed{Entity: r.entity()})

	buf := make([]byte, rtpio.MaxPacketBytes)
	for {
		if r.stopReq.Load() {
			return
		}

		n, addr, err := r.socket.ReadFrom(buf)
		if err != nil {
			if r.stopReq.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Socket I/O other than a timeout is fatal.
			r.log.Error().Err(err).Msg("receiver socket fatal error")
			return
		}

		r.handlePacket(buf[:n], addr)

		// A clock read that failed mid-ingress poisons every ingress_time
		// derived from it: fatal, not a per-packet drop.
		if r.clockFault != nil {
			if cerr := r.clockFault.Err(); cerr != nil {
				r.log.Error().Err(cerr).Msg("media clock read failed, stopping receiver")
				return
			}
		}
	}
}

func (r *Receiver) handlePacket(raw []byte, addr net.Addr) {
	// Step 1: origin check.
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || !udpAddr.IP.Equal(r.desc.OriginIP) {
		src := ""
		if udpAddr != nil {
			src = udpAddr.IP.String()
		}
		r.sink.Emit(stats.PacketFromWrongSender{Entity: r.entity(), Source: src})
		return
	}

	// Step 2: parse.
	var pkt rtp.Packet
	if err := rtpio.Decode(raw, &pkt); err != nil {
		r.sink.Emit(stats.MalformedRtpPacket{Entity: r.entity(), Err: err.Error()})
		return
	}

	seq := pkt.SequenceNumber
	ts32 := pkt.Timestamp
	payloadFrames := r.desc.PayloadFrames()

	needsCalibration := !r.haveLast

	// Step 3: order/consistency check against the prior packet.
	if r.haveLast {
		expectedSeq := r.lastSeq + 1
		if seq != expectedSeq {
			seqDelta := int16(seq - expectedSeq)
			expectedTS32 := r.lastTS32 + payloadFrames
			tsOffset := uint32(int32(seqDelta) * int32(payloadFrames))
			expectedTSForSeq := expectedTS32 + tsOffset

			if ts32 != expectedTSForSeq {
				r.sink.Emit(stats.InconsistentTimestamp{Entity: r.entity(), Seq: seq})
				return
			}

			r.sink.Emit(stats.OutOfOrderPacket{Entity: r.entity(), Seq: seq, Expected: expectedSeq})
			r.registerGap(expectedSeq, seq, expectedTS32, payloadFrames)
		} else if seq < r.lastSeq {
			// Clean 16-bit sequence wrap (0xFFFF -> 0x0000): re-derive the
			// unwrap offset, same trigger as the first packet.
			needsCalibration = true
		}

		if ts32 < r.lastTS32 {
			// ts32 < last_ts32 happens both on a genuine 32-bit wrap
			// (0xFFFFFFFE -> 0x00000001) and on an ordinary out-of-order
			// packet carrying an older timestamp. Distinguish them by the
			// *signed* wrapped delta: a real wrap looks like a small
			// positive step when reinterpreted mod 2^32; a backward
			// reorder looks like a small negative step.
			if int32(ts32-r.lastTS32) >= 0 {
				needsCalibration = true
			}
		}
	}

	// Step 4: timestamp calibration.
	var mediaNow clock.MediaTime
	if needsCalibration {
		mediaNow = r.clock.Now()
		if uint32(mediaNow%(1<<32)) < ts32 {
			// clock wrap/race: skip calibration this time.
		} else {
			r.unwrapOffset = clock.MediaTime((uint64(mediaNow) / (1 << 32)) * (1 << 32))
			r.sink.Emit(stats.MediaClockOffsetChanged{Entity: r.entity(), UnwrapOffset: r.unwrapOffset, RTPTimestamp: ts32, Drift: r.driftPPB()})
		}
	} else {
		mediaNow = r.clock.Now()
	}

	r.dropFromSkipped(seq, mediaNow)

	r.haveLast = true
	r.lastSeq = seq
	r.lastTS32 = ts32

	// Step 5: ingress_time.
	ingressTime := r.unwrapOffset + clock.MediaTime(ts32) - clock.MediaTime(r.desc.RTPOffset)

	// Step 6.
	r.sink.Emit(stats.PacketReceived{Entity: r.entity(), Seq: seq, Len: len(raw), IngressTime: ingressTime, MediaNow: mediaNow})

	// Step 7: time-travelling / far-past packets.
	if ingressTime > mediaNow {
		r.sink.Emit(stats.TimeTravellingPacket{Entity: r.entity(), IngressTime: ingressTime, MediaNow: mediaNow})
		r.recalibrate(mediaNow)
		return
	}
	if bufferLen := uint64(r.clock.SampleRate()); uint64(mediaNow)-uint64(ingressTime) > bufferLen {
		// Committing would overwrite frames up to a full buffer cycle
		// newer than this packet. Drop instead.
		r.sink.Emit(stats.StaleIngress{Entity: r.entity(), IngressTime: ingressTime, MediaNow: mediaNow})
		return
	}

	// Step 8: commit to the buffer.
	if err := r.prod.Write(pkt.Payload, ingressTime); err != nil {
		r.log.Warn().Err(err).Msg("rx buffer write failed")
	}

	r.sampleNetworkDelay(mediaNow, ingressTime, payloadFrames)
}

// sampleNetworkDelay folds this packet's delay (how far mediaNow has run
// ahead of the frame it just delivered, net of its own packet_time) into
// the rolling average, emitting stats.NetworkDelay once per averageWindow
// samples.
func (r *Receiver) sampleNetworkDelay(mediaNow, ingressTime clock.MediaTime, payloadFrames uint32) {
	delayFrames := int64(mediaNow) - int64(ingressTime) - int64(payloadFrames)
	avg, ready := r.delayAvg.update(delayFrames)
	if !ready {
		return
	}
	delay := framesToDuration(avg, r.desc.SampleRate)
	r.sink.Emit(stats.NetworkDelay{Entity: r.entity(), Delay: delay})
}

func framesToDuration(frames int64, sampleRate uint32) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// recalibrate re-derives unwrap_offset from the current media clock after a
// time-travelling packet.
func (r *Receiver) recalibrate(mediaNow clock.MediaTime) {
	r.unwrapOffset = clock.MediaTime((uint64(mediaNow) / (1 << 32)) * (1 << 32))
}

// driftPPB reports the owning clock's measured drift if it implements
// clock.DriftReporter (currently only clock.EmbeddedSlave), for attaching to
// MediaClockOffsetChanged; zero otherwise. Drift is surfaced, never used to
// correct unwrapOffset.
func (r *Receiver) driftPPB() float64 {
	if dr, ok := r.clock.(clock.DriftReporter); ok {
		return dr.Drift()
	}
	return 0
}

// registerGap records every sequence number from expectedSeq up to, but not
// including, seq as skipped-but-expected, keyed by the ingress_time
// each would have had, so a later playout scan can distinguish lost from
// late packets.
func (r *Receiver) registerGap(expectedSeq, seq uint16, expectedTS32 uint32, payloadFrames uint32) {
	r.skippedMu.Lock()
	defer r.skippedMu.Unlock()

	gap := seq - expectedSeq
	if gap == 0 || gap > 0x8000 {
		return // seq precedes expectedSeq: not a forward gap, nothing to register
	}
	for i := uint16(0); i < gap; i++ {
		missingSeq := expectedSeq + i
		missingTS32 := expectedTS32 + payloadFrames*uint32(i)
		ingressTime := r.unwrapOffset + clock.MediaTime(missingTS32) - clock.MediaTime(r.desc.RTPOffset)
		r.skipped[ingressTime] = missingSeq
	}
}

// dropFromSkipped clears a skipped-but-expected entry once its sequence
// number finally arrives. If it arrived after its playout margin
// (link_offset) had already elapsed, the host has already read past that
// frame: report it as stats.LatePackets rather than dropping it silently.
func (r *Receiver) dropFromSkipped(seq uint16, mediaNow clock.MediaTime) {
	r.skippedMu.Lock()
	defer r.skippedMu.Unlock()
	for t, s := range r.skipped {
		if s != seq {
			continue
		}
		delete(r.skipped, t)
		if mediaNow > t && uint64(mediaNow-t) > uint64(r.desc.LinkOffsetFrames()) {
			r.lateCount++
			r.sink.Emit(stats.LatePackets{Entity: r.entity(), Seq: seq, Count: r.lateCount})
		}
		return
	}
}

// ScanSkipped classifies skipped entries as lost once they are older than
// two packet_time windows (never arrived in time to be used), emitting
// stats.LostPackets and removing them; it also folds the RxBuffer's current
// watermark against this receiver's link_offset into the rolling
// MeasuredLinkOffset average. Called periodically by the Supervisor with
// its own clock reading.
func (r *Receiver) ScanSkipped(now clock.MediaTime) {
	window := clock.MediaTime(2 * r.desc.PayloadFrames())
	// Near startup, now hasn't yet advanced a full window past zero:
	// MediaTime is unsigned, so now-window would wrap instead of going
	// negative. Nothing can be stale yet in that case.
	if now >= window {
		lostHorizon := now - window

		r.skippedMu.Lock()
		for t, seq := range r.skipped {
			if t < lostHorizon {
				delete(r.skipped, t)
				r.lostCount++
				r.sink.Emit(stats.LostPackets{Entity: r.entity(), Seq: seq, Count: r.lostCount})
			}
		}
		r.skippedMu.Unlock()
	}

	r.sampleLinkOffset(now)
}

// sampleLinkOffset estimates how much margin the configured link_offset is
// actually buying: the assumed host playout position (now minus
// link_offset) subtracted from the RxBuffer's write watermark. The playout
// position is approximated from link_offset; the host integration owning
// the real playout timestamp lives outside this process.
func (r *Receiver) sampleLinkOffset(now clock.MediaTime) {
	playoutPoint := now - clock.MediaTime(r.desc.LinkOffsetFrames())
	dataReady := int64(r.prod.Watermark()) - int64(playoutPoint)

	avg, ready := r.linkOffsetAvg.update(dataReady)
	if !ready {
		return
	}
	r.sink.Emit(stats.MeasuredLinkOffset{Entity: r.entity(), Offset: framesToDuration(avg, r.desc.SampleRate)})
}
