// Package ring implements the SPSC ring buffers that hand audio between the
// network side (Receiver/Sender) and the host audio callback: RxBuffer
// (deinterleaved float32, network -> host) and TxBuffer (interleaved bytes,
// host -> network). Both are lock-free rings addressed by frame index
// modulo buffer length.
//
// A ring is never exposed as a single mutable type: NewRxBuffer returns a
// producer half and a consumer half, so SPSC ownership is enforced by the
// type system rather than by convention.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/sample"
)

// ErrInvalidChannelNumber is returned by Read when the caller supplies more
// destination slices than the buffer has channels.
var ErrInvalidChannelNumber = errors.New("ring: invalid channel number")

// ErrClosed is returned by Read once the buffer has been Closed.
var ErrClosed = errors.New("ring: buffer closed")

type rxCore struct {
	channels int
	length   int // S, samples per channel stripe
	format   sample.Format

	stripes [][]float32

	// watermark is the last frame index written (as an absolute,
	// unwrapped MediaTime), guarded only by atomic access: one writer,
	// one reader.
	watermark atomic.Uint64
	hasData   atomic.Bool

	// notify wakes a blocked consumer on every producer write. Capacity
	// 1: a pending notification is enough, the consumer always rechecks
	// the watermark itself.
	notify chan struct{}
	closed atomic.Bool
}

// RxProducer is the Receiver's exclusive write half of an RxBuffer.
type RxProducer struct{ core *rxCore }

// RxConsumer is the host callback's exclusive read half of an RxBuffer.
type RxConsumer struct{ core *rxCore }

// NewRxBuffer allocates a buffer for channels channels, one second of audio
// at sampleRate (S = sampleRate), decoding payloads in the given wire
// format, and returns its producer and consumer halves.
func NewRxBuffer(channels int, sampleRate uint32, format sample.Format) (*RxProducer, *RxConsumer) {
	core := &rxCore{
		channels: channels,
		length:   int(sampleRate),
		format:   format,
		stripes:  make([][]float32, channels),
		notify:   make(chan struct{}, 1),
	}
	for c := range core.stripes {
		core.stripes[c] = make([]float32, core.length)
	}
	return &RxProducer{core: core}, &RxConsumer{core: core}
}

// Write deinterleaves payload (wire-format PCM bytes) and stores it at
// stripe[c][(ingressTime+i) mod S] for each channel c and frame offset i.
// It is the Receiver's only mutation of the buffer.
func (p *RxProducer) Write(payload []byte, ingressTime clock.MediaTime) error {
	b := p.core
	frames, err := sample.FrameCount(payload, b.channels, b.format)
	if err != nil {
		return fmt.Errorf("ring: rx write: %w", err)
	}

	bps := b.format.BytesPerSample()
	for i := 0; i < frames; i++ {
		base := i * b.channels * bps
		idx := (int(ingressTime) + i) % b.length
		for c := 0; c < b.channels; c++ {
			off := base + c*bps
			b.stripes[c][idx] = sample.Decode(b.format, payload[off:off+bps])
		}
	}

	if frames > 0 {
		// Out-of-order network delivery can hand the producer an
		// ingressTime behind one it already wrote; the watermark must
		// only ever move forward.
		last := uint64(ingressTime) + uint64(frames) - 1
		for {
			cur := b.watermark.Load()
			if last <= cur {
				break
			}
			if b.watermark.CompareAndSwap(cur, last) {
				break
			}
		}
		b.hasData.Store(true)
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close unblocks any consumer waiting in Read: a Receiver dropping its
// producer half on shutdown lets the consumer observe the close and stop
// cleanly. Idempotent.
func (p *RxProducer) Close() {
	b := p.core
	if b.closed.CompareAndSwap(false, true) {
		close(b.notify)
	}
}

// Channels returns C, the configured channel count.
func (p *RxProducer) Channels() int { return p.core.channels }

// Watermark returns the last (absolute, unwrapped) frame index written so
// far, for link-offset/lateness measurement by the owning Receiver. Zero
// before the first Write.
func (p *RxProducer) Watermark() clock.MediaTime { return clock.MediaTime(p.core.watermark.Load()) }

// Read blocks until the watermark has reached egressTime+len(buffers[0])-1,
// then copies stripe[c][egressTime mod S ...] into each supplied buffer,
// handling the wraparound seam with a two-segment copy. If the caller
// supplies fewer buffers than the RxBuffer has channels, the remaining
// channels are simply not copied out; supplying more is an error.
//
// This is the only suspension point allowed in the host audio callback's
// path; it must complete within the callback's deadline.
func (c *RxConsumer) Read(buffers [][]float32, egressTime clock.MediaTime) error {
	b := c.core
	if len(buffers) > b.channels {
		return ErrInvalidChannelNumber
	}
	if len(buffers) == 0 {
		return nil
	}
	n := len(buffers[0])
	if n == 0 {
		return nil
	}

	required := uint64(egressTime) + uint64(n) - 1
	for b.watermark.Load() < required || !b.hasData.Load() {
		if b.closed.Load() {
			return ErrClosed
		}
		<-b.notify
	}

	start := int(egressTime) % b.length
	for ch, dst := range buffers {
		src := b.stripes[ch]
		if start+n <= b.length {
			copy(dst, src[start:start+n])
		} else {
			first := b.length - start
			copy(dst[:first], src[start:])
			copy(dst[first:], src[:n-first])
		}
	}
	return nil
}

// Channels returns C, the configured channel count.
func (c *RxConsumer) Channels() int { return c.core.channels }

// Length returns S, the per-channel stripe length in samples.
func (c *RxConsumer) Length() int { return c.core.length }
