package ring

import (
	"errors"
	"fmt"

	"github.com/aes67/govsc/clock"
	"github.com/aes67/govsc/sample"
)

// Slot describes one write into a TxBuffer: the producer (host callback)
// converts floats to wire bytes, stores them at byte offset, and announces
// (len, frames, ingress_time) to the consumer (Sender egress) via the
// bounded Slots channel.
type Slot struct {
	Offset      int
	Len         int
	Frames      int
	IngressTime clock.MediaTime
}

type txCore struct {
	channels int
	format   sample.Format
	bytes    []byte

	writeOff int
	slots    chan Slot
}

// TxProducer is the host callback's exclusive write half of a TxBuffer.
type TxProducer struct{ core *txCore }

// TxConsumer is the Sender's exclusive read half of a TxBuffer.
type TxConsumer struct{ core *txCore }

// NewTxBuffer allocates a byte ring sized for one second of interleaved
// audio at sampleRate, channels and format, with a bounded slot-handoff
// channel of the given capacity, and returns its producer and consumer
// halves.
func NewTxBuffer(channels int, sampleRate uint32, format sample.Format, slotCapacity int) (*TxProducer, *TxConsumer) {
	bpf := sample.BytesPerFrame(channels, format)
	core := &txCore{
		channels: channels,
		format:   format,
		bytes:    make([]byte, bpf*int(sampleRate)),
		slots:    make(chan Slot, slotCapacity),
	}
	return &TxProducer{core: core}, &TxConsumer{core: core}
}

// Write encodes frames deinterleaved float32 buffers (one per channel) into
// the ring, then hands the resulting slot to the Sender. frames must be <=
// one second's worth of audio. This is the host callback's only mutation of
// the buffer.
func (p *TxProducer) Write(buffers [][]float32, ingressTime clock.MediaTime) error {
	b := p.core
	if len(buffers) != b.channels {
		return fmt.Errorf("ring: tx write: expected %d channel buffers, got %d", b.channels, len(buffers))
	}
	frames := 0
	if len(buffers) > 0 {
		frames = len(buffers[0])
	}
	bpf := sample.BytesPerFrame(b.channels, b.format)
	needed := frames * bpf
	if needed > len(b.bytes) {
		return ErrTxBufferFull
	}

	bps := b.format.BytesPerSample()
	off := b.writeOff
	for i := 0; i < frames; i++ {
		for c := 0; c < b.channels; c++ {
			pos := (off + i*bpf + c*bps) % len(b.bytes)
			b.encodeAt(pos, buffers[c][i])
		}
	}
	b.writeOff = (off + needed) % len(b.bytes)

	slot := Slot{Offset: off, Len: needed, Frames: frames, IngressTime: ingressTime}
	select {
	case b.slots <- slot:
		return nil
	default:
		return fmt.Errorf("ring: tx slot channel full, sender egress stalled")
	}
}

// encodeAt writes one sample's bytes starting at pos, handling the
// byte-level wraparound a frame can straddle at the buffer seam.
func (b *txCore) encodeAt(pos int, v float32) {
	bps := b.format.BytesPerSample()
	if pos+bps <= len(b.bytes) {
		sample.Encode(b.format, v, b.bytes[pos:pos+bps])
		return
	}
	var tmp [3]byte
	sample.Encode(b.format, v, tmp[:bps])
	first := len(b.bytes) - pos
	copy(b.bytes[pos:], tmp[:first])
	copy(b.bytes[:bps-first], tmp[first:bps])
}

// Close closes the slot channel, causing the Sender's egress loop to
// observe channel-closed and stop cleanly.
func (p *TxProducer) Close() {
	close(p.core.slots)
}

// Slots returns the channel the Sender's egress goroutine consumes from.
func (c *TxConsumer) Slots() <-chan Slot {
	return c.core.slots
}

// Bytes returns the byte slice backing slot data for the given Slot,
// handling the wraparound two-segment read.
func (c *TxConsumer) Bytes(s Slot) []byte {
	b := c.core
	if s.Offset+s.Len <= len(b.bytes) {
		return b.bytes[s.Offset : s.Offset+s.Len]
	}
	out := make([]byte, s.Len)
	first := len(b.bytes) - s.Offset
	copy(out, b.bytes[s.Offset:])
	copy(out[first:], b.bytes[:s.Len-first])
	return out
}

// ErrTxBufferFull is returned by Write when the requested frames need more
// bytes than the whole ring holds. Write does not track which earlier slots
// the consumer has read, so a write can overwrite unread slot data.
var ErrTxBufferFull = errors.New("ring: tx buffer full")
