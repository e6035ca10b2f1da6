package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// PHCReader reads a NIC's hardware PTP clock (PHC) in nanoseconds since the
// PTP epoch. Actual ioctl/char-device access (e.g. /dev/ptp0,
// PTP_SYS_OFFSET) is an OS specific concern left to the caller's
// implementation; PHC only consumes the narrow interface.
type PHCReader interface {
	ReadPHC() (ns int64, err error)
}

// PHC is a Clock that reads the local TAI clock and applies a
// background-measured offset to an interface's hardware PTP clock:
//
//	offset = phc_ns - (tai1+tai2)/2
//
// re-sampled once a second via three consecutive reads (TAI, PHC, TAI).
type PHC struct {
	sampleRate uint32
	reader     PHCReader
	readTAIFn  func() int64

	offsetNs atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPHC constructs a PHC clock. It takes one synchronous sample
// immediately so Now() is usable before the background resampler's first
// tick, returning ErrPTPUnsupported (wrapped in *Error) if the initial
// sample fails.
func NewPHC(sampleRate uint32, reader PHCReader) (*PHC, error) {
	c := &PHC{
		sampleRate: sampleRate,
		reader:     reader,
		readTAIFn:  readTAI,
		done:       make(chan struct{}),
	}
	if err := c.sampleOnce(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.resampleLoop(ctx)
	return c, nil
}

func (c *PHC) sampleOnce() error {
	tai1 := c.readTAIFn()
	phc, err := c.reader.ReadPHC()
	if err != nil {
		return &Error{Op: "read PHC", Err: ErrPTPUnsupported}
	}
	tai2 := c.readTAIFn()

	mid := (tai1 + tai2) / 2
	c.offsetNs.Store(phc - mid)
	return nil
}

// resampleLoop re-samples the TAI<->PHC offset every second until Stop is
// called. A failed sample is skipped: transient PHC read failures should not
// step the clock backwards to zero.
func (c *PHC) resampleLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.sampleOnce()
		}
	}
}

// Stop halts the background resampler. Idempotent.
func (c *PHC) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *PHC) SampleRate() uint32 { return c.sampleRate }

func (c *PHC) Now() MediaTime {
	ns := c.readTAIFn() + c.offsetNs.Load()
	return nsToFrames(ns, c.sampleRate)
}

func (c *PHC) PTPMillis() uint64 {
	ns := c.readTAIFn() + c.offsetNs.Load()
	return uint64(ns / 1e6)
}

// Offset returns the currently applied TAI->PHC offset in nanoseconds, for
// stats/logging.
func (c *PHC) Offset() int64 { return c.offsetNs.Load() }
