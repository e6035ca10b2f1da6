package clock

import (
	"context"

	"github.com/aes67/govsc/ptp"
)

// EmbeddedSlave is a Clock backed by an in-process PTPv2 slave (package
// ptp) instead of an OS-disciplined system clock or a NIC's hardware PTP
// clock. It reads the local TAI clock and applies the slave's
// servo-smoothed offset, the same offset-application shape as PHC but
// sourced from ptp.Slave instead of a PHCReader.
type EmbeddedSlave struct {
	sampleRate uint32
	slave      *ptp.Slave
	readTAIFn  func() int64
}

// NewEmbeddedSlave constructs and starts a PTPv2 slave on the named
// interface/domain, ticking MediaTime at sampleRate.
func NewEmbeddedSlave(ctx context.Context, iface string, domain uint8, sampleRate uint32) (*EmbeddedSlave, error) {
	slave := ptp.NewSlave(iface, domain)
	if err := slave.Start(ctx); err != nil {
		return nil, &Error{Op: "start embedded ptp slave", Err: err}
	}
	return &EmbeddedSlave{
		sampleRate: sampleRate,
		slave:      slave,
		readTAIFn:  readTAI,
	}, nil
}

func (e *EmbeddedSlave) SampleRate() uint32 { return e.sampleRate }

func (e *EmbeddedSlave) Now() MediaTime {
	ns := e.readTAIFn() + e.slave.Offset()
	return nsToFrames(ns, e.sampleRate)
}

func (e *EmbeddedSlave) PTPMillis() uint64 {
	return uint64((e.readTAIFn() + e.slave.Offset()) / 1e6)
}

// Drift returns the embedded slave's measured clock drift
// (parts-per-billion). Measured and reported only, never corrected.
func (e *EmbeddedSlave) Drift() float64 { return e.slave.Drift() }

// Synced reports whether the embedded slave has completed at least one
// Sync/Follow_Up exchange.
func (e *EmbeddedSlave) Synced() bool { return e.slave.Synced() }

// Stop halts the embedded slave's goroutines and releases its multicast
// sockets.
func (e *EmbeddedSlave) Stop() { e.slave.Stop() }
