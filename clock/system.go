package clock

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// System reads the operating system's TAI clock directly. It is the right
// choice when an external PTP daemon (e.g. ptp4l + phc2sys) already
// disciplines the system clock.
type System struct {
	sampleRate uint32
	fault      atomic.Pointer[Error]
}

// NewSystem constructs a System clock ticking at sampleRate frames/second.
func NewSystem(sampleRate uint32) *System {
	return &System{sampleRate: sampleRate}
}

func (s *System) SampleRate() uint32 { return s.sampleRate }

func (s *System) Now() MediaTime {
	ns, err := s.readTAI()
	if err != nil {
		return 0
	}
	return nsToFrames(ns, s.sampleRate)
}

func (s *System) PTPMillis() uint64 {
	ns, err := s.readTAI()
	if err != nil {
		return 0
	}
	return uint64(ns / 1e6)
}

// Err returns the most recent clock_gettime(CLOCK_TAI) failure, if any.
// Now/PTPMillis cannot signal a failed read through their no-error
// signatures; owning Receivers/Senders poll Err() after every read instead
// and treat a non-nil result as fatal. Implements clock.FaultReporter.
func (s *System) Err() error {
	if e := s.fault.Load(); e != nil {
		return e
	}
	return nil
}

// readTAI reads CLOCK_TAI, recording any failure on s.fault for Err() to
// report.
func (s *System) readTAI() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_TAI, &ts); err != nil {
		e := &Error{Op: "clock_gettime(CLOCK_TAI): " + err.Error(), Err: ErrIO}
		s.fault.Store(e)
		return 0, e
	}
	return ts.Sec*1e9 + ts.Nsec, nil
}

// readTAI is the free-running TAI reader shared by PHC and EmbeddedSlave,
// which apply their own independently-maintained offset on top. A failed
// read returns 0 and is not reported; unlike System, calling code there
// never observes a read this function failed to take.
func readTAI() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_TAI, &ts); err != nil {
		return 0
	}
	return ts.Sec*1e9 + ts.Nsec
}

// ProbeTAI validates that CLOCK_TAI is readable on this host, returning
// *Error wrapping ErrIO on failure. Call once at Supervisor startup before
// constructing a System clock for production use.
func ProbeTAI() error {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_TAI, &ts); err != nil {
		return &Error{Op: "clock_gettime(CLOCK_TAI): " + err.Error(), Err: ErrIO}
	}
	return nil
}
