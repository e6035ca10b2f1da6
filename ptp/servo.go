package ptp

import "sync/atomic"

// servo smooths raw offset samples (master-minus-local, nanoseconds) into a
// continuous time estimate via a simple proportional-integral controller,
// so a single noisy Sync/Follow_Up pair does not step the media clock.
// Exposes its integral (frequency) term read-only as Drift.
type servo struct {
	kp, ki float64

	freqPpb atomic.Int64 // integral term, in parts-per-billion, fixed-point *1e9
	offsNs  atomic.Int64 // last smoothed offset estimate, nanoseconds
	synced  atomic.Bool
}

func newServo() *servo {
	return &servo{kp: 0.7, ki: 0.3}
}

// sample feeds one raw offset measurement into the controller and returns
// the smoothed estimate to apply.
func (s *servo) sample(rawOffsetNs int64) int64 {
	prevFreq := float64(s.freqPpb.Load()) / 1e9
	prevOffs := s.offsNs.Load()

	// PI update: correction is proportional to the error between the raw
	// offset and the current estimate; the integral term accumulates a
	// fraction of the raw offset to track steady-state drift.
	correction := s.kp * float64(rawOffsetNs-prevOffs)
	newFreq := prevFreq + s.ki*float64(rawOffsetNs)/1e9
	s.freqPpb.Store(int64(newFreq * 1e9))

	smoothed := prevOffs + int64(correction)
	s.offsNs.Store(smoothed)
	s.synced.Store(true)
	return smoothed
}

// Offset returns the current smoothed master-minus-local offset in
// nanoseconds.
func (s *servo) Offset() int64 { return s.offsNs.Load() }

// Drift returns the controller's integral (frequency) term, in
// parts-per-billion: the measured, uncorrected clock drift.
func (s *servo) Drift() float64 { return float64(s.freqPpb.Load()) / 1e9 }

// Synced reports whether at least one offset sample has been applied.
func (s *servo) Synced() bool { return s.synced.Load() }
