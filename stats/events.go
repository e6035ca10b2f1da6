// Package stats defines the structured events the transport core emits and
// a best-effort, drop-on-full fan-in sink. Events are best-effort telemetry:
// dropping one under backpressure never affects the audio path.
package stats

import (
	"time"

	"github.com/aes67/govsc/clock"
)

// Event is a sealed tagged variant; only types defined in this package
// implement it. The set is closed on purpose: consumers switch over it
// exhaustively instead of walking a type hierarchy.
type Event interface {
	event()
	// EntityID identifies the Receiver/Sender/Supervisor session the event
	// pertains to, for fan-in routing and logging context.
	EntityID() string
}

// Entity carries the emitting session's id. Embedded in every event so the
// aggregated stream stays attributable after fan-in.
type Entity struct {
	ID string
}

func (Entity) event()             {}
func (e Entity) EntityID() string { return e.ID }

type VscCreated struct {
	Entity
}

type SenderCreated struct {
	Entity
	Label string
}

type SenderDestroyed struct {
	Entity
}

type ReceiverCreated struct {
	Entity
}

type ReceiverDestroyed struct {
	Entity
}

type PacketReceived struct {
	Entity
	Seq         uint16
	Len         int
	IngressTime clock.MediaTime
	MediaNow    clock.MediaTime
}

type PacketTime struct {
	Entity
	Frames uint32
}

type PacketSize struct {
	Entity
	Bytes int
}

type MediaClockOffsetChanged struct {
	Entity
	UnwrapOffset clock.MediaTime
	RTPTimestamp uint32
	// Drift is the owning clock's measured frequency drift in
	// parts-per-billion. Zero for Clock variants that cannot measure it.
	// Reported only; never applied as a correction.
	Drift float64
}

type NetworkDelay struct {
	Entity
	Delay time.Duration
}

type MeasuredLinkOffset struct {
	Entity
	Offset time.Duration
}

type LostPackets struct {
	Entity
	Seq uint16
	// Count is the receiver's cumulative lost-packet count.
	Count int
}

type LatePackets struct {
	Entity
	Seq uint16
	// Count is the receiver's cumulative late-packet count.
	Count int
}

type Muted struct {
	Entity
	Muted bool
}

type OutOfOrderPacket struct {
	Entity
	Seq      uint16
	Expected uint16
}

type InconsistentTimestamp struct {
	Entity
	Seq uint16
}

type MalformedRtpPacket struct {
	Entity
	Err string
}

type TimeTravellingPacket struct {
	Entity
	IngressTime clock.MediaTime
	MediaNow    clock.MediaTime
}

type PacketFromWrongSender struct {
	Entity
	Source string
}

// StaleIngress is emitted when a packet's ingress_time lies more than one
// buffer length in the past. Committing it would overwrite frames the host
// may not have read yet, so the packet is dropped instead.
type StaleIngress struct {
	Entity
	IngressTime clock.MediaTime
	MediaNow    clock.MediaTime
}
