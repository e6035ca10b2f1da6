package stats

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink is a many-producer, single-consumer fan-in of stats Events. Each
// Receiver/Sender holds one producer handle (Emit); the Supervisor drains
// the aggregate stream. Publishing never blocks: a full channel drops the
// event and logs a warning, so a stalled telemetry consumer can never stall
// the audio path.
type Sink struct {
	ch  chan Event
	log zerolog.Logger
}

// NewSink creates a Sink with the given channel capacity.
func NewSink(capacity int) *Sink {
	return &Sink{
		ch:  make(chan Event, capacity),
		log: log.With().Str("component", "stats").Logger(),
	}
}

// Emit publishes an event without blocking. Returns false if the event was
// dropped due to backpressure.
func (s *Sink) Emit(e Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		s.log.Warn().Str("entity", e.EntityID()).Str("event", typeName(e)).Msg("stats event dropped: sink backpressure")
		return false
	}
}

// Events returns the channel to range over for aggregated consumption.
func (s *Sink) Events() <-chan Event {
	return s.ch
}

// Close closes the underlying channel. Callers must ensure no producer
// calls Emit after Close.
func (s *Sink) Close() {
	close(s.ch)
}

func typeName(e Event) string {
	switch e.(type) {
	case VscCreated:
		return "VscCreated"
	case SenderCreated:
		return "SenderCreated"
	case SenderDestroyed:
		return "SenderDestroyed"
	case ReceiverCreated:
		return "ReceiverCreated"
	case ReceiverDestroyed:
		return "ReceiverDestroyed"
	case PacketReceived:
		return "PacketReceived"
	case PacketTime:
		return "PacketTime"
	case PacketSize:
		return "PacketSize"
	case MediaClockOffsetChanged:
		return "MediaClockOffsetChanged"
	case NetworkDelay:
		return "NetworkDelay"
	case MeasuredLinkOffset:
		return "MeasuredLinkOffset"
	case LostPackets:
		return "LostPackets"
	case LatePackets:
		return "LatePackets"
	case Muted:
		return "Muted"
	case OutOfOrderPacket:
		return "OutOfOrderPacket"
	case InconsistentTimestamp:
		return "InconsistentTimestamp"
	case MalformedRtpPacket:
		return "MalformedRtpPacket"
	case TimeTravellingPacket:
		return "TimeTravellingPacket"
	case PacketFromWrongSender:
		return "PacketFromWrongSender"
	case StaleIngress:
		return "StaleIngress"
	default:
		return "Unknown"
	}
}
