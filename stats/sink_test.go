package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkEmitAndDrain(t *testing.T) {
	s := NewSink(4)
	require.True(t, s.Emit(PacketReceived{Entity: Entity{ID: "rx-1"}, Seq: 7}))

	ev := <-s.Events()
	got, ok := ev.(PacketReceived)
	require.True(t, ok)
	assert.Equal(t, "rx-1", got.EntityID())
	assert.Equal(t, uint16(7), got.Seq)
}

func TestSinkDropsOnBackpressure(t *testing.T) {
	s := NewSink(1)
	require.True(t, s.Emit(PacketSize{Entity: Entity{ID: "tx-1"}, Bytes: 300}))
	// Channel is full; the next emit must not block.
	assert.False(t, s.Emit(PacketSize{Entity: Entity{ID: "tx-1"}, Bytes: 300}))
}

func TestSinkCloseEndsRange(t *testing.T) {
	s := NewSink(2)
	s.Emit(VscCreated{Entity: Entity{ID: "vsc"}})
	s.Close()

	var n int
	for range s.Events() {
		n++
	}
	assert.Equal(t, 1, n)
}
