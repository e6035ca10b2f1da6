package ring

import (
	"testing"
	"time"

	"github.com/aes67/govsc/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrames(t *testing.T, channels int, frames int, f sample.Format, gen func(c, i int) float32) []byte {
	t.Helper()
	bps := f.BytesPerSample()
	out := make([]byte, frames*channels*bps)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * bps
			sample.Encode(f, gen(c, i), out[off:off+bps])
		}
	}
	return out
}

func TestRxBufferHappyPath(t *testing.T) {
	prod, cons := NewRxBuffer(2, 48000, sample.L24)
	payload := encodeFrames(t, 2, 48, sample.L24, func(c, i int) float32 { return 0 })

	require.NoError(t, prod.Write(payload, 4800))

	dst := make([][]float32, 2)
	dst[0] = make([]float32, 48)
	dst[1] = make([]float32, 48)
	require.NoError(t, cons.Read(dst, 4800))

	for c := 0; c < 2; c++ {
		for i := 0; i < 48; i++ {
			assert.Equal(t, float32(0), dst[c][i])
		}
	}
}

func TestRxBufferRoundTripValues(t *testing.T) {
	prod, cons := NewRxBuffer(2, 48000, sample.L24)
	payload := encodeFrames(t, 2, 10, sample.L24, func(c, i int) float32 {
		return float32(c+1) * float32(i) / 100
	})
	require.NoError(t, prod.Write(payload, 100))

	dst := [][]float32{make([]float32, 10), make([]float32, 10)}
	require.NoError(t, cons.Read(dst, 100))

	for c := 0; c < 2; c++ {
		for i := 0; i < 10; i++ {
			expected := float32(c+1) * float32(i) / 100
			assert.InDelta(t, expected, dst[c][i], 1.0/(1<<23))
		}
	}
}

func TestRxBufferWrapSeam(t *testing.T) {
	prod, cons := NewRxBuffer(1, 100, sample.L16) // S=100
	payload := encodeFrames(t, 1, 10, sample.L16, func(c, i int) float32 {
		return float32(i) / 10
	})
	// Write straddling S-1 -> 0: ingress_time = 95, 10 frames -> wraps at 100
	require.NoError(t, prod.Write(payload, 95))

	dst := [][]float32{make([]float32, 10)}
	require.NoError(t, cons.Read(dst, 95))
	for i := 0; i < 10; i++ {
		assert.InDelta(t, float32(i)/10, dst[0][i], 1.0/(1<<15))
	}
}

func TestRxBufferInvalidChannelNumber(t *testing.T) {
	_, cons := NewRxBuffer(2, 48000, sample.L24)
	dst := [][]float32{{}, {}, {}}
	assert.ErrorIs(t, cons.Read(dst, 0), ErrInvalidChannelNumber)
}

func TestRxBufferReadBlocksUntilWatermark(t *testing.T) {
	prod, cons := NewRxBuffer(1, 48000, sample.L24)
	done := make(chan error, 1)
	dst := [][]float32{make([]float32, 48)}
	go func() {
		done <- cons.Read(dst, 0)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before data was written")
	case <-time.After(20 * time.Millisecond):
	}

	payload := encodeFrames(t, 1, 48, sample.L24, func(c, i int) float32 { return 0 })
	require.NoError(t, prod.Write(payload, 0))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after write")
	}
}

func TestRxBufferCloseUnblocksReader(t *testing.T) {
	prod, cons := NewRxBuffer(1, 48000, sample.L24)
	dst := [][]float32{make([]float32, 48)}
	done := make(chan error, 1)
	go func() {
		done <- cons.Read(dst, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	prod.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after close")
	}
}
