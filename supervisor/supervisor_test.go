// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package supervisor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aes67/govsc/descriptor"
	"github.com/aes67/govsc/sample"
	"github.com/aes67/govsc/stats"
)

func rxDescriptor(t *testing.T, port int) descriptor.Rx {
	t.Helper()
	return descriptor.Rx{
		ID:           "rx-1",
		OriginIP:     net.IPv4(127, 0, 0, 1),
		Destination:  net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		PayloadType:  98,
		PacketTime:   time.Millisecond,
		Channels:     2,
		SampleFormat: sample.L24,
		SampleRate:   48000,
	}
}

func txDescriptor(t *testing.T, port int) descriptor.Tx {
	t.Helper()
	return descriptor.Tx{
		ID:           "tx-1",
		Target:       net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		PayloadType:  98,
		PacketTime:   time.Millisecond,
		Channels:     2,
		SampleFormat: sample.L24,
		SampleRate:   48000,
	}
}

func TestCreateReceiverAndDestroy(t *testing.T) {
	sup := New(16)
	defer sup.Shutdown()

	rx, err := sup.CreateReceiver(rxDescriptor(t, 46000), ClockConfig{SampleRate: 48000, Kind: ClockSystem})
	require.NoError(t, err)
	require.NotNil(t, rx.Consumer)
	require.Equal(t, "rx-1", rx.ID)

	require.NoError(t, sup.Destroy(rx.ID))
	require.ErrorIs(t, sup.Destroy(rx.ID), ErrUnknownID)
}

func TestCreateSenderAndDestroy(t *testing.T) {
	sup := New(16)
	defer sup.Shutdown()

	tx, err := sup.CreateSender(txDescriptor(t, 46002), net.IPv4(127, 0, 0, 1), ClockConfig{SampleRate: 48000, Kind: ClockSystem}, 4)
	require.NoError(t, err)
	require.NotNil(t, tx.Producer)
	require.Equal(t, "tx-1", tx.ID)

	require.NoError(t, sup.Destroy(tx.ID))
	require.ErrorIs(t, sup.Destroy(tx.ID), ErrUnknownID)
}

func TestSharedClockPerInterface(t *testing.T) {
	sup := New(16)
	defer sup.Shutdown()

	d1 := rxDescriptor(t, 46010)
	d1.ID = "rx-a"
	d2 := rxDescriptor(t, 46012)
	d2.ID = "rx-b"

	rx1, err := sup.CreateReceiver(d1, ClockConfig{SampleRate: 48000, Kind: ClockSystem})
	require.NoError(t, err)
	rx2, err := sup.CreateReceiver(d2, ClockConfig{SampleRate: 48000, Kind: ClockSystem})
	require.NoError(t, err)

	sup.mu.Lock()
	require.Len(t, sup.clocks, 1)
	sup.mu.Unlock()

	require.NoError(t, sup.Destroy(rx1.ID))
	require.NoError(t, sup.Destroy(rx2.ID))
}

func TestStatsSinkEmitsVscCreated(t *testing.T) {
	sup := New(4)
	defer sup.Shutdown()

	select {
	case ev := <-sup.Stats():
		_, ok := ev.(stats.VscCreated)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected VscCreated event")
	}
}
