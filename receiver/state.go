// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package receiver implements the Receiver component: subscribes to one
// multicast RTP/AVP audio stream, admits well-formed on-origin packets,
// tracks the sender's clock relative to the local MediaClock, and writes
// decoded samples into an RxBuffer.
package receiver

// runState is the Receiver's lifecycle: Idle -> Running -> Stopping ->
// Stopped, with no re-entry to Running from Stopped.
type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
