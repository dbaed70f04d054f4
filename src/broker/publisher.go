// Package broker maintains the gateway's connection to the message broker
// and publishes enriched events to the durable raw-logs topic.
package broker

import "context"

// State is the broker connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Publisher sends messages to the durable destination.
//
// Publish fails fast: it returns false without blocking when the broker is
// not currently connected. A false return means "not queued" — callers
// decide their own fallback; the audit store is the durability backstop.
// A true return means the broker accepted the message (at-least-once:
// duplicates across reconnects are possible, silent drops are not).
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) bool
	State() State
	Connected() bool
	Close() error
}
