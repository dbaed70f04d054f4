// Package broker provides an in-memory publisher for tests and local runs.
package broker

import (
	"context"
	"sync"
)

// PublishedMessage is one message accepted by the in-memory publisher.
type PublishedMessage struct {
	Key   string
	Value []byte
}

// InMemoryPublisher is a Publisher that records messages in memory. Its
// connection state and publish outcome are directly controllable, which is
// what the gateway tests need to exercise degraded paths.
type InMemoryPublisher struct {
	mu        sync.Mutex
	messages  []PublishedMessage
	connected bool
	failNext  bool
}

// NewInMemoryPublisher creates a connected in-memory publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{connected: true}
}

// SetConnected toggles the simulated connection state.
func (p *InMemoryPublisher) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

// FailNext makes the next Publish return false despite being connected.
func (p *InMemoryPublisher) FailNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = true
}

// Publish records the message, honouring the simulated state.
func (p *InMemoryPublisher) Publish(ctx context.Context, key string, value []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return false
	}
	if p.failNext {
		p.failNext = false
		return false
	}

	p.messages = append(p.messages, PublishedMessage{
		Key:   key,
		Value: append([]byte(nil), value...),
	})
	return true
}

// Messages returns a copy of everything published so far.
func (p *InMemoryPublisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// State reports connected or disconnected.
func (p *InMemoryPublisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return StateConnected
	}
	return StateDisconnected
}

// Connected reports the simulated connection state.
func (p *InMemoryPublisher) Connected() bool {
	return p.State() == StateConnected
}

// Close disconnects the publisher.
func (p *InMemoryPublisher) Close() error {
	p.SetConnected(false)
	return nil
}
