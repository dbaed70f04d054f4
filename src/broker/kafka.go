// Package broker provides the Kafka/Redpanda publisher implementation.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const (
	// reconnectBackoff is the fixed delay between reconnect attempts.
	// Retrying forever is deliberate: the gateway has no other way to
	// regain delivery.
	reconnectBackoff = 5 * time.Second
	pingInterval     = 15 * time.Second
	connectTimeout   = 10 * time.Second
)

// kafkaClient is the subset of *kgo.Client the publisher depends on.
// Narrowed to an interface so tests can substitute a fake.
type kafkaClient interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaPublisher is a Publisher backed by franz-go. It owns the
// process-wide broker connection and recreates it after a fixed backoff
// whenever the connection errors or closes.
type KafkaPublisher struct {
	brokers []string
	topic   string
	log     *zap.Logger
	backoff time.Duration

	// connect is swapped out in tests.
	connect func(ctx context.Context) (kafkaClient, error)

	mu     sync.RWMutex
	client kafkaClient
	state  State

	// wake nudges the run loop out of its ping wait after a publish
	// failure, so reconnection starts immediately.
	wake chan struct{}
}

// NewKafkaPublisher creates a publisher for the given seed brokers and
// topic. Call Start to begin the connect/reconnect loop.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		brokers: brokers,
		topic:   topic,
		log:     log,
		backoff: reconnectBackoff,
		wake:    make(chan struct{}, 1),
	}
	p.connect = p.dialKafka
	return p
}

// Start launches the connection lifecycle loop. It returns immediately;
// the publisher reports disconnected until the first connect succeeds.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go p.run(ctx)
}

// run drives the disconnected -> connecting -> connected state machine,
// reconnecting after the fixed backoff for as long as the context lives.
func (p *KafkaPublisher) run(ctx context.Context) {
	for {
		p.setState(StateConnecting)

		client, err := p.connect(ctx)
		if err != nil {
			p.setState(StateDisconnected)
			p.log.Warn("broker connect failed, retrying",
				zap.Strings("brokers", p.brokers),
				zap.Duration("backoff", p.backoff),
				zap.Error(err))
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		// Drop any wake left over from a publish failure against the
		// previous client.
		select {
		case <-p.wake:
		default:
		}

		p.mu.Lock()
		p.client = client
		p.state = StateConnected
		p.mu.Unlock()
		p.log.Info("broker connected",
			zap.Strings("brokers", p.brokers),
			zap.String("topic", p.topic))

		p.monitor(ctx, client)

		p.mu.Lock()
		p.client = nil
		p.state = StateDisconnected
		p.mu.Unlock()
		client.Close()

		if ctx.Err() != nil {
			return
		}
		p.log.Warn("broker connection lost, reconnecting",
			zap.Duration("backoff", p.backoff))
		if !p.sleep(ctx) {
			return
		}
	}
}

// monitor pings the connection until it fails, a publish reports failure,
// or the context ends.
func (p *KafkaPublisher) monitor(ctx context.Context, client kafkaClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				p.log.Warn("broker ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Publish sends one message to the topic. It returns false immediately
// when disconnected; it never buffers.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) bool {
	p.mu.RLock()
	client := p.client
	connected := p.state == StateConnected
	p.mu.RUnlock()

	if !connected || client == nil {
		return false
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(key),
		Value:     value,
		Timestamp: time.Now(),
	}

	if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.log.Error("publish failed", zap.String("key", key), zap.Error(err))
		// Kick the run loop so reconnection starts without waiting for
		// the next ping.
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return false
	}

	return true
}

// State returns the current connection state.
func (p *KafkaPublisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Connected reports whether the publisher can currently accept messages.
func (p *KafkaPublisher) Connected() bool {
	return p.State() == StateConnected
}

// Close shuts the current connection down. Best-effort: the run loop is
// expected to be stopping (its context cancelled) when this is called.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	p.state = StateDisconnected
	return nil
}

func (p *KafkaPublisher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// sleep waits one backoff interval; false means the context ended.
func (p *KafkaPublisher) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.backoff):
		return true
	}
}

// dialKafka opens a new client, verifies the brokers answer, and declares
// the durable topic. Messages survive broker restarts because the topic
// itself is the durable destination (acks from all in-sync replicas).
func (p *KafkaPublisher) dialKafka(ctx context.Context) (kafkaClient, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(p.brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(dialCtx); err != nil {
		client.Close()
		return nil, err
	}

	if err := ensureTopic(dialCtx, client, p.topic); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// ensureTopic declares the destination topic. Safe to call when the topic
// already exists.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)

	_, err := adm.CreateTopic(ctx, -1, -1, nil, topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return err
	}
	return nil
}
