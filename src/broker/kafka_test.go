package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/MohamedLahlami/SafeOps/src/logger"
)

// fakeClient implements kafkaClient with controllable failures.
type fakeClient struct {
	mu         sync.Mutex
	produced   []*kgo.Record
	produceErr error
	pingErr    error
	closed     bool
}

func (f *fakeClient) ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results kgo.ProduceResults
	for _, r := range records {
		if f.produceErr == nil {
			f.produced = append(f.produced, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.produceErr})
	}
	return results
}

func (f *fakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeClient) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func newTestPublisher(connect func(ctx context.Context) (kafkaClient, error)) *KafkaPublisher {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "safeops.logs.raw", logger.NewNop())
	p.backoff = 10 * time.Millisecond
	p.connect = connect
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublish_FailsFastWhileDisconnected(t *testing.T) {
	p := newTestPublisher(nil)

	if p.State() != StateDisconnected {
		t.Errorf("initial state = %v, want disconnected", p.State())
	}
	if p.Publish(context.Background(), "k", []byte("v")) {
		t.Error("Publish() = true while disconnected, want false")
	}
}

func TestStart_ConnectsAndPublishes(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(func(ctx context.Context) (kafkaClient, error) {
		return client, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	waitFor(t, time.Second, p.Connected)

	if !p.Publish(context.Background(), "req-1", []byte("payload")) {
		t.Fatal("Publish() = false while connected, want true")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.produced) != 1 {
		t.Fatalf("produced %d records, want 1", len(client.produced))
	}
	rec := client.produced[0]
	if string(rec.Key) != "req-1" || rec.Topic != "safeops.logs.raw" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("record timestamp not set at publish time")
	}
}

func TestStart_RetriesAfterConnectFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client := &fakeClient{}

	p := newTestPublisher(func(ctx context.Context) (kafkaClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("broker down")
		}
		return client, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	waitFor(t, time.Second, p.Connected)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("connect attempts = %d, want 3", attempts)
	}
}

func TestReconnect_AfterPublishFailure(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	var mu sync.Mutex
	attempts := 0

	p := newTestPublisher(func(ctx context.Context) (kafkaClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	waitFor(t, time.Second, p.Connected)

	// Simulate the broker dropping the connection: the in-flight publish
	// fails, is reported as not queued, and is not retried internally.
	first.mu.Lock()
	first.produceErr = errors.New("connection closed")
	first.mu.Unlock()

	if p.Publish(context.Background(), "k", []byte("v")) {
		t.Error("Publish() = true on broken connection, want false")
	}

	// The publisher reconnects on its own after the backoff.
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2 && p.Connected()
	})

	first.mu.Lock()
	if !first.closed {
		t.Error("broken client was not closed")
	}
	first.mu.Unlock()

	// The failed message was dropped, not silently retried.
	if !p.Publish(context.Background(), "k2", []byte("v2")) {
		t.Fatal("Publish() = false after reconnect, want true")
	}
	second.mu.Lock()
	defer second.mu.Unlock()
	if len(second.produced) != 1 || string(second.produced[0].Key) != "k2" {
		t.Errorf("produced after reconnect = %+v, want only k2", second.produced)
	}
}

func TestReconnect_AfterPingFailure(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	var mu sync.Mutex
	attempts := 0

	p := newTestPublisher(func(ctx context.Context) (kafkaClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	waitFor(t, time.Second, p.Connected)

	first.setPingErr(errors.New("broker closed"))
	// Nudge the monitor instead of waiting out the ping interval.
	p.wake <- struct{}{}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2 && p.Connected()
	})
}

func TestInMemoryPublisher(t *testing.T) {
	p := NewInMemoryPublisher()
	ctx := context.Background()

	if !p.Publish(ctx, "a", []byte("1")) {
		t.Error("Publish() = false, want true")
	}

	p.FailNext()
	if p.Publish(ctx, "b", []byte("2")) {
		t.Error("Publish() = true after FailNext, want false")
	}
	if !p.Publish(ctx, "c", []byte("3")) {
		t.Error("Publish() = false after failure consumed, want true")
	}

	p.SetConnected(false)
	if p.Publish(ctx, "d", []byte("4")) {
		t.Error("Publish() = true while disconnected, want false")
	}

	msgs := p.Messages()
	if len(msgs) != 2 || msgs[0].Key != "a" || msgs[1].Key != "c" {
		t.Errorf("messages = %+v", msgs)
	}
}
