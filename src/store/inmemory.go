// Package store provides an in-memory audit store for tests and local runs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

// record is one stored webhook payload.
type record struct {
	ID             string
	Provider       contracts.Provider
	SignatureValid bool
	Payload        json.RawMessage
	SourceIP       string
	ReceivedAt     time.Time
	Processed      bool
	ProcessedAt    time.Time
}

// InMemoryStore is a map-backed AuditStore. It mirrors the Postgres
// store's semantics, including the idempotent processed flag.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	// available simulates store unavailability when false.
	available bool
}

// NewInMemoryStore creates an empty, available in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[string]*record),
		available: true,
	}
}

// SetAvailable toggles simulated availability.
func (s *InMemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// StoreRawLog persists one raw payload and returns the new record id.
func (s *InMemoryStore) StoreRawLog(ctx context.Context, payload json.RawMessage, provider contracts.Provider, signatureValid bool, sourceIP string, receivedAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return "", fmt.Errorf("store unavailable")
	}

	id := uuid.NewString()
	s.records[id] = &record{
		ID:             id,
		Provider:       provider,
		SignatureValid: signatureValid,
		Payload:        append(json.RawMessage(nil), payload...),
		SourceIP:       sourceIP,
		ReceivedAt:     receivedAt,
	}
	return id, nil
}

// MarkProcessed flips the processed flag, keeping the first timestamp.
func (s *InMemoryStore) MarkProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return fmt.Errorf("store unavailable")
	}

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("raw log not found: %s", id)
	}
	if !rec.Processed {
		rec.Processed = true
		rec.ProcessedAt = time.Now()
	}
	return nil
}

// Stats returns stored/processed/pending record counts.
func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.available {
		return Stats{}, fmt.Errorf("store unavailable")
	}

	var stats Stats
	for _, rec := range s.records {
		stats.Stored++
		if rec.Processed {
			stats.Processed++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

// Connected reports the simulated availability.
func (s *InMemoryStore) Connected(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
