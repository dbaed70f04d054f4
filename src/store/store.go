// Package store defines the interface for the audit store that durably
// records every raw webhook payload.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

// Stats summarises the audit store contents.
type Stats struct {
	Stored    int64 `json:"stored"`
	Processed int64 `json:"processed"`
	Pending   int64 `json:"pending"`
}

// AuditStore persists raw webhook payloads with their validation outcome.
// Records are append-only from the gateway's perspective; the only mutation
// is the one-way processed flag.
type AuditStore interface {
	// StoreRawLog persists a payload and returns an opaque record id.
	// Errors indicate store unavailability; callers must not abort the
	// request pipeline over them.
	StoreRawLog(ctx context.Context, payload json.RawMessage, provider contracts.Provider, signatureValid bool, sourceIP string, receivedAt time.Time) (string, error)

	// MarkProcessed flips the processed flag. Idempotent: repeated calls
	// on the same id are safe and keep the first processed timestamp.
	MarkProcessed(ctx context.Context, id string) error

	// Stats returns stored/processed/pending record counts.
	Stats(ctx context.Context) (Stats, error)

	// Connected reports whether the store is currently reachable.
	Connected(ctx context.Context) bool

	// Close closes the store connection.
	Close() error
}
