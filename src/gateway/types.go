package gateway

import (
	"github.com/MohamedLahlami/SafeOps/src/store"
)

// WebhookResponse summarises the outcome of one ingested webhook. The
// booleans report downstream outcomes; downstream failures never turn into
// HTTP errors, so the sending CI provider has no reason to retry-storm.
type WebhookResponse struct {
	Status           string `json:"status"`
	RequestID        string `json:"request_id"`
	BuildID          string `json:"build_id,omitempty"`
	Stored           bool   `json:"stored"`
	Queued           bool   `json:"queued"`
	LogsFetched      bool   `json:"logs_fetched"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// ErrorResponse is the JSON error body. Always generic: no secrets, stack
// traces or credentials.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse answers the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse answers the readiness probe with per-dependency detail.
type ReadyResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
	Store  string `json:"store"`
}

// StatsResponse reports audit record counts and broker status.
type StatsResponse struct {
	Audit  store.Stats `json:"audit"`
	Broker string      `json:"broker"`
}

// TestWebhookRequest is the simplified payload the synthetic test endpoint
// accepts.
type TestWebhookRequest struct {
	Repository string `json:"repository"`
	RunID      int64  `json:"run_id"`
}

// maxBodySize caps webhook bodies at 5 MiB.
const maxBodySize = 5 << 20
