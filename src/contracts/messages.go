// Package contracts defines the message types exchanged between the gateway
// and its downstream consumers.
package contracts

import (
	"encoding/json"
	"time"
)

// Provider identifies the CI platform that originated a webhook.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderGitLab  Provider = "gitlab"
	ProviderUnknown Provider = "unknown"
	ProviderTest    Provider = "test"
)

// TopicRawLogs is the durable topic downstream parsers consume from.
// Key: {request_id}
const TopicRawLogs = "safeops.logs.raw"

// WebhookEnvelope captures a single inbound webhook request. It is created
// once per request and never mutated afterwards.
type WebhookEnvelope struct {
	// Unique identifier assigned by the gateway on receipt.
	RequestID string `json:"request_id"`
	// Classified CI provider.
	Provider Provider `json:"provider"`
	// Outcome of signature verification.
	SignatureValid bool `json:"signature_valid"`
	// Original webhook body, unparsed.
	RawPayload json.RawMessage `json:"raw_payload"`
	// Time the gateway received the request.
	ReceivedAt time.Time `json:"received_at"`
	// Remote address the request arrived from.
	SourceIP string `json:"source_ip"`
}

// RunMetrics is the optional enrichment derived from a provider's API for a
// completed run. Computed once, never mutated; absence is a valid outcome.
type RunMetrics struct {
	BuildID     string    `json:"build_id"`
	Repository  string    `json:"repository"`
	Branch      string    `json:"branch"`
	CommitSHA   string    `json:"commit_sha"`
	Status      string    `json:"status"`
	Conclusion  string    `json:"conclusion"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// Wall-clock run duration. Zero when either timestamp is missing,
	// never negative.
	DurationSeconds float64 `json:"duration_seconds"`
	StepCount       int     `json:"step_count"`
	CompletedSteps  int     `json:"completed_steps"`
	FailedSteps     int     `json:"failed_steps"`
	JobCount        int     `json:"job_count"`
	LogLineCount    int     `json:"log_line_count"`
	// Average characters per log line, 0 when there are no lines.
	CharDensity  float64 `json:"char_density"`
	ErrorCount   int     `json:"error_count"`
	WarningCount int     `json:"warning_count"`
	RawLogText   string  `json:"raw_log_text,omitempty"`
}

// Duration computes DurationSeconds from the two run timestamps. The result
// is clamped at zero and collapses to zero when either timestamp is unset.
func Duration(startedAt, completedAt time.Time) float64 {
	if startedAt.IsZero() || completedAt.IsZero() {
		return 0
	}
	d := completedAt.Sub(startedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// Meta carries the gateway-assigned context for a queued event.
type Meta struct {
	RequestID      string   `json:"request_id"`
	Provider       Provider `json:"provider"`
	SignatureValid bool     `json:"signature_valid"`
	// Identifier of the audit record holding the raw payload, empty when
	// the audit write failed.
	AuditRecordID string    `json:"audit_record_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	SourceIP      string    `json:"source_ip"`
}

// QueueMessage is the enriched event published to TopicRawLogs. Immutable
// once constructed; delivery is at-least-once, so consumers must tolerate
// duplicates across broker reconnects.
type QueueMessage struct {
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload"`
	// Enriched is nil when enrichment was skipped or failed.
	Enriched *RunMetrics `json:"enriched,omitempty"`
}
