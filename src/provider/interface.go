// Package provider defines the capability interface for CI platform
// integrations and the registry that maps webhook provider tags to them.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

var (
	// ErrMissingRunRef marks payloads the fetcher cannot resolve a run from.
	ErrMissingRunRef = errors.New("payload does not identify a run")
	// ErrFetcherDisabled marks fetchers with no credential configured.
	ErrFetcherDisabled = errors.New("fetcher is disabled: no credential configured")
	// ErrTooManyRedirects marks log-archive downloads that exceeded the
	// bounded redirect depth.
	ErrTooManyRedirects = errors.New("too many redirects downloading log archive")
)

// MetricsFetcher turns a webhook payload into RunMetrics, best-effort.
//
// FetchMetrics returns (nil, nil) when the payload describes a non-terminal
// event: absence of metrics is a valid outcome, not an error. Errors are
// diagnostic only; callers degrade them to "no metrics" and never fail the
// request over them.
type MetricsFetcher interface {
	// Name returns the provider name (e.g. "github", "gitlab").
	Name() string

	// Enabled reports whether a credential is configured. Disabled
	// fetchers return ErrFetcherDisabled without any network I/O.
	Enabled() bool

	// FetchMetrics resolves the run from the payload, pulls metadata and
	// logs from the provider API, and derives metrics.
	FetchMetrics(ctx context.Context, payload json.RawMessage) (*contracts.RunMetrics, error)
}

// Registry maps classified provider tags to their fetcher implementations.
type Registry map[contracts.Provider]MetricsFetcher

// For returns the fetcher for a provider tag, or nil when none is
// registered (unknown providers get no enrichment).
func (r Registry) For(p contracts.Provider) MetricsFetcher {
	return r[p]
}
