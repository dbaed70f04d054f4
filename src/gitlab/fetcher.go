package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
	"github.com/MohamedLahlami/SafeOps/src/logmetrics"
	"github.com/MohamedLahlami/SafeOps/src/provider"
)

// terminalStatuses are the pipeline states that carry final logs.
var terminalStatuses = map[string]bool{
	"success":  true,
	"failed":   true,
	"canceled": true,
}

// Fetcher implements provider.MetricsFetcher for GitLab pipeline webhooks.
type Fetcher struct {
	client  *Client
	enabled bool
	log     *zap.Logger
}

// NewFetcher creates a GitLab metrics fetcher. An empty token disables it.
func NewFetcher(baseURL, token string, log *zap.Logger) *Fetcher {
	return &Fetcher{
		client:  NewClient(baseURL, token),
		enabled: token != "",
		log:     log,
	}
}

// Name returns "gitlab"
func (f *Fetcher) Name() string {
	return "gitlab"
}

// Enabled reports whether an API token is configured.
func (f *Fetcher) Enabled() bool {
	return f.enabled
}

// pipelinePayload is the subset of a Pipeline Hook event the fetcher needs.
type pipelinePayload struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes *struct {
		ID     int64  `json:"id"`
		Ref    string `json:"ref"`
		SHA    string `json:"sha"`
		Status string `json:"status"`
	} `json:"object_attributes"`
	Project *struct {
		ID                int64  `json:"id"`
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
}

// FetchMetrics resolves the pipeline from the payload, pulls metadata and
// per-job traces, and derives metrics. Returns (nil, nil) for non-terminal
// pipeline states.
func (f *Fetcher) FetchMetrics(ctx context.Context, payload json.RawMessage) (*contracts.RunMetrics, error) {
	if !f.enabled {
		return nil, provider.ErrFetcherDisabled
	}

	var event pipelinePayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMissingRunRef, err)
	}
	if event.ObjectAttributes == nil || event.ObjectAttributes.ID == 0 || event.Project == nil {
		return nil, provider.ErrMissingRunRef
	}

	if !terminalStatuses[event.ObjectAttributes.Status] {
		return nil, nil
	}

	projectID := event.Project.ID
	pipelineID := event.ObjectAttributes.ID

	pipeline, err := f.client.GetPipeline(ctx, projectID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("fetch pipeline %d/%d: %w", projectID, pipelineID, err)
	}

	jobs, err := f.client.GetPipelineJobs(ctx, projectID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs %d/%d: %w", projectID, pipelineID, err)
	}

	logText := f.collectTraces(ctx, projectID, jobs)
	counts := logmetrics.Analyze(logText)

	var startedAt, completedAt time.Time
	if pipeline.StartedAt != nil {
		startedAt = *pipeline.StartedAt
	}
	if pipeline.FinishedAt != nil {
		completedAt = *pipeline.FinishedAt
	}

	metrics := &contracts.RunMetrics{
		BuildID:         fmt.Sprintf("gitlab-%d", pipelineID),
		Repository:      event.Project.PathWithNamespace,
		Branch:          pipeline.Ref,
		CommitSHA:       pipeline.SHA,
		Status:          pipeline.Status,
		Conclusion:      pipeline.Status,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: contracts.Duration(startedAt, completedAt),
		// GitLab jobs have no step granularity; step counts stay 0.
		JobCount:     len(jobs),
		LogLineCount: counts.LineCount,
		CharDensity:  counts.CharDensity,
		ErrorCount:   counts.ErrorCount,
		WarningCount: counts.WarningCount,
		RawLogText:   logText,
	}

	f.log.Debug("derived pipeline metrics",
		zap.String("build_id", metrics.BuildID),
		zap.String("repository", metrics.Repository),
		zap.Int("jobs", metrics.JobCount),
		zap.Int("log_lines", metrics.LogLineCount))

	return metrics, nil
}

// collectTraces concatenates the traces of all jobs, each introduced by a
// separator marker. A failing trace fetch skips that job only.
func (f *Fetcher) collectTraces(ctx context.Context, projectID int64, jobs []Job) string {
	var sb strings.Builder
	for _, job := range jobs {
		trace, err := f.client.GetJobTrace(ctx, projectID, job.ID)
		if err != nil {
			f.log.Warn("failed to fetch job trace",
				zap.Int64("project_id", projectID),
				zap.Int64("job_id", job.ID),
				zap.String("job_name", job.Name),
				zap.Error(err))
			continue
		}

		fmt.Fprintf(&sb, "===== job: %s =====\n", job.Name)
		sb.WriteString(trace)
		if len(trace) > 0 && trace[len(trace)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
