package githubactions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
	"github.com/MohamedLahlami/SafeOps/src/logmetrics"
	"github.com/MohamedLahlami/SafeOps/src/provider"
)

// Fetcher implements provider.MetricsFetcher for GitHub Actions
// workflow_run webhooks.
type Fetcher struct {
	client  *Client
	enabled bool
	log     *zap.Logger
}

// NewFetcher creates a GitHub metrics fetcher. An empty token disables it
// entirely: every call returns no metrics without network I/O.
func NewFetcher(token string, log *zap.Logger) *Fetcher {
	return &Fetcher{
		client:  NewClient(token),
		enabled: token != "",
		log:     log,
	}
}

// Name returns "github"
func (f *Fetcher) Name() string {
	return "github"
}

// Enabled reports whether an API token is configured.
func (f *Fetcher) Enabled() bool {
	return f.enabled
}

// webhookPayload is the subset of a workflow_run event the fetcher needs.
type webhookPayload struct {
	Action      string      `json:"action"`
	WorkflowRun *payloadRun `json:"workflow_run"`
	Repository  *repoRef    `json:"repository"`
}

type payloadRun struct {
	ID         int64    `json:"id"`
	Status     string   `json:"status"`
	Conclusion string   `json:"conclusion"`
	HeadBranch string   `json:"head_branch"`
	HeadSHA    string   `json:"head_sha"`
	Repository *repoRef `json:"repository"`
}

type repoRef struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	} `json:"owner"`
}

// FetchMetrics resolves the run from the payload, pulls run metadata, job
// and step statistics and the log archive, and derives metrics. Returns
// (nil, nil) for non-terminal events.
func (f *Fetcher) FetchMetrics(ctx context.Context, payload json.RawMessage) (*contracts.RunMetrics, error) {
	if !f.enabled {
		return nil, provider.ErrFetcherDisabled
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMissingRunRef, err)
	}
	if event.WorkflowRun == nil || event.WorkflowRun.ID == 0 {
		return nil, provider.ErrMissingRunRef
	}

	// Only completed runs carry final logs and timings.
	if event.WorkflowRun.Status != "completed" {
		return nil, nil
	}

	owner, repo, err := resolveRepo(event.WorkflowRun.Repository, event.Repository)
	if err != nil {
		return nil, err
	}
	runID := event.WorkflowRun.ID

	run, err := f.client.GetWorkflowRun(ctx, owner, repo, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch run %s/%s/%d: %w", owner, repo, runID, err)
	}

	jobs, err := f.client.GetWorkflowJobs(ctx, owner, repo, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs %s/%s/%d: %w", owner, repo, runID, err)
	}

	logText, err := f.client.DownloadRunLogs(ctx, owner, repo, runID)
	if err != nil {
		return nil, fmt.Errorf("download logs %s/%s/%d: %w", owner, repo, runID, err)
	}

	jobSteps := make([][]logmetrics.Step, 0, len(jobs))
	for _, job := range jobs {
		steps := make([]logmetrics.Step, 0, len(job.Steps))
		for _, s := range job.Steps {
			steps = append(steps, logmetrics.Step{Status: s.Status, Conclusion: s.Conclusion})
		}
		jobSteps = append(jobSteps, steps)
	}
	stepStats := logmetrics.MergeSteps(jobSteps)
	counts := logmetrics.Analyze(logText)

	metrics := &contracts.RunMetrics{
		BuildID:         fmt.Sprintf("github-%d", runID),
		Repository:      owner + "/" + repo,
		Branch:          run.HeadBranch,
		CommitSHA:       run.HeadSHA,
		Status:          run.Status,
		Conclusion:      run.Conclusion,
		StartedAt:       run.RunStartedAt,
		CompletedAt:     run.UpdatedAt,
		DurationSeconds: contracts.Duration(run.RunStartedAt, run.UpdatedAt),
		StepCount:       stepStats.Total,
		CompletedSteps:  stepStats.Completed,
		FailedSteps:     stepStats.Failed,
		JobCount:        len(jobs),
		LogLineCount:    counts.LineCount,
		CharDensity:     counts.CharDensity,
		ErrorCount:      counts.ErrorCount,
		WarningCount:    counts.WarningCount,
		RawLogText:      logText,
	}

	f.log.Debug("derived run metrics",
		zap.String("build_id", metrics.BuildID),
		zap.String("repository", metrics.Repository),
		zap.Int("jobs", metrics.JobCount),
		zap.Int("log_lines", metrics.LogLineCount))

	return metrics, nil
}

// resolveRepo extracts owner and repo name, tolerating both the
// fully-qualified "owner/repo" form and split owner/name fields. The
// run-level repository reference wins over the event-level one.
func resolveRepo(refs ...*repoRef) (owner, repo string, err error) {
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		if ref.FullName != "" {
			parts := strings.SplitN(ref.FullName, "/", 2)
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				return parts[0], parts[1], nil
			}
		}
		login := ref.Owner.Login
		if login == "" {
			login = ref.Owner.Name
		}
		if login != "" && ref.Name != "" {
			return login, ref.Name, nil
		}
	}
	return "", "", fmt.Errorf("%w: no repository reference", provider.ErrMissingRunRef)
}
