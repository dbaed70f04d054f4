// Package gitlab provides the GitLab API client and metrics fetcher used to
// enrich pipeline webhooks. Unlike GitHub, GitLab serves job logs as plain
// text from a per-job trace endpoint, with no archive in between.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a GitLab API client.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// Pipeline represents a GitLab pipeline.
type Pipeline struct {
	ID         int64      `json:"id"`
	Status     string     `json:"status"`
	Ref        string     `json:"ref"`
	SHA        string     `json:"sha"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// Job represents a job within a pipeline.
type Job struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// NewClient creates a new GitLab API client for the given instance.
func NewClient(baseURL, token string) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// GetPipeline fetches pipeline metadata.
func (c *Client) GetPipeline(ctx context.Context, projectID, pipelineID int64) (*Pipeline, error) {
	url := fmt.Sprintf("%s/api/v4/projects/%d/pipelines/%d", c.baseURL, projectID, pipelineID)

	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}

	var pipeline Pipeline
	if err := json.Unmarshal(body, &pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}
	return &pipeline, nil
}

// GetPipelineJobs fetches the jobs of a pipeline.
func (c *Client) GetPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]Job, error) {
	url := fmt.Sprintf("%s/api/v4/projects/%d/pipelines/%d/jobs?per_page=100", c.baseURL, projectID, pipelineID)

	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}

	var jobs []Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// GetJobTrace fetches the raw log for a job. The trace endpoint returns
// plain text directly.
func (c *Client) GetJobTrace(ctx context.Context, projectID, jobID int64) (string, error) {
	url := fmt.Sprintf("%s/api/v4/projects/%d/jobs/%d/trace", c.baseURL, projectID, jobID)

	body, err := c.get(ctx, url, "text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// GitLab authenticates with a token header, not a bearer token.
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitLab API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
