package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MohamedLahlami/SafeOps/src/logger"
	"github.com/MohamedLahlami/SafeOps/src/provider"
)

func pipelinePayloadJSON(status string) json.RawMessage {
	payload := map[string]any{
		"object_kind": "pipeline",
		"object_attributes": map[string]any{
			"id":     31,
			"ref":    "main",
			"sha":    "abc123",
			"status": status,
		},
		"project": map[string]any{
			"id":                  7,
			"path_with_namespace": "acme/widget",
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestFetcher_Disabled(t *testing.T) {
	f := NewFetcher("https://gitlab.example.com", "", logger.NewNop())

	if f.Enabled() {
		t.Error("Enabled() = true without token")
	}

	_, err := f.FetchMetrics(context.Background(), pipelinePayloadJSON("success"))
	if !errors.Is(err, provider.ErrFetcherDisabled) {
		t.Errorf("FetchMetrics() error = %v, want ErrFetcherDisabled", err)
	}
}

func TestFetcher_NonTerminalStatuses(t *testing.T) {
	f := NewFetcher("https://gitlab.example.com", "fake-token", logger.NewNop())

	for _, status := range []string{"running", "pending", "created"} {
		t.Run(status, func(t *testing.T) {
			metrics, err := f.FetchMetrics(context.Background(), pipelinePayloadJSON(status))
			if err != nil {
				t.Fatalf("FetchMetrics() error = %v, want nil", err)
			}
			if metrics != nil {
				t.Errorf("metrics = %+v, want nil for %s pipeline", metrics, status)
			}
		})
	}
}

func TestFetcher_MissingRunRef(t *testing.T) {
	f := NewFetcher("https://gitlab.example.com", "fake-token", logger.NewNop())

	for _, payload := range []string{
		`{"object_kind":"pipeline"}`,
		`{"object_attributes":{"id":31,"status":"success"}}`,
	} {
		if _, err := f.FetchMetrics(context.Background(), json.RawMessage(payload)); !errors.Is(err, provider.ErrMissingRunRef) {
			t.Errorf("payload %s: error = %v, want ErrMissingRunRef", payload, err)
		}
	}
}

func TestFetcher_FullEnrichment(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/api/v4/projects/7/pipelines/31", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":          31,
			"status":      "failed",
			"ref":         "main",
			"sha":         "abc123",
			"started_at":  "2024-03-01T10:00:00Z",
			"finished_at": "2024-03-01T10:01:03Z",
		})
	})
	mux.HandleFunc("/api/v4/projects/7/pipelines/31/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Job{
			{ID: 1, Name: "build", Status: "success"},
			{ID: 2, Name: "test", Status: "failed"},
		})
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/1/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("compiling\nok"))
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/2/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("assertion error\n"))
	})

	f := NewFetcher(server.URL, "fake-token", logger.NewNop())

	metrics, err := f.FetchMetrics(context.Background(), pipelinePayloadJSON("failed"))
	if err != nil {
		t.Fatalf("FetchMetrics() error = %v", err)
	}
	if metrics == nil {
		t.Fatal("metrics = nil, want enrichment")
	}

	if metrics.BuildID != "gitlab-31" {
		t.Errorf("BuildID = %q, want gitlab-31", metrics.BuildID)
	}
	if metrics.Repository != "acme/widget" {
		t.Errorf("Repository = %q", metrics.Repository)
	}
	if metrics.DurationSeconds != 63 {
		t.Errorf("DurationSeconds = %v, want 63", metrics.DurationSeconds)
	}
	if metrics.JobCount != 2 {
		t.Errorf("JobCount = %d, want 2", metrics.JobCount)
	}
	if metrics.StepCount != 0 {
		t.Errorf("StepCount = %d, want 0 (no step granularity)", metrics.StepCount)
	}

	if !strings.Contains(metrics.RawLogText, "===== job: build =====\n") ||
		!strings.Contains(metrics.RawLogText, "===== job: test =====\n") {
		t.Errorf("RawLogText missing job separators: %q", metrics.RawLogText)
	}
	if metrics.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", metrics.ErrorCount)
	}
	// 2 separator lines + build trace (2 lines) + test trace (1 line).
	if metrics.LogLineCount != 5 {
		t.Errorf("LogLineCount = %d, want 5", metrics.LogLineCount)
	}
}

func TestFetcher_TraceFailureSkipsJobOnly(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/api/v4/projects/7/pipelines/31", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 31, "status": "success", "ref": "main"})
	})
	mux.HandleFunc("/api/v4/projects/7/pipelines/31/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Job{
			{ID: 1, Name: "flaky"},
			{ID: 2, Name: "solid"},
		})
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/1/trace", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/api/v4/projects/7/jobs/2/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("all good\n"))
	})

	f := NewFetcher(server.URL, "fake-token", logger.NewNop())

	metrics, err := f.FetchMetrics(context.Background(), pipelinePayloadJSON("success"))
	if err != nil {
		t.Fatalf("FetchMetrics() error = %v", err)
	}
	if strings.Contains(metrics.RawLogText, "flaky =====") {
		t.Error("failed job's separator should not appear")
	}
	if !strings.Contains(metrics.RawLogText, "===== job: solid =====\nall good\n") {
		t.Errorf("RawLogText = %q", metrics.RawLogText)
	}
}
