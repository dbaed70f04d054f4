// Package logmetrics derives coarse numeric metrics from raw CI log text.
// The gateway does not interpret log semantics beyond these counts; deeper
// parsing belongs to the downstream log-parser service.
package logmetrics

import (
	"regexp"
	"strings"
)

var (
	errorPattern   = regexp.MustCompile(`(?i)\b(error|failed|failure|exception|fatal|critical)\b`)
	warningPattern = regexp.MustCompile(`(?i)\b(warning|warn|deprecated|caution)\b`)
)

// Counts summarises one body of log text.
type Counts struct {
	LineCount int
	// CharDensity is total characters divided by line count, 0 when the
	// text has no lines.
	CharDensity  float64
	ErrorCount   int
	WarningCount int
}

// Analyze scans log text for line, character and severity-keyword counts.
func Analyze(text string) Counts {
	if text == "" {
		return Counts{}
	}

	lines := strings.Split(text, "\n")
	// A trailing newline does not start a new line.
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	c := Counts{
		LineCount:    len(lines),
		ErrorCount:   len(errorPattern.FindAllStringIndex(text, -1)),
		WarningCount: len(warningPattern.FindAllStringIndex(text, -1)),
	}
	if c.LineCount > 0 {
		c.CharDensity = float64(len(text)) / float64(c.LineCount)
	}
	return c
}

// Step is the provider-agnostic view of one run step.
type Step struct {
	Status     string
	Conclusion string
}

// StepStats aggregates step outcomes across all jobs of a run.
type StepStats struct {
	Total     int
	Completed int
	Failed    int
}

// MergeSteps folds per-job step lists into run-wide totals. Completed means
// status "completed"; failed means conclusion "failure".
func MergeSteps(jobs [][]Step) StepStats {
	var s StepStats
	for _, steps := range jobs {
		for _, step := range steps {
			s.Total++
			if step.Status == "completed" {
				s.Completed++
			}
			if step.Conclusion == "failure" {
				s.Failed++
			}
		}
	}
	return s
}
