package scheduler

import (
	"log/slog"
	"time"
)

// maxRecordedErrors bounds how many per-entity errors a summary keeps.
const maxRecordedErrors = 5

// RunSummary accumulates the outcome of one scheduled run. Errors are
// local to the entity being processed; only these counts and the first
// few failures surface at the run level.
type RunSummary struct {
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration
	Processed int
	Updated   int
	Skipped   int
	Failed    int
	Errors    []error
}

func newRunSummary(trigger string, startedAt time.Time) *RunSummary {
	return &RunSummary{Trigger: trigger, StartedAt: startedAt}
}

func (s *RunSummary) fail(err error) {
	s.Failed++
	if len(s.Errors) < maxRecordedErrors {
		s.Errors = append(s.Errors, err)
	}
}

func (s *RunSummary) log(logger *slog.Logger) {
	attrs := []any{
		"trigger", s.Trigger,
		"processed", s.Processed,
		"updated", s.Updated,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"duration", s.Duration,
	}
	if s.Failed > 0 {
		attrs = append(attrs, "first_errors", errorStrings(s.Errors))
		logger.Warn("run completed with failures", attrs...)
		return
	}
	logger.Info("run completed", attrs...)
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// TriggerStats is the per-trigger counter block surfaced by the worker
// health endpoint.
type TriggerStats struct {
	Runs        uint64     `json:"runs"`
	LastRunAt   *time.Time `json:"last_run_at"`
	LastFailed  int        `json:"last_failed"`
	LastUpdated int        `json:"last_updated"`
	LastError   string     `json:"last_error,omitempty"`
}
