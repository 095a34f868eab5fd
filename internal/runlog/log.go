// Package runlog executes named step sequences with per-step memoization.
// The append-only run log is the source of truth for resume: a step whose
// result is already persisted is returned from the log instead of re-executed.
package runlog

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the overall state of one pipeline run.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one orchestrator invocation. Immutable once terminal.
type Run struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	Status     Status     `json:"status"`
	FailedStep string     `json:"failed_step,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepResult is the memoized outcome of one named step within a run.
type StepResult struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Log persists runs and step results. SaveStepResult must be an upsert on
// (run_id, name): a crash between executing a step and recording its memo
// re-invokes the step, and the second write must not conflict.
type Log interface {
	UpsertRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	FinishRun(ctx context.Context, runID string, status Status, failedStep, errText string, finishedAt time.Time) error

	SaveStepResult(ctx context.Context, result StepResult) error
	// GetStepResult returns core.ErrNotFound when the step has not completed.
	GetStepResult(ctx context.Context, runID, name string) (StepResult, error)
}
