package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

// UpsertRun creates a run record or updates its status on resume.
func (s *Store) UpsertRun(ctx context.Context, run runlog.Run) error {
	query := `
		INSERT INTO pipeline_runs (id, source_id, status, failed_step, error_text, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			failed_step = EXCLUDED.failed_step,
			error_text  = EXCLUDED.error_text,
			finished_at = EXCLUDED.finished_at`
	_, err := s.db.Exec(ctx, query,
		run.ID, run.SourceID, string(run.Status), run.FailedStep, run.Error,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (runlog.Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, source_id, status, failed_step, error_text, started_at, finished_at
		FROM pipeline_runs WHERE id = $1`, runID)
	var run runlog.Run
	var status string
	var failedStep, errText *string
	err := row.Scan(&run.ID, &run.SourceID, &status, &failedStep, &errText,
		&run.StartedAt, &run.FinishedAt)
	if err != nil {
		return runlog.Run{}, wrapNotFound("get run", err)
	}
	run.Status = runlog.Status(status)
	run.FailedStep = deref(failedStep)
	run.Error = deref(errText)
	return run, nil
}

// FinishRun sets a run's terminal state.
func (s *Store) FinishRun(ctx context.Context, runID string, status runlog.Status, failedStep, errText string, finishedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $1, failed_step = $2, error_text = $3, finished_at = $4
		WHERE id = $5`,
		string(status), failedStep, errText, finishedAt, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: %w", core.ErrNotFound)
	}
	return nil
}

// SaveStepResult records the memoized outcome of one step. Upsert on
// (run_id, name) keeps the write idempotent across crash replays.
func (s *Store) SaveStepResult(ctx context.Context, result runlog.StepResult) error {
	query := `
		INSERT INTO pipeline_steps (run_id, name, payload, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, name) DO UPDATE SET
			payload      = EXCLUDED.payload,
			completed_at = EXCLUDED.completed_at`
	_, err := s.db.Exec(ctx, query,
		result.RunID, result.Name, []byte(result.Payload), result.CompletedAt)
	if err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	return nil
}

// GetStepResult returns the memo for one step, or core.ErrNotFound.
func (s *Store) GetStepResult(ctx context.Context, runID, name string) (runlog.StepResult, error) {
	row := s.db.QueryRow(ctx, `
		SELECT run_id, name, payload, completed_at
		FROM pipeline_steps WHERE run_id = $1 AND name = $2`, runID, name)
	var result runlog.StepResult
	var payload []byte
	err := row.Scan(&result.RunID, &result.Name, &payload, &result.CompletedAt)
	if err != nil {
		return runlog.StepResult{}, wrapNotFound("get step result", err)
	}
	result.Payload = payload
	return result, nil
}
