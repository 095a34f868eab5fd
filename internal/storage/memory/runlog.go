package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

type runLog struct {
	mu    sync.RWMutex
	runs  map[string]runlog.Run
	steps map[string]runlog.StepResult
}

func newRunLog() runLog {
	return runLog{
		runs:  make(map[string]runlog.Run),
		steps: make(map[string]runlog.StepResult),
	}
}

func stepKey(runID, name string) string { return runID + "|" + name }

// UpsertRun creates or replaces a run row.
func (s *Store) UpsertRun(_ context.Context, run runlog.Run) error {
	s.runlog.mu.Lock()
	defer s.runlog.mu.Unlock()
	s.runlog.runs[run.ID] = run
	return nil
}

// GetRun fetches a run row.
func (s *Store) GetRun(_ context.Context, runID string) (runlog.Run, error) {
	s.runlog.mu.RLock()
	defer s.runlog.mu.RUnlock()
	run, ok := s.runlog.runs[runID]
	if !ok {
		return runlog.Run{}, core.ErrNotFound
	}
	return run, nil
}

// FinishRun marks a run terminal.
func (s *Store) FinishRun(_ context.Context, runID string, status runlog.Status, failedStep, errText string, finishedAt time.Time) error {
	s.runlog.mu.Lock()
	defer s.runlog.mu.Unlock()
	run, ok := s.runlog.runs[runID]
	if !ok {
		return core.ErrNotFound
	}
	run.Status = status
	run.FailedStep = failedStep
	run.Error = errText
	run.FinishedAt = &finishedAt
	s.runlog.runs[runID] = run
	return nil
}

// SaveStepResult upserts a step's memoized result.
func (s *Store) SaveStepResult(_ context.Context, result runlog.StepResult) error {
	s.runlog.mu.Lock()
	defer s.runlog.mu.Unlock()
	s.runlog.steps[stepKey(result.RunID, result.Name)] = result
	return nil
}

// GetStepResult returns a step's memoized result, or core.ErrNotFound.
func (s *Store) GetStepResult(_ context.Context, runID, name string) (runlog.StepResult, error) {
	s.runlog.mu.RLock()
	defer s.runlog.mu.RUnlock()
	result, ok := s.runlog.steps[stepKey(runID, name)]
	if !ok {
		return runlog.StepResult{}, core.ErrNotFound
	}
	return result, nil
}
