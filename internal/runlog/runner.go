package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/metrics"
)

// Config controls step execution behavior.
type Config struct {
	// StepTimeout bounds each attempt of a step function. A stalled external
	// call is cut off and treated as a step failure.
	StepTimeout time.Duration
	// MaxRetries is the number of additional attempts after a failed one.
	MaxRetries int
	// BackoffInitial is the delay before the first retry; doubles per attempt
	// up to BackoffMax.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 2 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	return c
}

// Runner executes step sequences against a Log.
type Runner struct {
	log    Log
	clock  core.Clock
	cfg    Config
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(log Log, clock core.Clock, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{log: log, clock: clock, cfg: cfg.withDefaults(), logger: logger}
}

// Execution is one in-flight run. Obtain it from Begin, invoke Step for each
// stage in declared order, then Finish. Not safe for concurrent use; a run
// executes its steps in sequence.
type Execution struct {
	runner *Runner
	run    Run
	seen   map[string]struct{}
	failed error
}

// ErrStepFailed wraps the failing step's error in Execution.Err.
var ErrStepFailed = errors.New("step failed")

// Begin creates the run row, or resumes it if a row with this id already
// exists. Resuming a terminal run restarts it as running; completed steps
// stay memoized.
func (r *Runner) Begin(ctx context.Context, runID, sourceID string) (*Execution, error) {
	run, err := r.log.GetRun(ctx, runID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		run = Run{
			ID:        runID,
			SourceID:  sourceID,
			Status:    StatusRunning,
			StartedAt: r.clock.Now(),
		}
		if err := r.log.UpsertRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run %s: %w", runID, err)
		}
		metrics.RunStarted()
	case err != nil:
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	default:
		r.logger.Info("resuming run",
			zap.String("run_id", runID),
			zap.String("source_id", run.SourceID),
			zap.String("prior_status", string(run.Status)),
		)
		run.Status = StatusRunning
		run.FailedStep = ""
		run.Error = ""
		run.FinishedAt = nil
		if err := r.log.UpsertRun(ctx, run); err != nil {
			return nil, fmt.Errorf("reopen run %s: %w", runID, err)
		}
	}
	return &Execution{runner: r, run: run, seen: make(map[string]struct{})}, nil
}

// Run returns a snapshot of the run row.
func (e *Execution) Run() Run { return e.run }

// Err returns the first step failure, or nil.
func (e *Execution) Err() error { return e.failed }

// Finish marks the run terminal: failed with the failing step recorded when
// any step failed, completed otherwise.
func (e *Execution) Finish(ctx context.Context) (Run, error) {
	now := e.runner.clock.Now()
	status := StatusCompleted
	failedStep := ""
	errText := ""
	if e.failed != nil {
		status = StatusFailed
		errText = e.failed.Error()
		var stepErr *stepError
		if errors.As(e.failed, &stepErr) {
			failedStep = stepErr.name
		}
	}
	if err := e.runner.log.FinishRun(ctx, e.run.ID, status, failedStep, errText, now); err != nil {
		return e.run, fmt.Errorf("finish run %s: %w", e.run.ID, err)
	}
	e.run.Status = status
	e.run.FailedStep = failedStep
	e.run.Error = errText
	e.run.FinishedAt = &now
	metrics.RunFinished(string(status))
	return e.run, nil
}

type stepError struct {
	name string
	err  error
}

func (s *stepError) Error() string { return fmt.Sprintf("step %s: %v", s.name, s.err) }
func (s *stepError) Unwrap() error { return s.err }

// Step executes one named stage with memoization. A persisted result short-
// circuits the function entirely; otherwise fn runs under the per-attempt
// timeout with bounded retries and its result is persisted before Step
// returns. Once a prior step has failed, Step is a no-op returning that
// failure, so downstream stages never execute.
//
// Names must be unique within a run: results are memoized by name, and a
// collision would replay the wrong payload. The function's side effects must
// be idempotent (upsert, not append): a crash after the side effect but
// before the memo write re-invokes fn on resume.
func Step[T any](ctx context.Context, e *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if e.failed != nil {
		return zero, e.failed
	}
	if _, dup := e.seen[name]; dup {
		e.failed = &stepError{name: name, err: errors.New("duplicate step name in run")}
		return zero, e.failed
	}
	e.seen[name] = struct{}{}

	if memo, err := e.runner.log.GetStepResult(ctx, e.run.ID, name); err == nil {
		var out T
		if err := json.Unmarshal(memo.Payload, &out); err != nil {
			e.failed = &stepError{name: name, err: fmt.Errorf("decode memoized result: %w", err)}
			return zero, e.failed
		}
		metrics.StepMemoHit(name)
		e.runner.logger.Debug("step memoized, skipping",
			zap.String("run_id", e.run.ID),
			zap.String("step", name),
		)
		return out, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		e.failed = &stepError{name: name, err: fmt.Errorf("read step memo: %w", err)}
		return zero, e.failed
	}

	out, err := attempt(ctx, e.runner, name, fn)
	if err != nil {
		e.failed = &stepError{name: name, err: err}
		metrics.StepFailed(name)
		e.runner.logger.Error("step failed",
			zap.String("run_id", e.run.ID),
			zap.String("source_id", e.run.SourceID),
			zap.String("step", name),
			zap.Error(err),
		)
		return zero, e.failed
	}

	payload, err := json.Marshal(out)
	if err != nil {
		e.failed = &stepError{name: name, err: fmt.Errorf("encode result: %w", err)}
		return zero, e.failed
	}
	result := StepResult{
		RunID:       e.run.ID,
		Name:        name,
		Payload:     payload,
		CompletedAt: e.runner.clock.Now(),
	}
	if err := e.runner.log.SaveStepResult(ctx, result); err != nil {
		e.failed = &stepError{name: name, err: fmt.Errorf("persist result: %w", err)}
		return zero, e.failed
	}
	metrics.StepExecuted(name)
	return out, nil
}

// attempt runs fn under the per-attempt timeout, retrying failures with
// capped exponential backoff up to MaxRetries extra attempts. Context
// cancellation is never retried.
func attempt[T any](ctx context.Context, r *Runner, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := r.cfg.BackoffInitial
	for try := 0; try <= r.cfg.MaxRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > r.cfg.BackoffMax {
				delay = r.cfg.BackoffMax
			}
			r.logger.Warn("retrying step",
				zap.String("step", name),
				zap.Int("attempt", try+1),
				zap.Error(lastErr),
			)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
	return zero, lastErr
}
