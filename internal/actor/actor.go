// Package actor hosts the per-entity coordinators. Each Actor owns one
// source entity's scraping lifecycle: it serializes every operation for that
// entity through a single mailbox goroutine, persists its scheduling state on
// every transition, and gates new pipeline runs behind the recrawl policy.
// Per-entity mutual exclusion falls out of the mailbox; no locks are shared
// across entities.
package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

// PipelineFunc executes one full pipeline run for an entity. Implemented by
// the stages package; the actor only cares about the terminal run record.
type PipelineFunc func(ctx context.Context, runID string, entity core.SourceEntity) (runlog.Run, error)

// StartResult is returned by StartScraping.
type StartResult struct {
	// RunID references the newly started or already in-flight run.
	RunID string `json:"run_id,omitempty"`
	// Cached is true when nothing was due and no run was started; the
	// caller should read the entity's last-known pages/events instead.
	Cached bool `json:"cached"`
	// Status is the actor status after the call.
	Status core.ActorStatus `json:"status"`
}

// ErrStopped is returned for calls against a stopped actor.
var ErrStopped = errors.New("actor stopped")

type call struct {
	fn   func(ctx context.Context)
	done chan struct{}
	ctx  context.Context
}

// Actor coordinates scraping for exactly one source entity.
type Actor struct {
	sourceID string
	store    core.Store
	policy   *recrawl.Policy
	clock    core.Clock
	idGen    core.IDGenerator
	pipeline PipelineFunc
	logger   *zap.Logger

	mailbox chan call
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Owned exclusively by the mailbox goroutine after start.
	state   core.ActorState
	loaded  bool
	running bool
}

// New constructs and starts an Actor for one entity. Stop must be called to
// release the mailbox goroutine.
func New(
	sourceID string,
	store core.Store,
	policy *recrawl.Policy,
	clock core.Clock,
	idGen core.IDGenerator,
	pipeline PipelineFunc,
	logger *zap.Logger,
) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Actor{
		sourceID: sourceID,
		store:    store,
		policy:   policy,
		clock:    clock,
		idGen:    idGen,
		pipeline: pipeline,
		logger:   logger.With(zap.String("source_id", sourceID)),
		mailbox:  make(chan call, 16),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// SourceID returns the entity this actor owns.
func (a *Actor) SourceID() string { return a.sourceID }

// Stop shuts the mailbox down. In-flight pipeline runs finish on their own;
// their completion update is dropped if the actor is gone.
func (a *Actor) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Actor) loop() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case c := <-a.mailbox:
			if c.ctx.Err() == nil {
				c.fn(c.ctx)
			}
			close(c.done)
		}
	}
}

// send runs fn on the mailbox goroutine and waits for it to finish.
func (a *Actor) send(ctx context.Context, fn func(ctx context.Context)) error {
	c := call{fn: fn, done: make(chan struct{}), ctx: ctx}
	select {
	case <-a.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case a.mailbox <- c:
	}
	select {
	case <-a.stopCh:
		return ErrStopped
	case <-c.done:
		return nil
	}
}

// ensureLoaded lazily restores durable state on the first operation.
func (a *Actor) ensureLoaded(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	state, err := a.store.LoadActorState(ctx, a.sourceID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		state = core.ActorState{SourceID: a.sourceID, Status: core.ActorIdle}
	case err != nil:
		return fmt.Errorf("load actor state: %w", err)
	}
	a.state = state
	a.loaded = true
	return nil
}

// saveState persists the current state; every transition goes through here.
func (a *Actor) saveState(ctx context.Context) error {
	if err := a.store.SaveActorState(ctx, a.state); err != nil {
		return fmt.Errorf("save actor state: %w", err)
	}
	return nil
}

// Status returns the durable actor state.
func (a *Actor) Status(ctx context.Context) (core.ActorState, error) {
	var state core.ActorState
	var opErr error
	err := a.send(ctx, func(ctx context.Context) {
		if opErr = a.ensureLoaded(ctx); opErr != nil {
			return
		}
		state = a.state
	})
	if err != nil {
		return core.ActorState{}, err
	}
	return state, opErr
}

// StartScraping triggers a pipeline run for the entity unless one is already
// in flight or, with forceRefresh false, nothing is due under the recrawl
// policy. The pipeline itself runs off the mailbox so status queries stay
// responsive; its completion is applied back through the mailbox.
func (a *Actor) StartScraping(ctx context.Context, forceRefresh bool) (StartResult, error) {
	var res StartResult
	var opErr error
	err := a.send(ctx, func(ctx context.Context) {
		res, opErr = a.startScraping(ctx, forceRefresh)
	})
	if err != nil {
		return StartResult{}, err
	}
	return res, opErr
}

func (a *Actor) startScraping(ctx context.Context, forceRefresh bool) (StartResult, error) {
	if err := a.ensureLoaded(ctx); err != nil {
		return StartResult{}, err
	}

	// A run in flight is never duplicated; hand back its reference. A
	// scraping state with no local goroutine behind it was restored from a
	// previous process that died mid-run: relaunch it under the same run id,
	// so the memoized steps of the interrupted run are reused.
	if a.state.Status == core.ActorScraping && a.state.CurrentRunID != "" {
		if !a.running {
			entity, err := a.store.GetEntity(ctx, a.sourceID)
			if err != nil {
				return StartResult{}, fmt.Errorf("resolve entity: %w", err)
			}
			a.running = true
			go a.runPipeline(a.state.CurrentRunID, entity)
			a.logger.Info("resuming interrupted run", zap.String("run_id", a.state.CurrentRunID))
		}
		return StartResult{RunID: a.state.CurrentRunID, Status: a.state.Status}, nil
	}

	entity, err := a.store.GetEntity(ctx, a.sourceID)
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve entity: %w", err)
	}

	if !forceRefresh {
		pages, err := a.store.ListPagesBySource(ctx, a.sourceID)
		if err != nil {
			return StartResult{}, fmt.Errorf("list pages: %w", err)
		}
		if !a.policy.AnyDue(pages, a.clock.Now()) {
			a.logger.Debug("nothing due, serving cached result")
			return StartResult{Cached: true, Status: a.state.Status}, nil
		}
	}

	runID, err := a.idGen.NewID()
	if err != nil {
		return StartResult{}, fmt.Errorf("generate run id: %w", err)
	}

	a.state.Status = core.ActorScraping
	a.state.CurrentRunID = runID
	a.state.LastError = ""
	if err := a.saveState(ctx); err != nil {
		return StartResult{}, err
	}

	a.running = true
	go a.runPipeline(runID, entity)

	a.logger.Info("pipeline run started", zap.String("run_id", runID), zap.Bool("force", forceRefresh))
	return StartResult{RunID: runID, Status: core.ActorScraping}, nil
}

// runPipeline executes off the mailbox and posts the completion back in.
func (a *Actor) runPipeline(runID string, entity core.SourceEntity) {
	ctx := context.Background()
	run, err := a.pipeline(ctx, runID, entity)
	if err == nil && run.Status == runlog.StatusFailed {
		err = errors.New(run.Error)
	}
	if sendErr := a.send(ctx, func(ctx context.Context) {
		a.onRunCompleted(ctx, runID, err)
	}); sendErr != nil {
		a.logger.Warn("dropping run completion", zap.String("run_id", runID), zap.Error(sendErr))
	}
}

// onRunCompleted records the outcome: lastScraped always advances; a success
// also advances lastSuccessfulScrape and returns to idle, a failure parks the
// actor in failed until the next external trigger re-evaluates.
func (a *Actor) onRunCompleted(ctx context.Context, runID string, runErr error) {
	if err := a.ensureLoaded(ctx); err != nil {
		a.logger.Error("completion with unloadable state", zap.Error(err))
		return
	}
	if a.state.CurrentRunID != runID {
		// Stale completion from a superseded run; the newer run owns the state.
		a.logger.Warn("ignoring stale run completion", zap.String("run_id", runID))
		return
	}
	a.running = false
	now := a.clock.Now()
	a.state.LastScraped = &now
	a.state.CurrentRunID = ""
	if runErr != nil {
		a.state.Status = core.ActorFailed
		a.state.LastError = runErr.Error()
		a.logger.Warn("pipeline run failed", zap.String("run_id", runID), zap.Error(runErr))
	} else {
		a.state.Status = core.ActorIdle
		a.state.LastSuccessfulScrape = &now
		a.state.LastError = ""
		a.logger.Info("pipeline run completed", zap.String("run_id", runID))
	}
	if err := a.saveState(ctx); err != nil {
		a.logger.Error("persist completion state", zap.String("run_id", runID), zap.Error(err))
	}
}

// WaitIdle blocks until the actor leaves the scraping state or the context
// ends. Intended for tests and synchronous tooling.
func (a *Actor) WaitIdle(ctx context.Context, poll time.Duration) (core.ActorState, error) {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		state, err := a.Status(ctx)
		if err != nil {
			return core.ActorState{}, err
		}
		if state.Status != core.ActorScraping {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-time.After(poll):
		}
	}
}
