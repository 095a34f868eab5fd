package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/identity"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
)

// Coordinator owns the actor registry. It creates an actor the first time an
// entity is seen and routes every later trigger for that entity to the same
// instance, so per-entity serialization holds process-wide.
type Coordinator struct {
	store    core.Store
	policy   *recrawl.Policy
	clock    core.Clock
	idGen    core.IDGenerator
	pipeline PipelineFunc
	logger   *zap.Logger

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(
	store core.Store,
	policy *recrawl.Policy,
	clock core.Clock,
	idGen core.IDGenerator,
	pipeline PipelineFunc,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		policy:   policy,
		clock:    clock,
		idGen:    idGen,
		pipeline: pipeline,
		logger:   logger,
		actors:   make(map[string]*Actor),
	}
}

// Seed registers a crawl target. Idempotent by normalized URL: re-seeding the
// same site, with different casing or a trailing slash, returns the existing
// entity. The entity id is content-derived from the normalized URL so repeat
// seeds collapse in the store as well.
func (c *Coordinator) Seed(ctx context.Context, mainURL, aboutURL string) (core.SourceEntity, error) {
	normalized, err := core.NormalizeURL(mainURL)
	if err != nil {
		return core.SourceEntity{}, fmt.Errorf("seed url: %w", err)
	}
	id, err := identity.EntityKey(normalized)
	if err != nil {
		return core.SourceEntity{}, err
	}
	now := c.clock.Now()
	entity := core.SourceEntity{
		ID:            id,
		CanonicalURL:  mainURL,
		NormalizedURL: normalized,
		AboutURL:      aboutURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	stored, err := c.store.UpsertEntity(ctx, entity)
	if err != nil {
		return core.SourceEntity{}, fmt.Errorf("upsert entity: %w", err)
	}
	return stored, nil
}

// ActorFor returns the actor managing the entity, creating it on first sight.
func (c *Coordinator) ActorFor(sourceID string) *Actor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.actors[sourceID]; ok {
		return a
	}
	a := New(sourceID, c.store, c.policy, c.clock, c.idGen, c.pipeline, c.logger)
	c.actors[sourceID] = a
	return a
}

// BatchResult reports the outcome of one seed URL in a fan-out batch.
type BatchResult struct {
	URL      string      `json:"url"`
	SourceID string      `json:"source_id,omitempty"`
	Start    StartResult `json:"start"`
	Error    string      `json:"error,omitempty"`
}

// StartBatch seeds a batch of URLs and triggers each entity's actor. Entity
// failures are reported per item; the batch never aborts as a whole.
func (c *Coordinator) StartBatch(ctx context.Context, urls []string, forceRefresh bool) []BatchResult {
	results := make([]BatchResult, 0, len(urls))
	for _, url := range urls {
		res := BatchResult{URL: url}
		entity, err := c.Seed(ctx, url, "")
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		res.SourceID = entity.ID
		start, err := c.ActorFor(entity.ID).StartScraping(ctx, forceRefresh)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Start = start
		}
		results = append(results, res)
	}
	return results
}

// WaitIdle blocks until every managed actor has left the scraping state.
func (c *Coordinator) WaitIdle(ctx context.Context, poll time.Duration) error {
	c.mu.Lock()
	actors := make([]*Actor, 0, len(c.actors))
	for _, a := range c.actors {
		actors = append(actors, a)
	}
	c.mu.Unlock()
	for _, a := range actors {
		if _, err := a.WaitIdle(ctx, poll); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down every managed actor.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.actors {
		a.Stop()
	}
	c.actors = make(map[string]*Actor)
}
