// Package similarity proposes merge candidates between embedded records.
// Candidates above the threshold are persisted for review; merging is always
// an explicit winner/loser operation, never an automatic collapse.
package similarity

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Default similarity thresholds.
const (
	DefaultEntityThreshold = 0.86
	DefaultEventThreshold  = 0.88
)

// Config holds the per-type thresholds.
type Config struct {
	EntityThreshold float64
	EventThreshold  float64
}

func (c Config) withDefaults() Config {
	if c.EntityThreshold <= 0 {
		c.EntityThreshold = DefaultEntityThreshold
	}
	if c.EventThreshold <= 0 {
		c.EventThreshold = DefaultEventThreshold
	}
	return c
}

// Engine computes and records merge candidates.
type Engine struct {
	store  core.Store
	clock  core.Clock
	cfg    Config
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(store core.Store, clock core.Clock, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, cfg: cfg.withDefaults(), logger: logger}
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ComputeForEvent scans all embedded events for near-duplicates of the given
// one and records candidates at or above the threshold. Idempotent: the
// candidate upsert is keyed on the ordered id pair.
func (e *Engine) ComputeForEvent(ctx context.Context, eventID string, threshold *float64) ([]core.MergeCandidate, error) {
	limit := e.cfg.EventThreshold
	if threshold != nil {
		limit = *threshold
	}
	target, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	if len(target.Embedding) == 0 {
		return nil, nil
	}
	events, err := e.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var found []core.MergeCandidate
	for _, other := range events {
		if other.ID == target.ID || other.MergedInto != "" || len(other.Embedding) == 0 {
			continue
		}
		score := Cosine(target.Embedding, other.Embedding)
		if score < limit {
			continue
		}
		cand := e.candidate("event", target.ID, other.ID, score)
		if err := e.store.UpsertMergeCandidate(ctx, cand); err != nil {
			return nil, fmt.Errorf("record candidate: %w", err)
		}
		found = append(found, cand)
	}
	if len(found) > 0 {
		e.logger.Info("event merge candidates found",
			zap.String("event_id", eventID), zap.Int("count", len(found)))
	}
	return found, nil
}

// ComputeForEntity scans all embedded entities for near-duplicates.
func (e *Engine) ComputeForEntity(ctx context.Context, entityID string, threshold *float64) ([]core.MergeCandidate, error) {
	limit := e.cfg.EntityThreshold
	if threshold != nil {
		limit = *threshold
	}
	target, err := e.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", entityID, err)
	}
	if len(target.Embedding) == 0 {
		return nil, nil
	}
	entities, err := e.store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	var found []core.MergeCandidate
	for _, other := range entities {
		if other.ID == target.ID || other.MergedInto != "" || len(other.Embedding) == 0 {
			continue
		}
		score := Cosine(target.Embedding, other.Embedding)
		if score < limit {
			continue
		}
		cand := e.candidate("entity", target.ID, other.ID, score)
		if err := e.store.UpsertMergeCandidate(ctx, cand); err != nil {
			return nil, fmt.Errorf("record candidate: %w", err)
		}
		found = append(found, cand)
	}
	return found, nil
}

// candidate orders the id pair so (a,b) and (b,a) collapse to one row.
func (e *Engine) candidate(entityType, a, b string, score float64) core.MergeCandidate {
	left, right := a, b
	if right < left {
		left, right = right, left
	}
	return core.MergeCandidate{
		EntityType: entityType,
		LeftID:     left,
		RightID:    right,
		Score:      score,
		CreatedAt:  e.clock.Now(),
	}
}

// Merge executes a reviewed merge: the loser is folded into the winner. Only
// explicit winner/loser pairs are accepted; deterministic-identity mismatches
// are never auto-collapsed.
func (e *Engine) Merge(ctx context.Context, entityType, winnerID, loserID string) error {
	if winnerID == "" || loserID == "" || winnerID == loserID {
		return fmt.Errorf("invalid merge pair %q/%q", winnerID, loserID)
	}
	switch entityType {
	case "entity":
		if err := e.store.MergeEntities(ctx, winnerID, loserID); err != nil {
			return fmt.Errorf("merge entities: %w", err)
		}
	case "event":
		if err := e.store.MergeEvents(ctx, winnerID, loserID); err != nil {
			return fmt.Errorf("merge events: %w", err)
		}
	default:
		return fmt.Errorf("unknown merge entity type %q", entityType)
	}
	e.logger.Info("merge executed",
		zap.String("entity_type", entityType),
		zap.String("winner", winnerID),
		zap.String("loser", loserID),
	)
	return nil
}
