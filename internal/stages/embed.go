package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/artatlas/venue-crawler/internal/core"
)

// EmbedReport summarizes one embedding batch.
type EmbedReport struct {
	EventIDs  []string `json:"event_ids,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// EmbedEvents computes and stores vectors for the given events, then asks the
// similarity stage to look for merge candidates. Embedding writes are keyed
// per event, so repeats overwrite rather than duplicate.
func (p *Pipeline) EmbedEvents(ctx context.Context, eventIDs []string) (EmbedReport, error) {
	var report EmbedReport
	events := make([]core.ExtractedEvent, 0, len(eventIDs))
	texts := make([]string, 0, len(eventIDs))
	for _, id := range eventIDs {
		event, err := p.store.GetEvent(ctx, id)
		if err != nil {
			continue
		}
		events = append(events, event)
		texts = append(texts, eventText(event))
	}
	if len(events) == 0 {
		return report, nil
	}

	vectors, err := p.gateway.Embed(ctx, texts)
	if err != nil {
		return EmbedReport{}, fmt.Errorf("embed events: %w", err)
	}
	if len(vectors) != len(events) {
		return EmbedReport{}, fmt.Errorf("embed events: got %d vectors for %d inputs", len(vectors), len(events))
	}
	now := p.clock.Now()
	for i, event := range events {
		if err := p.store.SetEventEmbedding(ctx, event.ID, vectors[i], now); err != nil {
			return EmbedReport{}, fmt.Errorf("store event embedding: %w", err)
		}
		report.EventIDs = append(report.EventIDs, event.ID)
		p.publish(ctx, core.Message{Type: core.MsgSimilarityCompute, EntityType: "event", EntityID: event.ID})
	}
	return report, nil
}

// EmbedEntities computes and stores vectors for source entities.
func (p *Pipeline) EmbedEntities(ctx context.Context, entityIDs []string) (EmbedReport, error) {
	var report EmbedReport
	entities := make([]core.SourceEntity, 0, len(entityIDs))
	texts := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		entity, err := p.store.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		entities = append(entities, entity)
		texts = append(texts, entityText(entity))
	}
	if len(entities) == 0 {
		return report, nil
	}

	vectors, err := p.gateway.Embed(ctx, texts)
	if err != nil {
		return EmbedReport{}, fmt.Errorf("embed entities: %w", err)
	}
	if len(vectors) != len(entities) {
		return EmbedReport{}, fmt.Errorf("embed entities: got %d vectors for %d inputs", len(vectors), len(entities))
	}
	now := p.clock.Now()
	for i, entity := range entities {
		if err := p.store.SetEntityEmbedding(ctx, entity.ID, vectors[i], now); err != nil {
			return EmbedReport{}, fmt.Errorf("store entity embedding: %w", err)
		}
		report.EntityIDs = append(report.EntityIDs, entity.ID)
		p.publish(ctx, core.Message{Type: core.MsgSimilarityCompute, EntityType: "entity", EntityID: entity.ID})
	}
	return report, nil
}

func eventText(event core.ExtractedEvent) string {
	parts := []string{event.Title}
	parts = append(parts, event.Artists...)
	parts = append(parts, event.Tags...)
	return strings.Join(parts, " | ")
}

func entityText(entity core.SourceEntity) string {
	parts := []string{entity.Name, entity.City, entity.Country, entity.NormalizedURL}
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " | ")
}
