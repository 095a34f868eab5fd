// Package memory provides an in-memory Store for development and testing.
// Upsert keys mirror the Postgres schema exactly so behavior matches across
// backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Store implements core.Store backed by maps.
type Store struct {
	mu          sync.RWMutex
	entities    map[string]core.SourceEntity
	entityByURL map[string]string
	pages       map[string]core.SourcePage
	pageByURL   map[string]string
	events      map[string]core.ExtractedEvent
	persons     map[string]core.ExtractedPerson
	actorStates map[string]core.ActorState
	candidates  map[string]core.MergeCandidate

	runlog runLog
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entities:    make(map[string]core.SourceEntity),
		entityByURL: make(map[string]string),
		pages:       make(map[string]core.SourcePage),
		pageByURL:   make(map[string]string),
		events:      make(map[string]core.ExtractedEvent),
		persons:     make(map[string]core.ExtractedPerson),
		actorStates: make(map[string]core.ActorState),
		candidates:  make(map[string]core.MergeCandidate),
		runlog:      newRunLog(),
	}
}

// UpsertEntity inserts or updates an entity keyed on its normalized URL.
// Display fields already present are only overwritten by non-empty values,
// so a repeat seed never wipes extracted metadata.
func (s *Store) UpsertEntity(_ context.Context, entity core.SourceEntity) (core.SourceEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entityByURL[entity.NormalizedURL]; ok {
		existing := s.entities[id]
		if entity.Name != "" {
			existing.Name = entity.Name
		}
		if entity.City != "" {
			existing.City = entity.City
		}
		if entity.Country != "" {
			existing.Country = entity.Country
		}
		if entity.AboutURL != "" {
			existing.AboutURL = entity.AboutURL
		}
		existing.UpdatedAt = entity.UpdatedAt
		s.entities[id] = existing
		return existing, nil
	}
	s.entities[entity.ID] = entity
	s.entityByURL[entity.NormalizedURL] = entity.ID
	return entity, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(_ context.Context, id string) (core.SourceEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	if !ok {
		return core.SourceEntity{}, core.ErrNotFound
	}
	return entity, nil
}

// GetEntityByNormalizedURL fetches an entity by its unique URL key.
func (s *Store) GetEntityByNormalizedURL(_ context.Context, normalized string) (core.SourceEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entityByURL[normalized]
	if !ok {
		return core.SourceEntity{}, core.ErrNotFound
	}
	return s.entities[id], nil
}

// ListEntities returns all entities in stable id order.
func (s *Store) ListEntities(_ context.Context) ([]core.SourceEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SourceEntity, 0, len(s.entities))
	for _, entity := range s.entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPage inserts or updates a page keyed on its normalized URL.
func (s *Store) UpsertPage(_ context.Context, page core.SourcePage) (core.SourcePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pageByURL[page.NormalizedURL]; ok {
		page.ID = id
	}
	s.pages[page.ID] = page
	s.pageByURL[page.NormalizedURL] = page.ID
	return page, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(_ context.Context, id string) (core.SourcePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return core.SourcePage{}, core.ErrNotFound
	}
	return page, nil
}

// GetPageByNormalizedURL fetches a page by its unique URL key.
func (s *Store) GetPageByNormalizedURL(_ context.Context, normalized string) (core.SourcePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pageByURL[normalized]
	if !ok {
		return core.SourcePage{}, core.ErrNotFound
	}
	return s.pages[id], nil
}

// ListPagesBySource returns all pages belonging to one entity.
func (s *Store) ListPagesBySource(_ context.Context, sourceID string) ([]core.SourcePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.SourcePage
	for _, page := range s.pages {
		if page.SourceID == sourceID {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedURL < out[j].NormalizedURL })
	return out, nil
}

// ListPagesByClassification returns one entity's pages with a classification.
func (s *Store) ListPagesByClassification(_ context.Context, sourceID string, class core.Classification) ([]core.SourcePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.SourcePage
	for _, page := range s.pages {
		if page.SourceID == sourceID && page.Classification == class {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedURL < out[j].NormalizedURL })
	return out, nil
}

// UpsertEvent inserts or updates an event keyed on its identity id.
func (s *Store) UpsertEvent(_ context.Context, event core.ExtractedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[event.ID]; ok {
		// Keep the embedding across re-extraction of unchanged facts.
		if event.Embedding == nil {
			event.Embedding = existing.Embedding
		}
		event.MergedInto = existing.MergedInto
	}
	s.events[event.ID] = event
	return nil
}

// GetEvent fetches an event by id.
func (s *Store) GetEvent(_ context.Context, id string) (core.ExtractedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return core.ExtractedEvent{}, core.ErrNotFound
	}
	return event, nil
}

// ListEventsBySource returns one entity's events.
func (s *Store) ListEventsBySource(_ context.Context, sourceID string) ([]core.ExtractedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ExtractedEvent
	for _, event := range s.events {
		if event.SourceID == sourceID {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListEvents returns every event.
func (s *Store) ListEvents(_ context.Context) ([]core.ExtractedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ExtractedEvent, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPerson inserts or updates a person keyed on the identity id.
func (s *Store) UpsertPerson(_ context.Context, person core.ExtractedPerson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.persons[person.ID]; ok && person.Embedding == nil {
		person.Embedding = existing.Embedding
	}
	s.persons[person.ID] = person
	return nil
}

// GetPerson fetches a person by id.
func (s *Store) GetPerson(_ context.Context, id string) (core.ExtractedPerson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	person, ok := s.persons[id]
	if !ok {
		return core.ExtractedPerson{}, core.ErrNotFound
	}
	return person, nil
}

// SaveActorState persists one entity's scheduling state.
func (s *Store) SaveActorState(_ context.Context, state core.ActorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actorStates[state.SourceID] = state
	return nil
}

// LoadActorState restores one entity's scheduling state.
func (s *Store) LoadActorState(_ context.Context, sourceID string) (core.ActorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.actorStates[sourceID]
	if !ok {
		return core.ActorState{}, core.ErrNotFound
	}
	return state, nil
}

// SetEntityEmbedding stores an entity's vector.
func (s *Store) SetEntityEmbedding(_ context.Context, entityID string, vec []float32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[entityID]
	if !ok {
		return core.ErrNotFound
	}
	entity.Embedding = append([]float32(nil), vec...)
	entity.EmbeddedAt = &at
	s.entities[entityID] = entity
	return nil
}

// SetEventEmbedding stores an event's vector.
func (s *Store) SetEventEmbedding(_ context.Context, eventID string, vec []float32, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return core.ErrNotFound
	}
	event.Embedding = append([]float32(nil), vec...)
	s.events[eventID] = event
	return nil
}

// UpsertMergeCandidate records a proposed merge, keyed on the ordered pair.
func (s *Store) UpsertMergeCandidate(_ context.Context, cand core.MergeCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[cand.EntityType+"|"+cand.LeftID+"|"+cand.RightID] = cand
	return nil
}

// ListMergeCandidates returns pending candidates for one entity type.
func (s *Store) ListMergeCandidates(_ context.Context, entityType string) ([]core.MergeCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MergeCandidate
	for _, cand := range s.candidates {
		if cand.EntityType == entityType {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeftID != out[j].LeftID {
			return out[i].LeftID < out[j].LeftID
		}
		return out[i].RightID < out[j].RightID
	})
	return out, nil
}

// MergeEntities marks the loser entity as merged into the winner.
func (s *Store) MergeEntities(_ context.Context, winnerID, loserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	winner, ok := s.entities[winnerID]
	if !ok {
		return core.ErrNotFound
	}
	loser, ok := s.entities[loserID]
	if !ok {
		return core.ErrNotFound
	}
	loser.MergedInto = winner.ID
	s.entities[loserID] = loser
	return nil
}

// MergeEvents marks the loser event as merged into the winner.
func (s *Store) MergeEvents(_ context.Context, winnerID, loserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	winner, ok := s.events[winnerID]
	if !ok {
		return core.ErrNotFound
	}
	loser, ok := s.events[loserID]
	if !ok {
		return core.ErrNotFound
	}
	loser.MergedInto = winner.ID
	s.events[loserID] = loser
	return nil
}
