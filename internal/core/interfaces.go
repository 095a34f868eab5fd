package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound signals that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence adapter consumed by stages and actors. Every
// write uses upsert-by-unique-key semantics so re-executed steps collapse
// to at-most-once effects.
type Store interface {
	UpsertEntity(ctx context.Context, entity SourceEntity) (SourceEntity, error)
	GetEntity(ctx context.Context, id string) (SourceEntity, error)
	GetEntityByNormalizedURL(ctx context.Context, normalized string) (SourceEntity, error)

	UpsertPage(ctx context.Context, page SourcePage) (SourcePage, error)
	GetPage(ctx context.Context, id string) (SourcePage, error)
	GetPageByNormalizedURL(ctx context.Context, normalized string) (SourcePage, error)
	ListPagesBySource(ctx context.Context, sourceID string) ([]SourcePage, error)
	ListPagesByClassification(ctx context.Context, sourceID string, class Classification) ([]SourcePage, error)

	UpsertEvent(ctx context.Context, event ExtractedEvent) error
	ListEventsBySource(ctx context.Context, sourceID string) ([]ExtractedEvent, error)
	ListEvents(ctx context.Context) ([]ExtractedEvent, error)
	GetEvent(ctx context.Context, id string) (ExtractedEvent, error)
	ListEntities(ctx context.Context) ([]SourceEntity, error)

	UpsertPerson(ctx context.Context, person ExtractedPerson) error
	GetPerson(ctx context.Context, id string) (ExtractedPerson, error)

	SaveActorState(ctx context.Context, state ActorState) error
	LoadActorState(ctx context.Context, sourceID string) (ActorState, error)

	SetEntityEmbedding(ctx context.Context, entityID string, vec []float32, at time.Time) error
	SetEventEmbedding(ctx context.Context, eventID string, vec []float32, at time.Time) error

	UpsertMergeCandidate(ctx context.Context, cand MergeCandidate) error
	ListMergeCandidates(ctx context.Context, entityType string) ([]MergeCandidate, error)
	MergeEntities(ctx context.Context, winnerID, loserID string) error
	MergeEvents(ctx context.Context, winnerID, loserID string) error
}

// EventDetails is one event as returned by the extraction gateway, before
// identity assignment.
type EventDetails struct {
	Title     string     `json:"title"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Artists   []string   `json:"artists,omitempty"`
}

// VenueDetails carries display metadata extracted from a creator_info page.
type VenueDetails struct {
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// PersonDetails is one person as returned by the extraction gateway.
type PersonDetails struct {
	Name    string   `json:"name"`
	Website string   `json:"website,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Extraction is the tagged result of structured extraction for one page.
// Exactly the fields valid for Kind are populated; Validate enforces that
// at the gateway boundary.
type Extraction struct {
	Kind   Classification  `json:"kind"`
	Event  *EventDetails   `json:"event,omitempty"`
	Events []EventDetails  `json:"events,omitempty"`
	Venue  *VenueDetails   `json:"venue,omitempty"`
	People []PersonDetails `json:"people,omitempty"`
}

// Validate enforces that exactly the fields valid for Kind are populated.
// Called at the gateway boundary so stage logic can trust the variant.
func (e Extraction) Validate() error {
	switch e.Kind {
	case ClassEvent, ClassHistoricalEvent:
		if e.Event == nil {
			return fmt.Errorf("extraction kind %s missing event payload", e.Kind)
		}
		if e.Events != nil || e.Venue != nil {
			return fmt.Errorf("extraction kind %s carries foreign payloads", e.Kind)
		}
	case ClassMultipleEvents:
		if len(e.Events) == 0 {
			return fmt.Errorf("extraction kind %s has no events", e.Kind)
		}
		if e.Event != nil || e.Venue != nil {
			return fmt.Errorf("extraction kind %s carries foreign payloads", e.Kind)
		}
	case ClassCreatorInfo:
		if e.Venue == nil {
			return fmt.Errorf("extraction kind %s missing venue payload", e.Kind)
		}
	case ClassArtists:
		if len(e.People) == 0 {
			return fmt.Errorf("extraction kind %s has no people", e.Kind)
		}
	case ClassOther:
		// Nothing to extract.
	default:
		return fmt.Errorf("unknown extraction kind %q", e.Kind)
	}
	return nil
}

// Gateway wraps the external structured-extraction service. Markdown in,
// typed object out; the core never inspects prompt text.
type Gateway interface {
	Classify(ctx context.Context, markdown, url string) (Classification, error)
	Extract(ctx context.Context, markdown, url string, kind Classification) (Extraction, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless render is warranted after a
// plain probe fetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Publisher pushes queue messages to a topic (Pub/Sub or in-memory).
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) (string, error)
}

// ErrQueueClosed signals that a queue has shut down; producers racing
// shutdown get this instead of a panic, consumers use it to stop.
var ErrQueueClosed = errors.New("queue closed")

// Queue provides enqueue/dequeue semantics for fan-out messages.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Dequeue(ctx context.Context) (Message, error)
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
