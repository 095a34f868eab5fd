// Package core defines the types shared across the crawl and extraction subsystems.
package core

import (
	"time"
)

// Classification is the semantic category assigned to a crawled page. It
// drives both extraction routing and the recrawl TTL.
type Classification string

// Page classifications produced by the extraction gateway.
const (
	ClassUnknown         Classification = ""
	ClassEvent           Classification = "event"
	ClassHistoricalEvent Classification = "historical_event"
	ClassCreatorInfo     Classification = "creator_info"
	ClassArtists         Classification = "artists"
	ClassMultipleEvents  Classification = "multiple_events"
	ClassOther           Classification = "other"
)

// FetchStatus is the lifecycle state of a page's content fetch.
type FetchStatus string

// Fetch status values persisted per page.
const (
	FetchNever    FetchStatus = "never"
	FetchQueued   FetchStatus = "queued"
	FetchFetching FetchStatus = "fetching"
	FetchOK       FetchStatus = "ok"
	FetchError    FetchStatus = "error"
	FetchSkipped  FetchStatus = "skipped"
)

// ParseStatus records the outcome of structured extraction for one page.
type ParseStatus string

// Parse status values persisted per page.
const (
	ParseNone  ParseStatus = ""
	ParseOK    ParseStatus = "ok"
	ParseError ParseStatus = "error"
)

// SourceEntity is one crawl target, e.g. a gallery. Uniquely identified by
// its normalized canonical URL. Created on first seed, never hard-deleted.
type SourceEntity struct {
	ID            string     `json:"id"`
	CanonicalURL  string     `json:"canonical_url"`
	NormalizedURL string     `json:"normalized_url"`
	Name          string     `json:"name,omitempty"`
	City          string     `json:"city,omitempty"`
	Country       string     `json:"country,omitempty"`
	AboutURL      string     `json:"about_url,omitempty"`
	MergedInto    string     `json:"merged_into,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	EmbeddedAt    *time.Time `json:"embedded_at,omitempty"`
	Embedding     []float32  `json:"-"`
}

// SourcePage is one crawled URL belonging to a source entity.
// NormalizedURL is the upsert key.
type SourcePage struct {
	ID             string         `json:"id"`
	SourceID       string         `json:"source_id"`
	URL            string         `json:"url"`
	NormalizedURL  string         `json:"normalized_url"`
	Classification Classification `json:"classification,omitempty"`
	FetchStatus    FetchStatus    `json:"fetch_status"`
	Markdown       string         `json:"markdown,omitempty"`
	ScrapedAt      *time.Time     `json:"scraped_at,omitempty"`
	ParseStatus    ParseStatus    `json:"parse_status,omitempty"`
	ParseError     string         `json:"parse_error,omitempty"`
	// Extraction holds the typed extraction result once the page has been
	// extracted; nil until then. Processing into event/person rows is a
	// separate, idempotent stage.
	Extraction *Extraction `json:"extraction,omitempty"`
}

// ExtractedEvent is a structured event fact derived from one page. ID is the
// deterministic identity key scoped to the owning entity, used as the upsert key.
type ExtractedEvent struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	PageID     string     `json:"page_id"`
	Title      string     `json:"title"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Artists    []string   `json:"artists,omitempty"`
	Embedding  []float32  `json:"-"`
	MergedInto string     `json:"merged_into,omitempty"`
}

// ExtractedPerson is a structured person fact (artist, curator) derived from
// one page. ID is the deterministic identity key.
type ExtractedPerson struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Website   string    `json:"website,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	PageID    string    `json:"page_id"`
	SourceID  string    `json:"source_id"`
	Embedding []float32 `json:"-"`
}

// ActorStatus is the lifecycle state of an entity actor.
type ActorStatus string

// Actor status values.
const (
	ActorIdle     ActorStatus = "idle"
	ActorScraping ActorStatus = "scraping"
	ActorFailed   ActorStatus = "failed"
)

// ActorState is the durable per-entity scheduling record. It is owned
// exclusively by the entity's actor and only mutated through it.
type ActorState struct {
	SourceID             string      `json:"source_id"`
	Status               ActorStatus `json:"status"`
	LastScraped          *time.Time  `json:"last_scraped,omitempty"`
	LastSuccessfulScrape *time.Time  `json:"last_successful_scrape,omitempty"`
	CurrentRunID         string      `json:"current_run_id,omitempty"`
	LastError            string      `json:"last_error,omitempty"`
}

// MergeCandidate pairs two possibly-duplicate records flagged by similarity
// search, pending explicit review before merge.
type MergeCandidate struct {
	EntityType string    `json:"entity_type"`
	LeftID     string    `json:"left_id"`
	RightID    string    `json:"right_id"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// PipelineView is returned by the pipeline inspection endpoint.
type PipelineView struct {
	Entity SourceEntity     `json:"entity"`
	Pages  []SourcePage     `json:"pages"`
	Events []ExtractedEvent `json:"events"`
}
