// Package postgres provides the Postgres-backed persistence adapter.
//
// Every write is an upsert on the record's unique key (normalized_url for
// entities and pages, the identity hash for events and persons), which is
// what lets retried pipeline steps re-execute without duplicating rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artatlas/venue-crawler/internal/core"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements core.Store and runlog.Log on Postgres.
type Store struct {
	db DB
}

// NewStore wraps an existing connection pool or mock.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(pool), pool, nil
}

const entityColumns = `id, canonical_url, normalized_url, name, city, country, about_url,
	merged_into, created_at, updated_at, embedded_at, embedding`

// UpsertEntity inserts or updates an entity on its normalized URL. Non-empty
// display fields win over stored ones; empty incoming fields never clobber.
func (s *Store) UpsertEntity(ctx context.Context, entity core.SourceEntity) (core.SourceEntity, error) {
	query := `
		INSERT INTO entities (id, canonical_url, normalized_url, name, city, country, about_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (normalized_url) DO UPDATE SET
			name       = COALESCE(NULLIF(EXCLUDED.name, ''), entities.name),
			city       = COALESCE(NULLIF(EXCLUDED.city, ''), entities.city),
			country    = COALESCE(NULLIF(EXCLUDED.country, ''), entities.country),
			about_url  = COALESCE(NULLIF(EXCLUDED.about_url, ''), entities.about_url),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + entityColumns
	row := s.db.QueryRow(ctx, query,
		entity.ID, entity.CanonicalURL, entity.NormalizedURL,
		entity.Name, entity.City, entity.Country, entity.AboutURL,
		entity.CreatedAt, entity.UpdatedAt,
	)
	stored, err := scanEntity(row)
	if err != nil {
		return core.SourceEntity{}, fmt.Errorf("upsert entity: %w", err)
	}
	return stored, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (core.SourceEntity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err != nil {
		return core.SourceEntity{}, wrapNotFound("get entity", err)
	}
	return entity, nil
}

// GetEntityByNormalizedURL fetches an entity by its unique URL key.
func (s *Store) GetEntityByNormalizedURL(ctx context.Context, normalized string) (core.SourceEntity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE normalized_url = $1`, normalized)
	entity, err := scanEntity(row)
	if err != nil {
		return core.SourceEntity{}, wrapNotFound("get entity by url", err)
	}
	return entity, nil
}

// ListEntities returns all entities.
func (s *Store) ListEntities(ctx context.Context) ([]core.SourceEntity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	var out []core.SourceEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

const pageColumns = `id, source_id, url, normalized_url, classification, fetch_status,
	markdown, scraped_at, parse_status, parse_error, extraction`

// UpsertPage inserts or updates a page on its normalized URL.
func (s *Store) UpsertPage(ctx context.Context, page core.SourcePage) (core.SourcePage, error) {
	var extraction []byte
	if page.Extraction != nil {
		var err error
		extraction, err = json.Marshal(page.Extraction)
		if err != nil {
			return core.SourcePage{}, fmt.Errorf("marshal extraction: %w", err)
		}
	}
	query := `
		INSERT INTO pages (id, source_id, url, normalized_url, classification, fetch_status,
			markdown, scraped_at, parse_status, parse_error, extraction)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (normalized_url) DO UPDATE SET
			classification = EXCLUDED.classification,
			fetch_status   = EXCLUDED.fetch_status,
			markdown       = EXCLUDED.markdown,
			scraped_at     = EXCLUDED.scraped_at,
			parse_status   = EXCLUDED.parse_status,
			parse_error    = EXCLUDED.parse_error,
			extraction     = EXCLUDED.extraction
		RETURNING ` + pageColumns
	row := s.db.QueryRow(ctx, query,
		page.ID, page.SourceID, page.URL, page.NormalizedURL,
		string(page.Classification), string(page.FetchStatus),
		page.Markdown, page.ScrapedAt, string(page.ParseStatus), page.ParseError, extraction,
	)
	stored, err := scanPage(row)
	if err != nil {
		return core.SourcePage{}, fmt.Errorf("upsert page: %w", err)
	}
	return stored, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id string) (core.SourcePage, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	page, err := scanPage(row)
	if err != nil {
		return core.SourcePage{}, wrapNotFound("get page", err)
	}
	return page, nil
}

// GetPageByNormalizedURL fetches a page by its unique URL key.
func (s *Store) GetPageByNormalizedURL(ctx context.Context, normalized string) (core.SourcePage, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE normalized_url = $1`, normalized)
	page, err := scanPage(row)
	if err != nil {
		return core.SourcePage{}, wrapNotFound("get page by url", err)
	}
	return page, nil
}

// ListPagesBySource returns one entity's pages.
func (s *Store) ListPagesBySource(ctx context.Context, sourceID string) ([]core.SourcePage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE source_id = $1 ORDER BY normalized_url`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

// ListPagesByClassification returns one entity's pages with a classification.
func (s *Store) ListPagesByClassification(ctx context.Context, sourceID string, class core.Classification) ([]core.SourcePage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE source_id = $1 AND classification = $2 ORDER BY normalized_url`,
		sourceID, string(class))
	if err != nil {
		return nil, fmt.Errorf("list pages by classification: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

const eventColumns = `id, source_id, page_id, title, start_time, end_time, tags, artists, embedding, merged_into`

// UpsertEvent inserts or updates an event on its identity key. The embedding
// survives re-extraction of unchanged facts.
func (s *Store) UpsertEvent(ctx context.Context, event core.ExtractedEvent) error {
	query := `
		INSERT INTO events (id, source_id, page_id, title, start_time, end_time, tags, artists)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			page_id    = EXCLUDED.page_id,
			title      = EXCLUDED.title,
			start_time = EXCLUDED.start_time,
			end_time   = EXCLUDED.end_time,
			tags       = EXCLUDED.tags,
			artists    = EXCLUDED.artists`
	_, err := s.db.Exec(ctx, query,
		event.ID, event.SourceID, event.PageID, event.Title,
		event.StartTime, event.EndTime, event.Tags, event.Artists,
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// GetEvent fetches an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (core.ExtractedEvent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		return core.ExtractedEvent{}, wrapNotFound("get event", err)
	}
	return event, nil
}

// ListEventsBySource returns one entity's events.
func (s *Store) ListEventsBySource(ctx context.Context, sourceID string) ([]core.ExtractedEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEvents returns every event.
func (s *Store) ListEvents(ctx context.Context) ([]core.ExtractedEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// UpsertPerson inserts or updates a person on their identity key.
func (s *Store) UpsertPerson(ctx context.Context, person core.ExtractedPerson) error {
	query := `
		INSERT INTO persons (id, name, website, tags, page_id, source_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name      = EXCLUDED.name,
			website   = EXCLUDED.website,
			tags      = EXCLUDED.tags,
			page_id   = EXCLUDED.page_id,
			source_id = EXCLUDED.source_id`
	_, err := s.db.Exec(ctx, query,
		person.ID, person.Name, person.Website, person.Tags, person.PageID, person.SourceID)
	if err != nil {
		return fmt.Errorf("upsert person: %w", err)
	}
	return nil
}

// GetPerson fetches a person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (core.ExtractedPerson, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, name, website, tags, page_id, source_id, embedding FROM persons WHERE id = $1`, id)
	var person core.ExtractedPerson
	err := row.Scan(&person.ID, &person.Name, &person.Website, &person.Tags,
		&person.PageID, &person.SourceID, &person.Embedding)
	if err != nil {
		return core.ExtractedPerson{}, wrapNotFound("get person", err)
	}
	return person, nil
}

// SaveActorState persists one entity's scheduling record.
func (s *Store) SaveActorState(ctx context.Context, state core.ActorState) error {
	query := `
		INSERT INTO actor_states (source_id, status, last_scraped, last_successful_scrape, current_run_id, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id) DO UPDATE SET
			status                 = EXCLUDED.status,
			last_scraped           = EXCLUDED.last_scraped,
			last_successful_scrape = EXCLUDED.last_successful_scrape,
			current_run_id         = EXCLUDED.current_run_id,
			last_error             = EXCLUDED.last_error`
	_, err := s.db.Exec(ctx, query,
		state.SourceID, string(state.Status), state.LastScraped,
		state.LastSuccessfulScrape, state.CurrentRunID, state.LastError)
	if err != nil {
		return fmt.Errorf("save actor state: %w", err)
	}
	return nil
}

// LoadActorState restores one entity's scheduling record.
func (s *Store) LoadActorState(ctx context.Context, sourceID string) (core.ActorState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT source_id, status, last_scraped, last_successful_scrape, current_run_id, last_error
		FROM actor_states WHERE source_id = $1`, sourceID)
	var state core.ActorState
	var status string
	err := row.Scan(&state.SourceID, &status, &state.LastScraped,
		&state.LastSuccessfulScrape, &state.CurrentRunID, &state.LastError)
	if err != nil {
		return core.ActorState{}, wrapNotFound("load actor state", err)
	}
	state.Status = core.ActorStatus(status)
	return state, nil
}

// SetEntityEmbedding stores an entity's vector.
func (s *Store) SetEntityEmbedding(ctx context.Context, entityID string, vec []float32, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE entities SET embedding = $1, embedded_at = $2 WHERE id = $3`, vec, at, entityID)
	if err != nil {
		return fmt.Errorf("set entity embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SetEventEmbedding stores an event's vector.
func (s *Store) SetEventEmbedding(ctx context.Context, eventID string, vec []float32, _ time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE events SET embedding = $1 WHERE id = $2`, vec, eventID)
	if err != nil {
		return fmt.Errorf("set event embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UpsertMergeCandidate records a proposed merge keyed on the ordered pair.
func (s *Store) UpsertMergeCandidate(ctx context.Context, cand core.MergeCandidate) error {
	query := `
		INSERT INTO merge_candidates (entity_type, left_id, right_id, score, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, left_id, right_id) DO UPDATE SET score = EXCLUDED.score`
	_, err := s.db.Exec(ctx, query,
		cand.EntityType, cand.LeftID, cand.RightID, cand.Score, cand.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert merge candidate: %w", err)
	}
	return nil
}

// ListMergeCandidates returns candidates for one entity type.
func (s *Store) ListMergeCandidates(ctx context.Context, entityType string) ([]core.MergeCandidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, left_id, right_id, score, created_at
		FROM merge_candidates WHERE entity_type = $1 ORDER BY left_id, right_id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("list merge candidates: %w", err)
	}
	defer rows.Close()
	var out []core.MergeCandidate
	for rows.Next() {
		var cand core.MergeCandidate
		if err := rows.Scan(&cand.EntityType, &cand.LeftID, &cand.RightID, &cand.Score, &cand.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan merge candidate: %w", err)
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

// MergeEntities marks the loser entity as merged into the winner.
func (s *Store) MergeEntities(ctx context.Context, winnerID, loserID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE entities SET merged_into = $1 WHERE id = $2`, winnerID, loserID)
	if err != nil {
		return fmt.Errorf("merge entities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// MergeEvents marks the loser event as merged into the winner.
func (s *Store) MergeEvents(ctx context.Context, winnerID, loserID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE events SET merged_into = $1 WHERE id = $2`, winnerID, loserID)
	if err != nil {
		return fmt.Errorf("merge events: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanEntity(row pgx.Row) (core.SourceEntity, error) {
	var entity core.SourceEntity
	var name, city, country, aboutURL, mergedInto *string
	err := row.Scan(&entity.ID, &entity.CanonicalURL, &entity.NormalizedURL,
		&name, &city, &country, &aboutURL, &mergedInto,
		&entity.CreatedAt, &entity.UpdatedAt, &entity.EmbeddedAt, &entity.Embedding)
	if err != nil {
		return core.SourceEntity{}, err
	}
	entity.Name = deref(name)
	entity.City = deref(city)
	entity.Country = deref(country)
	entity.AboutURL = deref(aboutURL)
	entity.MergedInto = deref(mergedInto)
	return entity, nil
}

func scanPage(row pgx.Row) (core.SourcePage, error) {
	var page core.SourcePage
	var classification, fetchStatus, parseStatus string
	var markdown, parseError *string
	var extraction []byte
	err := row.Scan(&page.ID, &page.SourceID, &page.URL, &page.NormalizedURL,
		&classification, &fetchStatus, &markdown, &page.ScrapedAt,
		&parseStatus, &parseError, &extraction)
	if err != nil {
		return core.SourcePage{}, err
	}
	page.Classification = core.Classification(classification)
	page.FetchStatus = core.FetchStatus(fetchStatus)
	page.ParseStatus = core.ParseStatus(parseStatus)
	page.Markdown = deref(markdown)
	page.ParseError = deref(parseError)
	if len(extraction) > 0 {
		var ex core.Extraction
		if err := json.Unmarshal(extraction, &ex); err != nil {
			return core.SourcePage{}, fmt.Errorf("unmarshal extraction: %w", err)
		}
		page.Extraction = &ex
	}
	return page, nil
}

func scanEvent(row pgx.Row) (core.ExtractedEvent, error) {
	var event core.ExtractedEvent
	var mergedInto *string
	err := row.Scan(&event.ID, &event.SourceID, &event.PageID, &event.Title,
		&event.StartTime, &event.EndTime, &event.Tags, &event.Artists,
		&event.Embedding, &mergedInto)
	if err != nil {
		return core.ExtractedEvent{}, err
	}
	event.MergedInto = deref(mergedInto)
	return event, nil
}

func collectPages(rows pgx.Rows) ([]core.SourcePage, error) {
	var out []core.SourcePage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]core.ExtractedEvent, error) {
	var out []core.ExtractedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
