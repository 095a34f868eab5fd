package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func TestUpsertEntityReturnsStoredRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	entity := core.SourceEntity{
		ID:            "src-1",
		CanonicalURL:  "https://venue.example",
		NormalizedURL: "https://venue.example/",
		Name:          "De Werkplaats",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectQuery("INSERT INTO entities").
		WithArgs(entity.ID, entity.CanonicalURL, entity.NormalizedURL,
			entity.Name, "", "", "", now, now).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "canonical_url", "normalized_url", "name", "city", "country",
			"about_url", "merged_into", "created_at", "updated_at", "embedded_at", "embedding",
		}).AddRow(
			"src-1", entity.CanonicalURL, entity.NormalizedURL, &entity.Name,
			(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
			now, now, (*time.Time)(nil), []float32(nil),
		))

	stored, err := store.UpsertEntity(context.Background(), entity)
	require.NoError(t, err)
	require.Equal(t, "src-1", stored.ID)
	require.Equal(t, "De Werkplaats", stored.Name)
	require.Empty(t, stored.City)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM entities WHERE id").
		WithArgs("src-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEntity(context.Background(), "src-missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEventIsInsertOnConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	event := core.ExtractedEvent{
		ID:        "ab12",
		SourceID:  "src-1",
		PageID:    "p-1",
		Title:     "Opening Night",
		StartTime: start,
		EndTime:   &end,
		Tags:      []string{"exhibition"},
		Artists:   []string{"Mara Lindt"},
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(event.ID, event.SourceID, event.PageID, event.Title,
			event.StartTime, event.EndTime, event.Tags, event.Artists).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEventEmbeddingUnknownID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE events SET embedding").
		WithArgs([]float32{0.5}, "ev-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetEventEmbedding(context.Background(), "ev-missing", []float32{0.5}, time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntitiesUpdatesLoser(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE entities SET merged_into").
		WithArgs("src-a", "src-b").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MergeEntities(context.Background(), "src-a", "src-b"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStepResultUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	completed := time.Unix(1700000000, 0).UTC()
	result := runlog.StepResult{
		RunID:       "run-1",
		Name:        "discover",
		Payload:     []byte(`{"page_ids":["p-1"]}`),
		CompletedAt: completed,
	}

	mock.ExpectExec("INSERT INTO pipeline_steps").
		WithArgs(result.RunID, result.Name, []byte(result.Payload), result.CompletedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveStepResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStepResultNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM pipeline_steps").
		WithArgs("run-1", "scrape").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetStepResult(context.Background(), "run-1", "scrape")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunUnknownRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	finished := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE pipeline_runs").
		WithArgs(string(runlog.StatusCompleted), "", "", finished, "run-gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.FinishRun(context.Background(), "run-gone", runlog.StatusCompleted, "", "", finished)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
