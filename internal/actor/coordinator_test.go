package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
	"github.com/artatlas/venue-crawler/internal/runlog"
	memorystorage "github.com/artatlas/venue-crawler/internal/storage/memory"
)

func newTestCoordinator(store core.Store, pipeline PipelineFunc) *Coordinator {
	return NewCoordinator(store, recrawl.New(nil), &fakeClock{now: time.Now().UTC()}, &seqIDGen{}, pipeline, nil)
}

func TestSeedIdempotentAcrossURLVariants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	c := newTestCoordinator(store, nil)
	defer c.Stop()

	first, err := c.Seed(ctx, "https://Venue.example/", "https://venue.example/about")
	require.NoError(t, err)
	second, err := c.Seed(ctx, "HTTPS://venue.example", "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "url variants must seed one entity")
	require.Equal(t, "https://venue.example/about", second.AboutURL, "details survive re-seeding")

	entities, err := store.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
}

func TestSeedRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(memorystorage.NewStore(), nil)
	defer c.Stop()
	_, err := c.Seed(context.Background(), "/no-host", "")
	require.Error(t, err)
}

func TestActorForReturnsSameInstance(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(memorystorage.NewStore(), nil)
	defer c.Stop()
	a := c.ActorFor("src-1")
	require.Same(t, a, c.ActorFor("src-1"))
	require.NotSame(t, a, c.ActorFor("src-2"))
}

func TestStartBatchReportsPerItemFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	pipeline := func(_ context.Context, runID string, _ core.SourceEntity) (runlog.Run, error) {
		return runlog.Run{ID: runID, Status: runlog.StatusCompleted}, nil
	}
	c := newTestCoordinator(store, pipeline)
	defer c.Stop()

	results := c.StartBatch(ctx, []string{"https://a.example", "not-a-url", "https://b.example"}, true)
	require.Len(t, results, 3)

	require.Empty(t, results[0].Error)
	require.NotEmpty(t, results[0].SourceID)
	require.NotEmpty(t, results[0].Start.RunID)

	require.NotEmpty(t, results[1].Error, "bad url fails its item only")
	require.Empty(t, results[1].SourceID)

	require.Empty(t, results[2].Error)

	require.NoError(t, c.WaitIdle(ctx, time.Millisecond))
}
