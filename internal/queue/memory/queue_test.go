package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
)

func TestEnqueueAfterCloseReturnsError(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, core.Message{Type: core.MsgCrawlFetch, JobID: "j-1"}))
	q.Close()
	q.Close() // idempotent

	err := q.Enqueue(ctx, core.Message{Type: core.MsgCrawlFetch, JobID: "j-2"})
	require.ErrorIs(t, err, core.ErrQueueClosed)

	// Messages buffered before the close still drain.
	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "j-1", msg.JobID)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, core.ErrQueueClosed)
}

func TestCloseUnblocksProducer(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, core.Message{JobID: "fill"}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(ctx, core.Message{JobID: "blocked"})
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	require.ErrorIs(t, <-errCh, core.ErrQueueClosed)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}
