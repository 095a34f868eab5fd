package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
	queuememory "github.com/artatlas/venue-crawler/internal/queue/memory"
)

func TestHandleRoutesByType(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(queuememory.NewQueue(1), nil)
	var got []core.Message
	d.Register(core.MsgSimilarityCompute, func(_ context.Context, msg core.Message) error {
		got = append(got, msg)
		return nil
	})

	d.Handle(context.Background(), core.Message{
		Type: core.MsgSimilarityCompute, EntityType: "event", EntityID: "ev-1",
	})
	require.Len(t, got, 1)
	require.Equal(t, "ev-1", got[0].EntityID)
}

func TestHandleDropsUnknownType(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(queuememory.NewQueue(1), nil)
	require.NotPanics(t, func() {
		d.Handle(context.Background(), core.Message{Type: "no-such-type"})
	})
}

func TestHandlerErrorDoesNotPropagate(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(queuememory.NewQueue(1), nil)
	d.Register("boom", func(context.Context, core.Message) error {
		return errors.New("handler blew up")
	})
	require.NotPanics(t, func() {
		d.Handle(context.Background(), core.Message{Type: "boom"})
	})
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(queuememory.NewQueue(1), nil)
	h := func(context.Context, core.Message) error { return nil }
	d.Register("t", h)
	require.Panics(t, func() { d.Register("t", h) })
}

func TestRunConsumesUntilCanceled(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(4)
	d := NewDispatcher(q, nil)
	handled := make(chan string, 4)
	d.Register(core.MsgIdentityIndex, func(_ context.Context, msg core.Message) error {
		handled <- msg.EntityID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(ctx, core.Message{Type: core.MsgIdentityIndex, EntityID: "a"}))
	require.NoError(t, q.Enqueue(ctx, core.Message{Type: core.MsgIdentityIndex, EntityID: "b"}))

	for _, want := range []string{"a", "b"} {
		select {
		case got := <-handled:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled in time")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}
