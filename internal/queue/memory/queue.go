// Package memory provides a queue implementation for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Queue is a bounded in-memory message queue with context-aware operations.
// Shutdown is signaled through a separate done channel so producers racing
// Close get core.ErrQueueClosed rather than a send on a closed channel.
type Queue struct {
	ch        chan core.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan core.Message, capacity), done: make(chan struct{})}
}

// Enqueue pushes a message or returns when the context ends. Enqueueing into
// a closed queue fails with core.ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, msg core.Message) error {
	select {
	case <-q.done:
		return core.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return core.ErrQueueClosed
	case q.ch <- msg:
		return nil
	}
}

// Dequeue pops the next message, respecting context cancellation. Messages
// buffered before Close are still drained.
func (q *Queue) Dequeue(ctx context.Context) (core.Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	default:
	}
	select {
	case <-ctx.Done():
		return core.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return core.Message{}, core.ErrQueueClosed
	case msg := <-q.ch:
		return msg, nil
	}
}

// Close releases blocked producers and consumers. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
