// Package queue routes asynchronous fan-out messages to their handlers.
// Dispatch is an explicit table keyed by the message type field; every
// handler must be idempotent, since queue delivery is at-least-once.
package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/metrics"
)

// HandlerFunc processes one message. Returning an error marks the message
// failed; redelivery is the queue's concern.
type HandlerFunc func(ctx context.Context, msg core.Message) error

// Dispatcher consumes a queue and fans messages out by type.
type Dispatcher struct {
	queue    core.Queue
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher with an empty table.
func NewDispatcher(queue core.Queue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a message type to its handler. Registering a type twice is
// a wiring bug and panics at startup.
func (d *Dispatcher) Register(msgType string, h HandlerFunc) {
	if _, dup := d.handlers[msgType]; dup {
		panic(fmt.Sprintf("queue: duplicate handler for %q", msgType))
	}
	d.handlers[msgType] = h
}

// Run blocks, consuming messages until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		msg, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrQueueClosed) {
				return
			}
			d.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		d.Handle(ctx, msg)
	}
}

// Handle dispatches one message. Unknown types are logged and dropped rather
// than redelivered forever.
func (d *Dispatcher) Handle(ctx context.Context, msg core.Message) {
	h, ok := d.handlers[msg.Type]
	if !ok {
		d.logger.Warn("no handler for message type", zap.String("type", msg.Type))
		metrics.QueueMessage(msg.Type, "unhandled")
		return
	}
	if err := h(ctx, msg); err != nil {
		d.logger.Error("message handler failed",
			zap.String("type", msg.Type),
			zap.String("entity_id", msg.EntityID),
			zap.String("source_id", msg.SourceID),
			zap.Error(err),
		)
		metrics.QueueMessage(msg.Type, "error")
		return
	}
	metrics.QueueMessage(msg.Type, "ok")
}
