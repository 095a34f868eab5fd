// Package memory contains an in-memory publisher for tests and dev mode.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artatlas/venue-crawler/internal/core"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Message core.Message
}

// Publisher stores published messages for inspection. When a Queue is
// attached, every publish is also enqueued so dev mode processes its own
// fan-out.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	queue    core.Queue
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// AttachQueue forwards future publishes to the queue.
func (p *Publisher) AttachQueue(q core.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = q
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, msg core.Message) (string, error) {
	p.mu.Lock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Message: msg})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	queue := p.queue
	p.mu.Unlock()

	if queue != nil {
		if err := queue.Enqueue(ctx, msg); err != nil {
			return "", fmt.Errorf("enqueue published message: %w", err)
		}
	}
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
