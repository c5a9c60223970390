package events

import (
	"context"
	"sync"

	"support-app/session-service/internal/utils"
)

// LocalBus delivers events in-process, synchronously, to every subscribed
// handler. Handler failures are logged and never reach the publisher.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *utils.Logger
}

func NewLocalBus(log *utils.Logger) *LocalBus {
	return &LocalBus{log: log}
}

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			b.log.Error("[EVENTS] local handler failed", "type", env.Meta.Type, "id", env.Meta.ID, "error", err)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
	return nil
}
