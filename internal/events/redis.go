package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"support-app/session-service/internal/utils"
)

const DefaultRedisChannel = "support_events"

// RedisBus publishes envelopes as JSON on one pub/sub channel. Pub/sub is
// fire-and-forget: events published while no subscriber is connected are lost.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	workers int
	timeout time.Duration
	log     *utils.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	wg      sync.WaitGroup
}

func NewRedisBus(rdb *redis.Client, channel string, workers int, log *utils.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if workers <= 0 {
		workers = 1
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		workers: workers,
		timeout: 30 * time.Second,
		log:     log,
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsubs = append(b.pubsubs, pubsub)
	b.mu.Unlock()

	b.log.Info("[EVENTS] subscribed to redis channel", "channel", b.channel, "workers", b.workers)

	ch := pubsub.Channel()
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx, ch, handler)
	}
	return nil
}

func (b *RedisBus) worker(ctx context.Context, ch <-chan *redis.Message, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("[EVENTS] invalid payload", "channel", msg.Channel, "error", err)
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, b.timeout)
			if err := handler(hctx, env); err != nil {
				b.log.Error("[EVENTS] handler failed", "type", env.Meta.Type, "id", env.Meta.ID, "error", err)
			}
			cancel()
		}
	}
}

// Close stops the subscriptions and waits for in-flight handlers. The redis
// client itself is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	pubsubs := b.pubsubs
	b.pubsubs = nil
	b.mu.Unlock()

	var firstErr error
	for _, ps := range pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}
