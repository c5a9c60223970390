package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"support-app/session-service/internal/utils"
)

const maxDialDelay = 60 * time.Second

type AMQPOptions struct {
	URL           string
	Exchange      string
	Queue         string
	Workers       int
	RetryAttempts int
	Delay         time.Duration
}

// AMQPBus routes envelopes through a durable topic exchange, keyed by the
// event type. Each subscriber consumes from one durable queue bound to
// RoutingPattern.
type AMQPBus struct {
	conn *amqp091.Connection
	opts AMQPOptions
	log  *utils.Logger

	mu    sync.Mutex
	chans []*amqp091.Channel
	wg    sync.WaitGroup
}

func NewAMQPBus(ctx context.Context, opts AMQPOptions, log *utils.Logger) (*AMQPBus, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	conn, err := dialWithRetry(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPBus{conn: conn, opts: opts, log: log}, nil
}

// dialWithRetry connects with exponential backoff and honours ctx cancellation.
func dialWithRetry(ctx context.Context, opts AMQPOptions, log *utils.Logger) (*amqp091.Connection, error) {
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info("[EVENTS] rabbit connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err

		sleep := opts.Delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		log.Warn("[EVENTS] rabbit dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", opts.RetryAttempts, lastErr)
}

func (b *AMQPBus) Publish(ctx context.Context, env Envelope) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return ch.PublishWithContext(ctx, b.opts.Exchange, env.Meta.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.Time,
		Type:         env.Meta.Type,
		Body:         body,
	})
}

func (b *AMQPBus) Subscribe(ctx context.Context, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(b.opts.Workers*2, 0, false); err != nil {
		ch.Close()
		return err
	}
	q, err := ch.QueueDeclare(b.opts.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, RoutingPattern, b.opts.Exchange, false, nil); err != nil {
		ch.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	b.mu.Lock()
	b.chans = append(b.chans, ch)
	b.mu.Unlock()

	b.log.Info("[EVENTS] subscriber started", "queue", q.Name, "workers", b.opts.Workers)
	for i := 0; i < b.opts.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx, deliveries, handler)
	}
	return nil
}

// Failed deliveries are dropped, not requeued: a redelivery would repeat
// notifications already sent on the channels that succeeded.
func (b *AMQPBus) worker(ctx context.Context, deliveries <-chan amqp091.Delivery, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				b.log.Warn("[EVENTS] invalid payload", "key", msg.RoutingKey, "error", err)
				_ = msg.Nack(false, false)
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hctx, env)
			cancel()
			if err != nil {
				b.log.Error("[EVENTS] handler error", "key", msg.RoutingKey, "id", env.Meta.ID, "error", err)
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	chans := b.chans
	b.chans = nil
	b.mu.Unlock()

	for _, ch := range chans {
		_ = ch.Close()
	}
	b.wg.Wait()
	return b.conn.Close()
}
