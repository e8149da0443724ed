package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/repository"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
)

const (
	_strategyAttempts = 3
	_strategyDelay    = 3 * time.Second
	_strategyBackoff  = 2
)

// RabbitAdapter is the C3 implementation. It adapts the teacher's raw
// amqp091-go channel handling (internal/transport/amqp/rabbit.go,
// pkg/rabbit/queue.go) onto the full publish/receive/ack/visibility
// contract, and layers delayed publishing and a DLQ on top of
// `wb-go/wbf/rabbitmq`'s already-wired Publisher. C8 and C9 do not
// publish with a delay: C8 calls the processor directly and C9
// publishes with zero delay.
type RabbitAdapter struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher *rabbitmq.Publisher
	consumer  <-chan amqp.Delivery
	cache     *repository.CacheRepository
	log       logger.Logger

	exchange      string
	queue         string
	delayExchange string
	delayQueue    string
	dlxExchange   string
	dlxQueue      string

	visibilityTTL time.Duration
}

const (
	_defaultVisibilityTTL = 30 * time.Second
)

type Config struct {
	URL            string
	ConnectionName string
	ConnectTimeout time.Duration
	Heartbeat      time.Duration
	Exchange       string
	ContentType    string
	Queue          string
	PrefetchCount  int
	VisibilityTTL  time.Duration
}

func NewRabbitAdapter(cfg Config, cache *repository.CacheRepository, log logger.Logger) (*RabbitAdapter, error) {
	const op = "queue.NewRabbitAdapter"

	strategy := retry.Strategy{Attempts: _strategyAttempts, Delay: _strategyDelay, Backoff: _strategyBackoff}

	client, err := rabbitmq.NewClient(rabbitmq.ClientConfig{
		URL:            cfg.URL,
		ConnectionName: cfg.ConnectionName,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		ProducingStrat: strategy,
		ReconnectStrat: strategy,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	// A second, directly-owned connection backs the consumer channel and
	// topology declarations so Healthy()/Close() have a real
	// *amqp.Connection to inspect rather than reaching into the wbf
	// client's internal connection, which it doesn't expose.
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Heartbeat: cfg.Heartbeat})
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: open channel: %w", op, err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: qos: %w", op, err)
	}

	a := &RabbitAdapter{
		conn:          conn,
		channel:       ch,
		cache:         cache,
		log:           log,
		exchange:      cfg.Exchange,
		queue:         cfg.Queue,
		delayExchange: cfg.Exchange + ".delay",
		delayQueue:    cfg.Queue + ".delay",
		dlxExchange:   cfg.Exchange + ".dlx",
		dlxQueue:      cfg.Queue + ".dlq",
		visibilityTTL: cfg.VisibilityTTL,
	}
	if a.visibilityTTL == 0 {
		a.visibilityTTL = _defaultVisibilityTTL
	}

	if err := a.declareTopology(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.publisher = rabbitmq.NewPublisher(client, cfg.Exchange, cfg.ContentType)

	deliveries, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: consume: %w", op, err)
	}
	a.consumer = deliveries

	return a, nil
}

func (a *RabbitAdapter) declareTopology() error {
	if err := a.channel.ExchangeDeclare(a.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := a.channel.ExchangeDeclare(a.delayExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare delay exchange: %w", err)
	}
	if err := a.channel.ExchangeDeclare(a.dlxExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}

	if _, err := a.channel.QueueDeclare(a.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": a.dlxExchange,
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := a.channel.QueueBind(a.queue, a.queue, a.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// The delay queue routes expired messages back to the main exchange
	// via its own dead-letter-exchange; TTL is set per-message rather
	// than on the queue so each notification can carry its own backoff.
	if _, err := a.channel.QueueDeclare(a.delayQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    a.exchange,
		"x-dead-letter-routing-key": a.queue,
	}); err != nil {
		return fmt.Errorf("declare delay queue: %w", err)
	}
	if err := a.channel.QueueBind(a.delayQueue, a.delayQueue, a.delayExchange, false, nil); err != nil {
		return fmt.Errorf("bind delay queue: %w", err)
	}

	if _, err := a.channel.QueueDeclare(a.dlxQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := a.channel.QueueBind(a.dlxQueue, a.queue, a.dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}

	return nil
}

func (a *RabbitAdapter) Publish(ctx context.Context, item entity.WorkItem, delay time.Duration) error {
	const op = "queue.RabbitAdapter.Publish"

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    item.DedupID(),
	}

	if delay > 0 {
		msg.Expiration = fmt.Sprintf("%d", delay.Milliseconds())
		if err := a.channel.PublishWithContext(ctx, a.delayExchange, a.delayQueue, false, false, msg); err != nil {
			return fmt.Errorf("%s: publish delayed: %w", op, err)
		}
		return nil
	}

	if err := a.publisher.Publish(ctx, a.queue, body); err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}
	return nil
}

func (a *RabbitAdapter) PublishBatch(ctx context.Context, items []entity.WorkItem) error {
	const op = "queue.RabbitAdapter.PublishBatch"

	for i := range items {
		if err := a.Publish(ctx, items[i], 0); err != nil {
			return fmt.Errorf("%s: item %d: %w", op, i, err)
		}
	}
	return nil
}

// Receive long-polls the consumer channel, blocking until either a
// message arrives or ctx's deadline (the caller's waitSeconds) expires,
// per spec.md §4.C6. Duplicates a concurrent worker has already claimed
// via the Redis dedup lock are dropped rather than returned.
func (a *RabbitAdapter) Receive(ctx context.Context, maxMessages int) ([]Message, error) {
	const op = "queue.RabbitAdapter.Receive"

	var out []Message
	for len(out) < maxMessages {
		select {
		case <-ctx.Done():
			return out, nil
		case d, ok := <-a.consumer:
			if !ok {
				return out, fmt.Errorf("%s: consumer channel closed", op)
			}

			var item entity.WorkItem
			if err := json.Unmarshal(d.Body, &item); err != nil {
				a.log.LogAttrs(ctx, logger.ErrorLevel, "malformed queue message, dead-lettering", logger.Any("error", err.Error()))
				_ = d.Nack(false, false)
				continue
			}

			acquired, err := a.cache.AcquireDedupLock(ctx, item.NotificationID, a.visibilityTTL)
			if err != nil {
				a.log.LogAttrs(ctx, logger.WarnLevel, "dedup lock check failed, processing anyway", logger.Any("error", err.Error()))
			} else if !acquired {
				_ = d.Ack(false)
				continue
			}

			out = append(out, Message{Item: item, DeliveryTag: d.DeliveryTag, Redelivered: d.Redelivered})
		}
	}
	return out, nil
}

func (a *RabbitAdapter) Acknowledge(ctx context.Context, msg Message) error {
	const op = "queue.RabbitAdapter.Acknowledge"

	if err := a.channel.Ack(msg.DeliveryTag, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return a.cache.ReleaseDedupLock(ctx, msg.Item.NotificationID)
}

func (a *RabbitAdapter) Reject(ctx context.Context, msg Message, requeue bool) error {
	const op = "queue.RabbitAdapter.Reject"

	if err := a.channel.Nack(msg.DeliveryTag, false, requeue); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !requeue {
		return nil
	}
	return a.cache.ReleaseDedupLock(ctx, msg.Item.NotificationID)
}

// ExtendVisibility has no direct RabbitMQ analog (unlike SQS's
// ChangeMessageVisibility); the message stays unacked on the consumer
// channel regardless. What must be extended is the Redis dedup claim,
// so a slow worker doesn't let a second delivery through mid-processing.
func (a *RabbitAdapter) ExtendVisibility(ctx context.Context, msg Message) error {
	const op = "queue.RabbitAdapter.ExtendVisibility"

	// SETNX leaves an existing key's TTL untouched, so the claim is
	// dropped and taken again to restart its expiry.
	if err := a.cache.ReleaseDedupLock(ctx, msg.Item.NotificationID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	acquired, err := a.cache.AcquireDedupLock(ctx, msg.Item.NotificationID, a.visibilityTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !acquired {
		return fmt.Errorf("%s: dedup claim taken by another delivery", op)
	}
	return nil
}

func (a *RabbitAdapter) DeadLetter(ctx context.Context, item entity.WorkItem, reason string) error {
	const op = "queue.RabbitAdapter.DeadLetter"

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	err = a.channel.PublishWithContext(ctx, a.dlxExchange, a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-dead-letter-reason": reason},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Healthy reports whether the underlying AMQP connection is still
// open, for use by the HTTP health endpoint.
func (a *RabbitAdapter) Healthy() bool {
	return a.conn != nil && !a.conn.IsClosed()
}

func (a *RabbitAdapter) Close() error {
	if a.channel != nil {
		_ = a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
