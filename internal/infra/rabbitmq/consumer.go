package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// maxBackoff caps the requeue delay regardless of attempt count.
const maxBackoff = 60 * time.Second

type MessageHandler func(ctx context.Context, body []byte) error

type ConsumerConfig struct {
	URL         string
	Queue       string
	Exchange    string
	DLQ         string
	StatusQueue string
	Prefetch    int
	WorkerCount int
	BaseDelayMs int
}

// Consumer pulls capture-processing messages off the queue and fans them out
// to a fixed pool of workers. A handler error nacks the delivery back onto
// the queue after an exponential backoff; permanent failures are the
// handler's responsibility (it parks them on the DLQ and returns nil).
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	cfg       ConsumerConfig
	baseDelay time.Duration
	handler   MessageHandler
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		conn:      conn,
		channel:   ch,
		cfg:       cfg,
		baseDelay: time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		handler:   handler,
		logger:    logger,
	}, nil
}

// declareTopology sets up the capture exchange, the three durable queues and
// their bindings. Declarations are idempotent, so the worker and the
// uploading service can both run this safely.
func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	for _, q := range []string{cfg.Queue, cfg.DLQ, cfg.StatusQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	bindings := map[string]string{
		cfg.Queue:       routingKeyProcessing,
		cfg.StatusQueue: routingKeyStatus,
	}
	for queue, key := range bindings {
		if err := ch.QueueBind(queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}
	return nil
}

// Start consumes until ctx is cancelled, then waits for in-flight jobs.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.logger.Info("capture worker pool starting",
		zap.Int("workers", c.cfg.WorkerCount),
		zap.String("queue", c.cfg.Queue),
	)

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("shutdown requested, draining in-flight jobs")
	c.wg.Wait()
	return nil
}

func (c *Consumer) runWorker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.handleDelivery(ctx, d, log)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	if err := c.handler(ctx, d.Body); err != nil {
		attempt := deliveryAttempt(d)
		delay := c.backoff(attempt)
		log.Warn("capture job failed, requeueing after backoff",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
			_ = d.Nack(false, true)
		case <-ctx.Done():
			_ = d.Nack(false, false)
		}
		return
	}

	_ = d.Ack(false)
}

// deliveryAttempt counts how many times the broker has already cycled this
// delivery, from the x-death header. First delivery is attempt 1.
func deliveryAttempt(d amqp.Delivery) int {
	xDeath, ok := d.Headers["x-death"]
	if !ok {
		return 1
	}
	deaths, ok := xDeath.([]interface{})
	if !ok || len(deaths) == 0 {
		return 1
	}
	return len(deaths)
}

func (c *Consumer) backoff(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
