// Package queue owns the broker topology: one main work queue, a fixed
// ladder of TTL retry queues that dead-letter back into the main queue, and
// the terminal dead-letter, hold and alarm queues.
package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Default retry ladder: 5s, 30s, 5m.
var DefaultRetryTiers = []int{5, 30, 300}

// Config names the queue graph.
type Config struct {
	URL         string `yaml:"url"`
	MainQueue   string `yaml:"main_queue"`
	RetryPrefix string `yaml:"retry_prefix"`
	DLQ         string `yaml:"dlq"`
	HoldQueue   string `yaml:"hold_queue"`
	AlarmQueue  string `yaml:"alarm_queue"`
	RetryTiers  []int  `yaml:"retry_tiers"`
	Prefetch    int    `yaml:"prefetch"`
}

func (c *Config) applyDefaults() {
	if c.MainQueue == "" {
		c.MainQueue = "dispatch.tasks"
	}
	if c.RetryPrefix == "" {
		c.RetryPrefix = "dispatch.retry"
	}
	if c.DLQ == "" {
		c.DLQ = "dispatch.dlq"
	}
	if c.HoldQueue == "" {
		c.HoldQueue = "dispatch.hold"
	}
	if c.AlarmQueue == "" {
		c.AlarmQueue = "dispatch.alarm"
	}
	if len(c.RetryTiers) == 0 {
		c.RetryTiers = DefaultRetryTiers
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 8
	}
}

// Broker wraps one AMQP connection/channel pair and the declared topology.
type Broker struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker and declares the full queue graph. Declarations
// are idempotent; every worker declares on startup.
func Connect(cfg Config) (*Broker, error) {
	cfg.applyDefaults()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	b := &Broker{cfg: cfg, conn: conn, ch: ch}
	if err := b.declare(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declare() error {
	durable := func(name string, args amqp.Table) error {
		_, err := b.ch.QueueDeclare(name, true, false, false, false, args)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		return nil
	}

	if err := durable(b.cfg.MainQueue, nil); err != nil {
		return err
	}
	// Each retry tier is a plain queue whose per-message TTL dead-letters
	// back into the main queue, turning the broker into a delay scheduler.
	for _, secs := range b.cfg.RetryTiers {
		args := amqp.Table{
			"x-message-ttl":             int32(secs * 1000),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": b.cfg.MainQueue,
		}
		if err := durable(retryQueueName(b.cfg.RetryPrefix, secs), args); err != nil {
			return err
		}
	}
	for _, q := range []string{b.cfg.DLQ, b.cfg.HoldQueue, b.cfg.AlarmQueue} {
		if err := durable(q, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		_ = b.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return b.conn.Close()
}

// Config returns the resolved queue names.
func (b *Broker) Config() Config { return b.cfg }

func retryQueueName(prefix string, secs int) string {
	return fmt.Sprintf("%s.%ds", prefix, secs)
}

// ChooseRetryQueue picks the delay tier for a retry count: tiers are
// non-decreasing and the last tier absorbs every count past the ladder.
func ChooseRetryQueue(prefix string, tiers []int, retryCount int) (string, int) {
	if len(tiers) == 0 {
		tiers = DefaultRetryTiers
	}
	idx := retryCount
	if idx < 0 {
		idx = 0
	}
	if idx > len(tiers)-1 {
		idx = len(tiers) - 1
	}
	secs := tiers[idx]
	return retryQueueName(prefix, secs), secs
}

// Publish enqueues body durably with the application headers the consumer
// relies on. Publish failures surface to the caller, never silently drop.
func (b *Broker) Publish(ctx context.Context, queueName string, body []byte, correlationID string, headers amqp.Table) error {
	err := b.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		ContentType:   "application/json",
		Timestamp:     time.Now(),
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}
	return nil
}

// Consume opens a delivery stream from queueName with manual acks.
func (b *Broker) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := b.ch.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queueName, err)
	}
	return deliveries, nil
}
