// Package consumer reads relayed audit events back from Kafka. Operators use
// it through pipctl to follow the screening trail of an organisation.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const commitTimeout = 5 * time.Second

// Message is one consumed record, detached from the client types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// TopicHandler handles consumed messages. An error stops the consumer
// before offsets are committed.
type TopicHandler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to TopicHandler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Consumer polls audit topics. With a group, offsets are committed after each
// successfully handled poll, so a failed handler causes redelivery.
type Consumer struct {
	client  *kgo.Client
	grouped bool
	logger  *slog.Logger
}

type Config struct {
	Brokers []string
	Topics  []string
	// Group is optional. Without it every run reads from FromStart or the end.
	Group     string
	FromStart bool
}

func NewKafkaConsumer(cfg Config, logger *slog.Logger, opts ...kgo.Opt) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	offset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		offset = kgo.NewOffset().AtStart()
	}
	all := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(offset),
	}
	if cfg.Group != "" {
		all = append(all, kgo.ConsumerGroup(cfg.Group), kgo.DisableAutoCommit())
	}
	client, err := kgo.NewClient(append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, grouped: cfg.Group != "", logger: logger}, nil
}

// Run dispatches records to h until ctx is cancelled or h fails.
func (c *Consumer) Run(ctx context.Context, h TopicHandler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if fetches.IsClientClosed() {
			return errors.New("kafka consumer closed")
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "audit fetch failed", "topic", topic, "partition", partition, "error", err)
			fetchErr = err
		})
		if fetchErr != nil && fetches.NumRecords() == 0 {
			continue
		}

		var handleErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = h.Handle(ctx, toMessage(rec))
		})
		if handleErr != nil {
			return fmt.Errorf("handle audit record: %w", handleErr)
		}
		if c.grouped {
			if err := c.commit(ctx); err != nil {
				return err
			}
		}
	}
}

// commit outlives cancellation so records handled before a shutdown are not
// redelivered.
func (c *Consumer) commit(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(cctx); err != nil {
		return fmt.Errorf("commit audit offsets: %w", err)
	}
	return nil
}

func (c *Consumer) Close() {
	c.client.Close()
}

func toMessage(rec *kgo.Record) *Message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}
}
