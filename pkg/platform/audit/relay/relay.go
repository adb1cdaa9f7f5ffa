// Package relay publishes audit outbox entries to Kafka.
//
// The relay is the only background loop in the server. Each tick it locks a
// batch of unpublished rows, produces them, and stamps them published in the
// same transaction, so a crash between produce and commit re-delivers rather
// than loses events. Consumers dedupe on the payload id.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/audit/store/postgres"
)

const (
	defaultBatchSize   = 100
	defaultInterval    = 2 * time.Second
	defaultTopicPrefix = "pipscreen.audit"
)

// Outbox is the slice of the Postgres audit store the relay needs.
type Outbox interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer delivers records synchronously; an error means none of the batch
// may be considered delivered.
type Producer interface {
	Produce(ctx context.Context, records []*kgo.Record) error
}

type Relay struct {
	outbox      Outbox
	producer    Producer
	logger      *slog.Logger
	metrics     *Metrics
	topicPrefix string
	batchSize   int
	interval    time.Duration
	now         func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithTopicPrefix(prefix string) Option {
	return func(r *Relay) {
		if prefix != "" {
			r.topicPrefix = prefix
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func New(outbox Outbox, producer Producer, opts ...Option) (*Relay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	r := &Relay{
		outbox:      outbox,
		producer:    producer,
		logger:      slog.Default(),
		topicPrefix: defaultTopicPrefix,
		batchSize:   defaultBatchSize,
		interval:    defaultInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Topics lists every topic the relay can produce to.
func Topics(prefix string) []string {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return []string{
		topicFor(prefix, audit.CategoryCompliance),
		topicFor(prefix, audit.CategorySecurity),
		topicFor(prefix, audit.CategoryOperations),
	}
}

func topicFor(prefix string, category audit.EventCategory) string {
	return prefix + "." + string(category)
}

// Run relays until ctx is cancelled. Tick errors are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "audit outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("audit outbox relay stopped")
			return nil
		case <-ticker.C:
			// Drain backlog before waiting for the next tick.
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err)
						r.metrics.IncrementFailures()
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries it delivered.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var delivered int
	err := r.outbox.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.outbox.LockPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			records[i] = r.record(e)
			ids[i] = e.ID
		}
		if err := r.producer.Produce(ctx, records); err != nil {
			return fmt.Errorf("produce audit records: %w", err)
		}
		if err := r.outbox.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		delivered = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.AddPublished(delivered)
	return delivered, nil
}

func (r *Relay) record(e postgres.Entry) *kgo.Record {
	category := audit.AuditEvent(e.EventType).Category()
	return &kgo.Record{
		Topic: topicFor(r.topicPrefix, category),
		Key:   []byte(e.AggregateID),
		Value: e.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			{Key: "outbox_id", Value: []byte(e.ID.String())},
		},
		Timestamp: e.CreatedAt,
	}
}
