package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	outboxstore "gns/pkg/platform/audit/store/postgres"
)

// Sink publishes a serialized event to the audit topic.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// OutboxSource exposes the unpublished rows of the outbox table.
type OutboxSource interface {
	FetchPending(ctx context.Context, limit int) ([]outboxstore.PendingRow, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// OutboxRelay drains unpublished audit rows to Kafka. Safe to run from a
// single instance per deployment; rows are marked published only after the
// produce succeeds, so delivery is at-least-once.
type OutboxRelay struct {
	source    OutboxSource
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewOutboxRelay(source OutboxSource, sink Sink, interval time.Duration, logger *slog.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxRelay{
		source:    source,
		sink:      sink,
		interval:  interval,
		batchSize: 100,
		logger:    logger,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

func (r *OutboxRelay) drainOnce(ctx context.Context) {
	pending, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to fetch outbox rows", "error", err)
		return
	}
	for _, row := range pending {
		if err := r.sink.Publish(ctx, row.ID.String(), row.Payload); err != nil {
			// Stop the batch; the next tick retries from the oldest row.
			r.logger.ErrorContext(ctx, "failed to publish outbox row",
				"id", row.ID,
				"error", err,
			)
			return
		}
		if err := r.source.MarkPublished(ctx, row.ID); err != nil {
			r.logger.ErrorContext(ctx, "failed to mark outbox row published",
				"id", row.ID,
				"error", err,
			)
			return
		}
	}
}
