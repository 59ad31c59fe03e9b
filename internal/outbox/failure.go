package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable outbox rows in outbox_dlq for the DLQManager.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter constructs a DLQWriter on pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// WriteBatch inserts one DLQ row per message in a single round trip. Every
// row is due for retry immediately; reason is suffixed with the topic.
func (w *DLQWriter) WriteBatch(ctx context.Context, messages []Message, reason string) error {
	const stmt = `INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`

	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(stmt,
			msg.EventID, msg.EventType, msg.Topic, msg.Payload,
			fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		)
	}

	results := w.pool.SendBatch(ctx, batch)
	var errs error
	for range messages {
		if _, err := results.Exec(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errors.Join(errs, results.Close())
}
