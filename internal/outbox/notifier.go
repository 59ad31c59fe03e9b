package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/bulletin/internal/domain"
	"example.com/bulletin/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.PublishedNotice) string
}

var eventCatalog = map[string]EventMetadata{
	events.ActivityPublishedType: {
		Topic:         "activity_published",
		SchemaSubject: "activity_published-value",
		PartitionKeyFn: func(n domain.PublishedNotice) string {
			return n.ActivityID
		},
	},
}

// Notifier records publication notices in the outbox table for the
// Dispatcher to deliver.
type Notifier struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewNotifier constructs a Notifier writing to pool.
func NewNotifier(pool *pgxpool.Pool) *Notifier {
	return &Notifier{pool: pool, now: time.Now}
}

// NotifyPublished enqueues an activity.published event. A second notice for
// the same activity and publish time is ignored through the dedupe key.
func (n *Notifier) NotifyPublished(ctx context.Context, notice domain.PublishedNotice) error {
	eventType := events.ActivityPublishedType
	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	body, err := json.Marshal(events.ActivityPublished{
		ActivityID:  notice.ActivityID,
		Title:       notice.Title,
		EventType:   string(notice.EventType),
		PublishAt:   notice.PublishAt.UTC(),
		PublishedAt: n.now().UTC(),
	})
	if err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", notice.ActivityID, eventType, notice.PublishAt.Unix())

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = n.pool.Exec(ctx, stmt,
		"activity",
		notice.ActivityID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(notice),
		body,
		dedupeKey,
	)
	return err
}
