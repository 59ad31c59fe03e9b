// Package events defines the payloads the service emits to Kafka.
package events

import "time"

// ActivityPublished is emitted when an activity becomes visible to members,
// either on creation, on edit or through the sweep.
type ActivityPublished struct {
	ActivityID  string    `json:"activity_id"`
	Title       string    `json:"title"`
	EventType   string    `json:"event_type"`
	PublishAt   time.Time `json:"publish_at"`
	PublishedAt time.Time `json:"published_at"`
}

// ActivityPublishedType is the outbox event_type of ActivityPublished.
const ActivityPublishedType = "activity.published"
