// Package broadcast fans activity invalidations out to live-query consumers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"example.com/bulletin/internal/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "bulletin:invalidations"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBroadcaster publishes invalidations on a Redis pub/sub channel.
// Delivery is at most once; subscribers that are offline miss messages.
type RedisBroadcaster struct {
	client  publisher
	channel string
}

// NewRedisBroadcaster constructs a broadcaster on channel.
func NewRedisBroadcaster(client publisher, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Broadcast publishes inv as JSON.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, inv domain.Invalidation) error {
	if len(inv.Topics) == 0 {
		return nil
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe delivers invalidations from channel to fn until ctx is cancelled.
// Malformed messages are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *log.Logger, fn func(domain.Invalidation)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			inv, err := Decode([]byte(msg.Payload))
			if err != nil {
				logger.Printf("drop malformed invalidation on %s: %v", channel, err)
				continue
			}
			fn(inv)
		}
	}
}

// Decode parses a published invalidation.
func Decode(raw []byte) (domain.Invalidation, error) {
	var inv domain.Invalidation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return domain.Invalidation{}, err
	}
	if len(inv.Topics) == 0 {
		return domain.Invalidation{}, fmt.Errorf("invalidation without topics")
	}
	return inv, nil
}
