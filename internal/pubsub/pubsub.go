// Package pubsub publishes PlayerUpdated-style domain events onto a Redis
// channel for any realtime subscriber outside this process, grounded on
// the pack's idle-event-subscriber pattern (a background goroutine
// publishing/consuming small JSON frames over a shared pub/sub channel).
package pubsub

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

const PlayerUpdatesChannel = "player_updates"

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish satisfies outbox.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	return p.rdb.Publish(ctx, PlayerUpdatesChannel, payload).Err()
}
