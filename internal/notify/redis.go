package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the notifier uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisNotifier publishes each notification on the unit's channel and keeps
// the latest one under a TTL'd key, so a unit app that reconnects can fetch
// what it missed.
type RedisNotifier struct {
	client  RedisClient
	lastTTL time.Duration
}

// NewRedisNotifier creates a notifier. lastTTL <= 0 skips the last-key write.
func NewRedisNotifier(client RedisClient, lastTTL time.Duration) *RedisNotifier {
	return &RedisNotifier{client: client, lastTTL: lastTTL}
}

// UnitChannel is the pub/sub channel a unit listens on.
func UnitChannel(unitID string) string { return "dispatch:unit:" + unitID }

// LastKey holds the most recent notification for a unit.
func LastKey(unitID string) string { return "dispatch:unit:" + unitID + ":last" }

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis notify: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, UnitChannel(n.UnitID), payload).Err(); err != nil {
		return fmt.Errorf("redis notify: publish: %w", err)
	}
	if r.lastTTL > 0 {
		if err := r.client.Set(ctx, LastKey(n.UnitID), payload, r.lastTTL).Err(); err != nil {
			return fmt.Errorf("redis notify: set last: %w", err)
		}
	}
	return nil
}
