package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const markerKeyPrefix = "done:"

// Marker remembers for a while that some piece of work has completed, so
// a redelivered message can skip it.
type Marker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMarker(client *redis.Client, ttl time.Duration) *Marker {
	return &Marker{client: client, ttl: ttl}
}

func (m *Marker) Done(ctx context.Context, key string) (bool, error) {
	_, err := m.client.Get(ctx, markerKeyPrefix+key).Result()
	if err == nil {
		return true, nil
	}
	if err != redis.Nil {
		return false, fmt.Errorf("redis get marker: %w", err)
	}
	return false, nil
}

func (m *Marker) Mark(ctx context.Context, key string) error {
	if err := m.client.Set(ctx, markerKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set marker: %w", err)
	}
	return nil
}
