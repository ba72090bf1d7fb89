package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStore implements ports.PresenceStore. Each heartbeat refreshes a
// TTL'd key; a device whose key expired is considered unreachable even if
// its durable status row still says ONLINE.
type PresenceStore struct {
	client *goredis.Client
	prefix string
}

// NewPresenceStore creates a new Redis-backed presence store.
func NewPresenceStore(client *goredis.Client) *PresenceStore {
	return &PresenceStore{
		client: client,
		prefix: "presence:",
	}
}

// Heartbeat marks the device alive for the TTL window.
func (s *PresenceStore) Heartbeat(ctx context.Context, deviceID string, ttl time.Duration) error {
	err := s.client.Set(ctx, s.prefix+deviceID, 1, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis presence heartbeat: %w", err)
	}
	return nil
}

// IsAlive reports whether the device's presence window is still open.
func (s *PresenceStore) IsAlive(ctx context.Context, deviceID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+deviceID).Result()
	if err != nil {
		return false, fmt.Errorf("redis presence check: %w", err)
	}
	return n == 1, nil
}
