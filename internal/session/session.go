// Package session tracks connection liveness in Redis: a Registry records
// that a given muxer/demuxer pair is alive and refreshes a TTL on every
// heartbeat, so a fleet of gateway processes can tell which connections
// are live across restarts without keeping that state only in process
// memory.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// Registry tracks liveness of muxer/demuxer connections in Redis.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRegistry wraps an existing Redis client. ttl of zero selects a
// 5 minute default.
func NewRegistry(client *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Registry{client: client, ttl: ttl}
}

func key(connID string) string {
	return fmt.Sprintf("packetcomms:session:%s", connID)
}

// Touch records connID as alive, refreshing its TTL. Call it once on
// connect and again on every observed heartbeat.
func (r *Registry) Touch(ctx context.Context, connID string) error {
	if err := r.client.Set(ctx, key(connID), time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("session: touch %q: %w", connID, err)
	}
	return nil
}

// Release removes connID's liveness record, called on clean disconnect or
// transport failure.
func (r *Registry) Release(ctx context.Context, connID string) error {
	if err := r.client.Del(ctx, key(connID)).Err(); err != nil {
		return fmt.Errorf("session: release %q: %w", connID, err)
	}
	return nil
}

// IsAlive reports whether connID currently has an unexpired liveness
// record.
func (r *Registry) IsAlive(ctx context.Context, connID string) (bool, error) {
	n, err := r.client.Exists(ctx, key(connID)).Result()
	if err != nil {
		return false, fmt.Errorf("session: check %q: %w", connID, err)
	}
	return n > 0, nil
}
