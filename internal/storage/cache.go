package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archeval/arbiter/internal/models"
)

// RedisCache keeps hot session snapshots and the per-session run locks.
// Postgres remains the source of truth; the cache is read-through and a
// miss just falls back to the repository.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies connectivity.
func NewRedisCache(address, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("arbiter:session:%s", id)
}

func runLockKey(id string) string {
	return fmt.Sprintf("arbiter:runlock:%s", id)
}

// GetSession returns the cached session snapshot, or nil on a miss.
func (c *RedisCache) GetSession(ctx context.Context, id string) (*models.Session, error) {
	data, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt entry is dropped, not surfaced.
		slog.Warn("dropping corrupt session cache entry", "session", id, "error", err)
		c.client.Del(ctx, sessionKey(id))
		return nil, nil
	}

	return &s, nil
}

// PutSession stores a session snapshot with the cache TTL.
func (c *RedisCache) PutSession(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.client.Set(ctx, sessionKey(s.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}

	return nil
}

// InvalidateSession removes a session snapshot.
func (c *RedisCache) InvalidateSession(ctx context.Context, id string) error {
	return c.client.Del(ctx, sessionKey(id)).Err()
}

// AcquireRunLock claims the single-in-flight test run slot for a session.
// Returns false when a run is already outstanding. The TTL bounds lock
// leakage if the holder dies without releasing.
func (c *RedisCache) AcquireRunLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, runLockKey(sessionID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock frees the run slot for a session.
func (c *RedisCache) ReleaseRunLock(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, runLockKey(sessionID)).Err()
}

// HealthCheck verifies Redis connectivity
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
