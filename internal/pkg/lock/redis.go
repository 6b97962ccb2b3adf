// Package lock provides a Redis-backed mutual exclusion lock used to keep
// background jobs from running on several instances at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrNotOwned    = errors.New("lock not owned")
)

// Compare-and-delete so an expired holder cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Lock is a held lock. Release it when the guarded work is done.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Manager hands out locks under a common key prefix.
type Manager struct {
	client *redis.Client
	prefix string
}

func NewManager(client *redis.Client, prefix string) *Manager {
	return &Manager{client: client, prefix: prefix}
}

// Acquire takes the lock for key if nobody holds it. The lock expires after ttl
// even if the holder dies.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := m.prefix + key
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{client: m.client, key: lockKey, token: token}, nil
}

// Release deletes the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotOwned
	}
	return nil
}
