// Package store keeps support-desk state in Redis: session hashes, message
// history, the wait queue, processed-message markers and the pub/sub channel
// that wakes the dispatch worker.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// QueueKey is the single support wait queue.
	QueueKey = "queue:support"
	// NotifyChannel is the broadcast topic the dispatch worker subscribes to.
	NotifyChannel = "new_user_queue"
)

func sessionKey(chatID string) string { return "session:" + chatID }

func historyKey(chatID string) string { return "history:" + chatID }

func processedKey(msgID string) string { return "processed:" + msgID }

// Options configures the Redis connection. Timeouts are applied once here and
// bound every command issued through the store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Store is the Redis handle shared by the webhook path and the worker.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// Connect dials Redis and pings it. A failure here is fatal for the caller.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	s := New(rdb, logger)
	s.logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

// New wraps an existing client.
func New(rdb *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, logger: logger.With("component", "store")}
}

// Ping checks connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
