package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Enqueue appends chatID to the tail of the wait queue and returns the new
// queue length. The length is the caller's position only if nobody pops or
// pushes concurrently.
func (s *Store) Enqueue(ctx context.Context, chatID string) (int64, error) {
	n, err := s.rdb.RPush(ctx, QueueKey, chatID).Result()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", chatID, err)
	}
	s.logger.Info("chat enqueued", "chat_id", chatID, "position", n)
	return n, nil
}

// PushFront puts chatID back at the head of the queue. It is used for a chat
// that was popped but could not be taken into service, so it keeps its turn.
func (s *Store) PushFront(ctx context.Context, chatID string) error {
	if err := s.rdb.LPush(ctx, QueueKey, chatID).Err(); err != nil {
		return fmt.Errorf("push %s back to queue: %w", chatID, err)
	}
	s.logger.Info("chat returned to queue head", "chat_id", chatID)
	return nil
}

// Contains scans the queue for chatID. O(n) in the queue depth.
func (s *Store) Contains(ctx context.Context, chatID string) (bool, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it == chatID {
			return true, nil
		}
	}
	return false, nil
}

// PopBlocking removes and returns the queue head, waiting up to timeout.
// ok is false when the timeout expires with an empty queue.
func (s *Store) PopBlocking(ctx context.Context, timeout time.Duration) (chatID string, ok bool, err error) {
	// BLPOP takes whole seconds and 0 would block forever.
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := s.rdb.BLPop(ctx, timeout, QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop queue: %w", err)
	}
	// BLPOP replies [key, value].
	if len(res) != 2 {
		return "", false, fmt.Errorf("pop queue: unexpected reply %v", res)
	}
	return res[1], true, nil
}

// Remove deletes one occurrence of chatID from the queue and reports whether
// it was present.
func (s *Store) Remove(ctx context.Context, chatID string) (bool, error) {
	n, err := s.rdb.LRem(ctx, QueueKey, 1, chatID).Result()
	if err != nil {
		return false, fmt.Errorf("remove %s from queue: %w", chatID, err)
	}
	return n > 0, nil
}

// Len returns the queue depth.
func (s *Store) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Items returns the queue contents in service order.
func (s *Store) Items(ctx context.Context) ([]string, error) {
	items, err := s.rdb.LRange(ctx, QueueKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return items, nil
}
