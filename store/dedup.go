package store

import (
	"context"
	"fmt"
	"time"
)

// CheckAndMark atomically records msgID as processed. It returns true the
// first time msgID is seen and false for every later call within ttl.
func (s *Store) CheckAndMark(ctx context.Context, msgID string, ttl time.Duration) (bool, error) {
	first, err := s.rdb.SetNX(ctx, processedKey(msgID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed %s: %w", msgID, err)
	}
	return first, nil
}

// Forget releases the marker of msgID so a redelivery is processed again.
func (s *Store) Forget(ctx context.Context, msgID string) error {
	if err := s.rdb.Del(ctx, processedKey(msgID)).Err(); err != nil {
		return fmt.Errorf("forget processed %s: %w", msgID, err)
	}
	return nil
}
