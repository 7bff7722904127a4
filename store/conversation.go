package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"zapdesk/models"

	"github.com/redis/go-redis/v9"
)

const stepField = "step"

// GetState returns the session of chatID. An absent or expired session is
// reported as StepInicio, never as an error.
func (s *Store) GetState(ctx context.Context, chatID string) (models.SessionState, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(chatID)).Result()
	if err != nil {
		return models.SessionState{}, fmt.Errorf("get state %s: %w", chatID, err)
	}

	step, ok := models.ParseStep(fields[stepField])
	if !ok {
		s.logger.Warn("unknown step stored, treating as INICIO", "chat_id", chatID, "step", fields[stepField])
	}
	delete(fields, stepField)
	return models.SessionState{Step: step, Fields: fields}, nil
}

// UpdateState merges fields into the session hash; last writer wins per field.
func (s *Store) UpdateState(ctx context.Context, chatID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	if err := s.rdb.HSet(ctx, sessionKey(chatID), values...).Err(); err != nil {
		return fmt.Errorf("update state %s: %w", chatID, err)
	}
	s.logger.Debug("state updated", "chat_id", chatID, "fields", fields)
	return nil
}

// SetStep stores the conversation step.
func (s *Store) SetStep(ctx context.Context, chatID string, step models.Step) error {
	return s.UpdateState(ctx, chatID, map[string]string{stepField: step.String()})
}

// SetTTL refreshes the session expiry. History is not affected.
func (s *Store) SetTTL(ctx context.Context, chatID string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, sessionKey(chatID), ttl).Err(); err != nil {
		return fmt.Errorf("set ttl %s: %w", chatID, err)
	}
	return nil
}

// AppendHistory records a message and returns the new history length.
// Entries are pushed to the head of the list, so the list is newest-first.
func (s *Store) AppendHistory(ctx context.Context, chatID string, sender models.Sender, text string) (int64, error) {
	raw, err := json.Marshal(models.HistoryEntry{Sender: sender, Text: text, At: time.Now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("encode history entry: %w", err)
	}
	n, err := s.rdb.LPush(ctx, historyKey(chatID), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("append history %s: %w", chatID, err)
	}
	return n, nil
}

// RecentHistory returns up to limit of the latest entries, oldest first.
func (s *Store) RecentHistory(ctx context.Context, chatID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		return []models.HistoryEntry{}, nil
	}
	return s.history(ctx, chatID, int64(limit-1))
}

// FullHistory returns every entry, oldest first.
func (s *Store) FullHistory(ctx context.Context, chatID string) ([]models.HistoryEntry, error) {
	return s.history(ctx, chatID, -1)
}

func (s *Store) history(ctx context.Context, chatID string, stop int64) ([]models.HistoryEntry, error) {
	raw, err := s.rdb.LRange(ctx, historyKey(chatID), 0, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read history %s: %w", chatID, err)
	}

	// The list is newest-first; callers get chronological order.
	out := make([]models.HistoryEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, fmt.Errorf("decode history entry of %s: %w", chatID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
