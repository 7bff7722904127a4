package db

import (
	"fmt"
	"log/slog"
	"time"

	"zapdesk/models"

	"github.com/jinzhu/gorm"
)

// Ledger keeps an audit trail of inbound messages and the replies sent for
// them. A nil *Ledger is valid and records nothing.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger.With("component", "ledger")}
}

// DB exposes the gorm handle, nil when the ledger is disabled.
func (l *Ledger) DB() *gorm.DB {
	if l == nil {
		return nil
	}
	return l.db
}

// RecordInbound stores an accepted inbound message.
func (l *Ledger) RecordInbound(msg models.InboundMessage, step models.Step) error {
	if l == nil {
		return nil
	}
	ev := models.Event{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Step:      step.String(),
		Status:    models.EVENT_STATUS_RECEIVED,
	}
	if err := l.db.Create(&ev).Error; err != nil {
		return fmt.Errorf("record inbound %s: %w", msg.MessageID, err)
	}
	return nil
}

// MarkReplied closes every open event of chatID with the reply sent.
func (l *Ledger) MarkReplied(chatID, reply string) error {
	return l.close(chatID, map[string]any{
		"status":     models.EVENT_STATUS_REPLIED,
		"reply_text": reply,
		"error":      "",
	})
}

// MarkFailed records a failed dispatch on the open events of chatID. They
// stay open for the retry.
func (l *Ledger) MarkFailed(chatID string, cause error) error {
	if l == nil {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := l.db.Model(&models.Event{}).
		Where("chat_id = ? AND status IN (?)", chatID, []string{models.EVENT_STATUS_RECEIVED, models.EVENT_STATUS_FAILED}).
		Updates(map[string]any{"status": models.EVENT_STATUS_FAILED, "error": msg}).Error
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", chatID, err)
	}
	return nil
}

func (l *Ledger) close(chatID string, fields map[string]any) error {
	if l == nil {
		return nil
	}
	t := time.Now()
	fields["processed_at"] = &t
	err := l.db.Model(&models.Event{}).
		Where("chat_id = ? AND status IN (?)", chatID, []string{models.EVENT_STATUS_RECEIVED, models.EVENT_STATUS_FAILED}).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("close events %s: %w", chatID, err)
	}
	return nil
}

// List returns the latest events, optionally of one chat.
func (l *Ledger) List(chatID string, limit int) ([]models.Event, error) {
	if l == nil {
		return nil, nil
	}
	q := l.db.Order("id desc").Limit(limit)
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Get returns one event; found is false when id does not exist.
func (l *Ledger) Get(id int64) (ev models.Event, found bool, err error) {
	if l == nil {
		return ev, false, nil
	}
	err = l.db.First(&ev, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
