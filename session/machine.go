// Package session decides, for every inbound message, whether a conversation
// is admitted to the support queue, whether the dispatch worker is woken up
// and which immediate reply the user gets.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zapdesk/models"
	"zapdesk/tools"
)

// Store is the subset of the Redis store the machine needs.
type Store interface {
	GetState(ctx context.Context, chatID string) (models.SessionState, error)
	SetStep(ctx context.Context, chatID string, step models.Step) error
	SetTTL(ctx context.Context, chatID string, ttl time.Duration) error
	Contains(ctx context.Context, chatID string) (bool, error)
	Enqueue(ctx context.Context, chatID string) (int64, error)
	Notify(ctx context.Context, chatID string) error
}

// Sender delivers an immediate reply to the user.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Replies sent from the webhook path.
const (
	HoldingReplyText  = "Você já está na fila de atendimento. Aguarde, por favor, que já vamos falar com você."
	positionReplyText = "Olá! Você entrou na fila de atendimento na posição %d. Em breve vamos te responder."
)

// Result describes what Handle did.
type Result struct {
	Previous models.Step // step read before the transition
	Current  models.Step
	Position int64 // queue position when the chat was admitted
	Enqueued bool
	Notified bool
}

// Machine runs the per-message transition table.
type Machine struct {
	store        Store
	sender       Sender
	logger       *slog.Logger
	sessionTTL   time.Duration
	holdingReply bool
}

// Options tunes a Machine.
type Options struct {
	SessionTTL   time.Duration
	HoldingReply bool
}

func NewMachine(store Store, sender Sender, opts Options, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	return &Machine{
		store:        store,
		sender:       sender,
		logger:       logger.With("component", "session"),
		sessionTTL:   opts.SessionTTL,
		holdingReply: opts.HoldingReply,
	}
}

// Handle applies one validated, non-duplicate inbound message of chatID.
// It never blocks on reply generation; slow work belongs to the worker.
func (m *Machine) Handle(ctx context.Context, chatID string, text string) (Result, error) {
	st, err := m.store.GetState(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Previous: st.Step, Current: st.Step}

	switch st.Step {
	case models.StepEmAtendimento:
		if err := m.store.Notify(ctx, chatID); err != nil {
			return res, err
		}
		res.Notified = true

	case models.StepInQueue:
		if m.holdingReply {
			m.reply(ctx, chatID, HoldingReplyText)
		}
		if err := m.store.Notify(ctx, chatID); err != nil {
			return res, err
		}
		res.Notified = true

	case models.StepInicio:
		queued, err := m.store.Contains(ctx, chatID)
		if err != nil {
			return res, err
		}
		if queued {
			// Concurrent admission of the same chat already won.
			m.logger.Info("chat already queued, skipping admission", "chat_id", chatID)
			break
		}

		pos, err := m.store.Enqueue(ctx, chatID)
		if err != nil {
			return res, err
		}
		res.Enqueued = true
		res.Position = pos

		if err := m.store.SetStep(ctx, chatID, models.StepInQueue); err != nil {
			return res, err
		}
		res.Current = models.StepInQueue

		m.reply(ctx, chatID, fmt.Sprintf(positionReplyText, pos))

		if pos == 1 {
			if err := m.store.Notify(ctx, chatID); err != nil {
				return res, err
			}
			res.Notified = true
		}

	default:
		return res, fmt.Errorf("unhandled step %q", st.Step)
	}

	if err := m.store.SetTTL(ctx, chatID, m.sessionTTL); err != nil {
		return res, err
	}

	m.logger.Info("message handled",
		"chat_id", chatID,
		"previous_step", res.Previous,
		"step", res.Current,
		"enqueued", res.Enqueued,
		"notified", res.Notified,
		"text_len", len(text),
	)
	return res, nil
}

// reply sends an immediate message; failures are logged, not returned,
// because admission already happened.
func (m *Machine) reply(ctx context.Context, chatID, text string) {
	if m.sender == nil {
		return
	}
	if err := m.sender.SendText(ctx, chatID, text); err != nil {
		if tools.IsUnauthorized(err) {
			m.logger.Error("gateway rejected credentials, check WAHA_API_KEY", "chat_id", chatID, "error", err)
			return
		}
		m.logger.Warn("immediate reply failed", "chat_id", chatID, "error", err)
	}
}
