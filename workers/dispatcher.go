package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zapdesk/models"
	"zapdesk/store"
	"zapdesk/tools"
)

// Store is the subset of the Redis store the dispatcher uses.
type Store interface {
	SetStep(ctx context.Context, chatID string, step models.Step) error
	SetTTL(ctx context.Context, chatID string, ttl time.Duration) error
	RecentHistory(ctx context.Context, chatID string, limit int) ([]models.HistoryEntry, error)
	AppendHistory(ctx context.Context, chatID string, sender models.Sender, text string) (int64, error)
	Enqueue(ctx context.Context, chatID string) (int64, error)
	Remove(ctx context.Context, chatID string) (bool, error)
	PushFront(ctx context.Context, chatID string) error
	PopBlocking(ctx context.Context, timeout time.Duration) (string, bool, error)
	Len(ctx context.Context) (int64, error)
	Notify(ctx context.Context, chatID string) error
	Subscribe(ctx context.Context) (*store.Subscription, error)
}

// Sender delivers the generated reply.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Ledger records the outcome of a dispatch.
type Ledger interface {
	MarkReplied(chatID, reply string) error
	MarkFailed(chatID string, cause error) error
}

type noopLedger struct{}

func (noopLedger) MarkReplied(string, string) error { return nil }
func (noopLedger) MarkFailed(string, error) error { return nil }

// restoreTimeout bounds the push back of a popped chat; it runs on a fresh
// context so it still happens while the worker is shutting down.
const restoreTimeout = 5 * time.Second

// DispatcherOptions tunes the worker loop.
type DispatcherOptions struct {
	HistoryLimit     int
	SessionTTL       time.Duration
	PopTimeout       time.Duration
	FallbackInterval time.Duration
	RetryDelay       time.Duration
	DispatchTimeout  time.Duration
}

func (o *DispatcherOptions) defaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = time.Hour
	}
	if o.PopTimeout < time.Second {
		o.PopTimeout = time.Second
	}
	if o.FallbackInterval <= 0 {
		o.FallbackInterval = 30 * time.Second
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 60 * time.Second
	}
}

// Dispatcher is the single consumer that turns a queued conversation into a
// sent reply.
type Dispatcher struct {
	store   Store
	replier tools.ReplyGenerator
	sender  Sender
	ledger  Ledger
	opts    DispatcherOptions
	logger  *slog.Logger
}

func NewDispatcher(st Store, replier tools.ReplyGenerator, sender Sender, ledger Ledger, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = noopLedger{}
	}
	return &Dispatcher{
		store:   st,
		replier: replier,
		sender:  sender,
		ledger:  ledger,
		opts:    opts,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Run blocks on the notification channel until ctx is done. Without
// notifications it polls the queue every FallbackInterval, so a missed
// notification only delays a chat.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub, err := d.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	d.logger.Info("dispatcher started", "channel", store.NotifyChannel, "fallback_interval", d.opts.FallbackInterval)

	ticker := time.NewTicker(d.opts.FallbackInterval)
	defer ticker.Stop()

	notifications := sub.C()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil

		case chatID, ok := <-notifications:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("notification channel closed")
			}
			d.logger.Info("notification received", "chat_id", chatID)
			d.handle(ctx, chatID, false)
			d.drain(ctx)
			ticker.Reset(d.opts.FallbackInterval)

		case <-ticker.C:
			chatID, ok, err := d.store.PopBlocking(ctx, d.opts.PopTimeout)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error("queue poll failed", "error", err)
				}
				continue
			}
			if ok {
				d.logger.Info("chat picked up without notification", "chat_id", chatID)
				d.handle(ctx, chatID, true)
				d.drain(ctx)
			}
		}
	}
}

// drain serves the chats that were already waiting, in queue order. It stops
// after the depth observed on entry so re-enqueued failures wait a round.
func (d *Dispatcher) drain(ctx context.Context) {
	n, err := d.store.Len(ctx)
	if err != nil {
		d.logger.Error("queue length failed", "error", err)
		return
	}
	for i := int64(0); i < n && ctx.Err() == nil; i++ {
		chatID, ok, err := d.store.PopBlocking(ctx, d.opts.PopTimeout)
		if err != nil {
			d.logger.Error("queue pop failed", "error", err)
			return
		}
		if !ok {
			return
		}
		d.handle(ctx, chatID, true)
	}
}

// handle is the outermost boundary of one iteration: nothing escapes it.
// popped is true when chatID was already taken off the queue.
func (d *Dispatcher) handle(ctx context.Context, chatID string, popped bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panicked", "chat_id", chatID, "panic", r)
		}
	}()

	if err := d.dispatch(ctx, chatID, popped); err != nil && d.opts.RetryDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d.opts.RetryDelay):
		}
	}
}

// Dispatch serves one notified conversation: mark it EM_ATENDIMENTO, read the
// recent history, generate and send a reply, record it. A chat whose newest
// history entry is already a bot reply has nothing to answer and is skipped.
// Any failure after the step change re-enqueues the chat at the tail and
// publishes a new notification; the step stays EM_ATENDIMENTO.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID string) error {
	return d.dispatch(ctx, chatID, false)
}

func (d *Dispatcher) dispatch(ctx context.Context, chatID string, popped bool) error {
	log := d.logger.With("chat_id", chatID)

	pending, err := d.awaitingReply(ctx, chatID)
	if err != nil {
		log.Error("could not read history", "error", err)
		d.restore(chatID, popped)
		return err
	}
	if !pending {
		if !popped {
			if _, err := d.store.Remove(ctx, chatID); err != nil {
				log.Warn("could not remove chat from queue", "error", err)
			}
		}
		log.Info("nothing to answer, skipped")
		return nil
	}

	if err := d.store.SetStep(ctx, chatID, models.StepEmAtendimento); err != nil {
		log.Error("could not start handling", "error", err)
		d.restore(chatID, popped)
		return err
	}
	if err := d.store.SetTTL(ctx, chatID, d.opts.SessionTTL); err != nil {
		log.Warn("session ttl refresh failed", "error", err)
	}
	if !popped {
		if _, err := d.store.Remove(ctx, chatID); err != nil {
			log.Warn("could not remove chat from queue", "error", err)
		}
	}
	log.Info("step updated", "step", models.StepEmAtendimento)

	reply, err := d.deliver(ctx, chatID)
	if err != nil {
		if tools.IsUnauthorized(err) {
			log.Error("gateway rejected credentials, check WAHA_API_KEY", "error", err)
		} else {
			log.Error("dispatch failed", "error", err)
		}
		if lerr := d.ledger.MarkFailed(chatID, err); lerr != nil {
			log.Warn("ledger update failed", "error", lerr)
		}
		d.requeue(ctx, chatID)
		return err
	}

	if lerr := d.ledger.MarkReplied(chatID, reply); lerr != nil {
		log.Warn("ledger update failed", "error", lerr)
	}
	log.Info("reply sent")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, chatID string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while dispatching: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.opts.DispatchTimeout)
	defer cancel()

	history, err := d.store.RecentHistory(ctx, chatID, d.opts.HistoryLimit)
	if err != nil {
		return "", err
	}
	d.logger.Debug("history loaded", "chat_id", chatID, "history", tools.FormatHistory(history))

	reply, err = d.replier.GenerateReply(ctx, history)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if err := d.sender.SendText(ctx, chatID, reply); err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}
	if _, err := d.store.AppendHistory(ctx, chatID, models.SenderBot, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// awaitingReply reports whether the newest history entry is a user message.
func (d *Dispatcher) awaitingReply(ctx context.Context, chatID string) (bool, error) {
	last, err := d.store.RecentHistory(ctx, chatID, 1)
	if err != nil {
		return false, err
	}
	return len(last) == 1 && last[0].Sender == models.SenderUser, nil
}

// restore returns a popped chat to the queue head when it could not be taken
// into service.
func (d *Dispatcher) restore(chatID string, popped bool) {
	if !popped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := d.store.PushFront(ctx, chatID); err != nil {
		d.logger.Error("chat lost from queue", "chat_id", chatID, "error", err)
	}
}

// requeue puts chatID back at the tail and wakes the worker again.
func (d *Dispatcher) requeue(ctx context.Context, chatID string) {
	if _, err := d.store.Enqueue(ctx, chatID); err != nil {
		d.logger.Error("re-enqueue failed", "chat_id", chatID, "error", err)
		return
	}
	if err := d.store.Notify(ctx, chatID); err != nil {
		d.logger.Error("re-notify failed", "chat_id", chatID, "error", err)
		return
	}
	d.logger.Info("chat re-enqueued", "chat_id", chatID)
}
