package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notify publishes chatID on the notification channel. Delivery is
// at-most-once: without a subscriber the message is dropped.
func (s *Store) Notify(ctx context.Context, chatID string) error {
	receivers, err := s.rdb.Publish(ctx, NotifyChannel, chatID).Result()
	if err != nil {
		return fmt.Errorf("notify %s: %w", chatID, err)
	}
	s.logger.Debug("notification published", "chat_id", chatID, "receivers", receivers)
	return nil
}

// Subscription delivers chat ids published on the notification channel.
type Subscription struct {
	ps   *redis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
}

// Subscribe joins the notification channel and waits for the server to
// confirm, so notifications published after it returns are delivered.
func (s *Store) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := s.rdb.Subscribe(ctx, NotifyChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", NotifyChannel, err)
	}

	sub := &Subscription{
		ps:   ps,
		out:  make(chan string),
		done: make(chan struct{}),
	}
	go sub.forward(ps.Channel())
	return sub, nil
}

func (sub *Subscription) forward(in <-chan *redis.Message) {
	defer close(sub.out)
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case sub.out <- msg.Payload:
			case <-sub.done:
				return
			}
		}
	}
}

// C yields chat ids until the subscription is closed.
func (sub *Subscription) C() <-chan string {
	return sub.out
}

// Close leaves the channel.
func (sub *Subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		err = sub.ps.Close()
	})
	return err
}
