package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"zapdesk/tools"
)

// BootstrapStatus is the outcome of the gateway webhook registration.
type BootstrapStatus string

const (
	BootstrapPending  BootstrapStatus = "pending"
	BootstrapReady    BootstrapStatus = "ready"
	BootstrapFailed   BootstrapStatus = "failed"
	BootstrapDisabled BootstrapStatus = "disabled"
)

// SessionConfigurer registers the webhook with the gateway session.
type SessionConfigurer interface {
	ConfigureSession(ctx context.Context, cfg tools.SessionConfig) error
}

type BootstrapOptions struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration // per attempt
}

// Bootstrap points the gateway session at our webhook, retrying while the
// gateway is still starting. It never blocks request handling; callers read
// Status or Ready instead.
type Bootstrap struct {
	gateway SessionConfigurer
	cfg     tools.SessionConfig
	opts    BootstrapOptions
	logger  *slog.Logger

	status atomic.Value
	done   chan struct{}
}

func NewBootstrap(gateway SessionConfigurer, cfg tools.SessionConfig, opts BootstrapOptions, logger *slog.Logger) *Bootstrap {
	if opts.Attempts <= 0 {
		opts.Attempts = 10
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bootstrap{
		gateway: gateway,
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With("component", "bootstrap"),
		done:    make(chan struct{}),
	}
	b.status.Store(BootstrapPending)
	return b
}

// Start launches the registration in the background.
func (b *Bootstrap) Start(ctx context.Context) {
	if b.cfg.HMACKey == "" {
		b.logger.Error("WEBHOOK_HMAC_SECRET is not set, webhook registration skipped and every inbound request will be rejected")
		b.finish(BootstrapDisabled)
		return
	}
	if b.cfg.WebhookURL == "" {
		b.logger.Warn("WEBHOOK_URL is not set, webhook registration skipped")
		b.finish(BootstrapDisabled)
		return
	}
	go b.run(ctx)
}

func (b *Bootstrap) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bootstrap panicked", "panic", r)
			b.finish(BootstrapFailed)
		}
	}()

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		err := b.gateway.ConfigureSession(actx, b.cfg)
		if err != nil && tools.IsUnauthorized(err) {
			b.logger.Error("gateway rejected credentials, check WAHA_API_KEY", "attempt", attempt)
		}
		return struct{}{}, err
	}

	// Worst case is every attempt timing out plus the waits between them.
	budget := time.Duration(b.opts.Attempts)*(b.opts.Timeout+b.opts.Delay) + time.Minute

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(b.opts.Delay)),
		backoff.WithMaxTries(uint(b.opts.Attempts)),
		backoff.WithMaxElapsedTime(budget),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn("webhook registration failed, retrying",
				"attempt", attempt, "max_attempts", b.opts.Attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		b.logger.Error("webhook registration gave up", "attempts", attempt, "error", err)
		b.finish(BootstrapFailed)
		return
	}

	b.logger.Info("webhook registered", "url", b.cfg.WebhookURL, "events", b.cfg.Events, "attempts", attempt)
	b.finish(BootstrapReady)
}

func (b *Bootstrap) finish(s BootstrapStatus) {
	b.status.Store(s)
	close(b.done)
}

func (b *Bootstrap) Status() BootstrapStatus {
	return b.status.Load().(BootstrapStatus)
}

func (b *Bootstrap) Ready() bool {
	return b.Status() == BootstrapReady
}

// Done is closed once the bootstrap settles on a final status.
func (b *Bootstrap) Done() <-chan struct{} {
	return b.done
}
