package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapdesk/config"
	"zapdesk/controllers"
	"zapdesk/db"
	"zapdesk/router"
	"zapdesk/session"
	"zapdesk/store"
	"zapdesk/tools"
	"zapdesk/workers"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "zapdesk",
		Short:         "WhatsApp support queue: webhook API and dispatch worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "api",
		Short: "Serve the gateway webhook, health check and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, true, false)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run the dispatch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, false, true)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run the API and the worker in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, true, true)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "zapdesk:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string, serveAPI, runWorker bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	// Connect once; an unreachable Redis aborts startup.
	st, err := store.Connect(ctx, store.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.RedisTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var ledger *db.Ledger
	if cfg.LedgerDriver != "" {
		gdb, err := db.Connect(cfg.LedgerDriver, cfg.LedgerDSN, logger)
		if err != nil {
			return err
		}
		ledger = db.NewLedger(gdb, logger)
		defer ledger.Close()
	}

	gateway := tools.WahaClient{
		BaseURL: cfg.GatewayURL,
		APIKey:  cfg.GatewayKey,
		Session: cfg.GatewaySession,
		Timeout: cfg.GatewayTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	running := 0

	if runWorker {
		dispatcher := workers.NewDispatcher(st, newReplier(cfg), gateway, ledger, workers.DispatcherOptions{
			HistoryLimit:     cfg.HistoryLimit,
			SessionTTL:       cfg.SessionTTL,
			PopTimeout:       cfg.QueuePopTimeout,
			FallbackInterval: cfg.FallbackInterval,
			RetryDelay:       cfg.RetryDelay,
		}, logger)
		running++
		go func() { errc <- dispatcher.Run(ctx) }()
	}

	if serveAPI {
		if !cfg.SigningEnabled() {
			logger.Error("WEBHOOK_HMAC_SECRET is not set, every webhook will be answered 403")
		}
		bootstrap := workers.NewBootstrap(gateway, tools.SessionConfig{
			WebhookURL: cfg.WebhookURL,
			Events:     cfg.WebhookEvents,
			HMACKey:    cfg.WebhookSecret,
		}, workers.BootstrapOptions{
			Attempts: cfg.BootstrapTries,
			Delay:    cfg.BootstrapDelay,
			Timeout:  cfg.GatewayTimeout,
		}, logger)
		bootstrap.Start(ctx)

		machine := session.NewMachine(st, gateway, session.Options{
			SessionTTL:   cfg.SessionTTL,
			HoldingReply: cfg.HoldingReply,
		}, logger)

		services := &controllers.Services{
			Store:         st,
			Machine:       machine,
			Bootstrap:     bootstrap,
			WebhookSecret: cfg.WebhookSecret,
			DedupTTL:      cfg.DedupTTL,
			Logger:        logger,
		}

		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		router.Initialize(engine, cfg, services, ledger, logger)

		running++
		go func() { errc <- serve(ctx, engine, cfg.ApiPort, logger) }()
	}

	// The first component to stop takes the others down with it.
	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}

func serve(ctx context.Context, handler http.Handler, port string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func newReplier(cfg *config.Configuration) tools.ReplyGenerator {
	switch cfg.ReplyProvider {
	case config.ReplyProviderOpenAI:
		return tools.OpenAIReplier{
			APIKey:       cfg.OpenAIKey,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.OpenAIPrompt,
		}
	case config.ReplyProviderAnthropic:
		return tools.NewAnthropicReplier(cfg.AnthropicKey, cfg.AnthropicModel, cfg.OpenAIPrompt)
	default:
		return tools.StubReplier{}
	}
}
