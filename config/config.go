package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ReplyProviderStub      = "stub"
	ReplyProviderOpenAI    = "openai"
	ReplyProviderAnthropic = "anthropic"
)

type Configuration struct {
	ApiPort   string
	LogLevel  string
	LogFormat string

	// Webhook / gateway (WAHA)
	WebhookSecret   string
	WebhookURL      string
	WebhookEvents   []string
	GatewayURL      string
	GatewayKey      string
	GatewaySession  string
	GatewayTimeout  time.Duration
	BootstrapTries  int
	BootstrapDelay  time.Duration
	AdminToken      string
	CORSAllowOrigin string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	RedisTimeout  time.Duration

	// Sessions / queue
	SessionTTL       time.Duration
	DedupTTL         time.Duration
	HistoryLimit     int
	QueuePopTimeout  time.Duration
	FallbackInterval time.Duration
	RetryDelay       time.Duration
	HoldingReply     bool

	// Reply generation
	ReplyProvider  string
	OpenAIKey      string
	OpenAIModel    string
	OpenAIPrompt   string
	AnthropicKey   string
	AnthropicModel string

	// Ledger (gorm). Empty driver disables it.
	LedgerDriver string
	LedgerDSN    string
}

// Load reads the configuration from the environment. A .env file, when present
// at envFile, is loaded first and never overrides variables already set.
func Load(envFile string) (*Configuration, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("WEBHOOK_EVENTS", "message")
	v.SetDefault("WAHA_API_URL", "http://waha:3000")
	v.SetDefault("WAHA_INSTANCE_KEY", "default")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("BOOTSTRAP_ATTEMPTS", 10)
	v.SetDefault("BOOTSTRAP_DELAY", "8s")
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TIMEOUT", "5s")
	v.SetDefault("SESSION_TTL", "3600s")
	v.SetDefault("DEDUP_TTL", "24h")
	v.SetDefault("HISTORY_LIMIT", 10)
	v.SetDefault("QUEUE_POP_TIMEOUT", "5s")
	v.SetDefault("WORKER_FALLBACK_INTERVAL", "30s")
	v.SetDefault("WORKER_RETRY_DELAY", "2s")
	v.SetDefault("HOLDING_REPLY", true)
	v.SetDefault("REPLY_PROVIDER", ReplyProviderStub)
	v.SetDefault("OPENAI_MODEL", "gpt-4.1-mini")
	v.SetDefault("OPENAI_SYSTEM_PROMPT", "Você é a Penélope, atendente virtual útil, educada e direta. Responda em português do Brasil.")
	v.SetDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest")
	v.SetDefault("LEDGER_DSN", "db/ledger.db")

	c := &Configuration{
		ApiPort:          strings.TrimSpace(v.GetString("PORT")),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		WebhookSecret:    strings.TrimSpace(v.GetString("WEBHOOK_HMAC_SECRET")),
		WebhookURL:       strings.TrimSpace(v.GetString("WEBHOOK_URL")),
		WebhookEvents:    splitList(v.GetString("WEBHOOK_EVENTS")),
		GatewayURL:       strings.TrimRight(strings.TrimSpace(v.GetString("WAHA_API_URL")), "/"),
		GatewayKey:       strings.TrimSpace(v.GetString("WAHA_API_KEY")),
		GatewaySession:   strings.TrimSpace(v.GetString("WAHA_INSTANCE_KEY")),
		GatewayTimeout:   v.GetDuration("GATEWAY_TIMEOUT"),
		BootstrapTries:   v.GetInt("BOOTSTRAP_ATTEMPTS"),
		BootstrapDelay:   v.GetDuration("BOOTSTRAP_DELAY"),
		AdminToken:       strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
		CORSAllowOrigin:  strings.TrimSpace(v.GetString("CORS_ORIGIN")),
		RedisHost:        strings.TrimSpace(v.GetString("REDIS_HOST")),
		RedisPort:        v.GetInt("REDIS_PORT"),
		RedisDB:          v.GetInt("REDIS_DB"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisTimeout:     v.GetDuration("REDIS_TIMEOUT"),
		SessionTTL:       v.GetDuration("SESSION_TTL"),
		DedupTTL:         v.GetDuration("DEDUP_TTL"),
		HistoryLimit:     v.GetInt("HISTORY_LIMIT"),
		QueuePopTimeout:  v.GetDuration("QUEUE_POP_TIMEOUT"),
		FallbackInterval: v.GetDuration("WORKER_FALLBACK_INTERVAL"),
		RetryDelay:       v.GetDuration("WORKER_RETRY_DELAY"),
		HoldingReply:     v.GetBool("HOLDING_REPLY"),
		ReplyProvider:    strings.ToLower(strings.TrimSpace(v.GetString("REPLY_PROVIDER"))),
		OpenAIKey:        strings.TrimSpace(v.GetString("OPENAI_API_KEY")),
		OpenAIModel:      strings.TrimSpace(v.GetString("OPENAI_MODEL")),
		OpenAIPrompt:     v.GetString("OPENAI_SYSTEM_PROMPT"),
		AnthropicKey:     strings.TrimSpace(v.GetString("ANTHROPIC_API_KEY")),
		AnthropicModel:   strings.TrimSpace(v.GetString("ANTHROPIC_MODEL")),
		LedgerDriver:     strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_DRIVER"))),
		LedgerDSN:        strings.TrimSpace(v.GetString("LEDGER_DSN")),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Configuration) Validate() error {
	var errs []string

	if p, err := strconv.Atoi(c.ApiPort); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %q is not a valid port", c.ApiPort))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}

	if c.GatewayURL == "" {
		errs = append(errs, "WAHA_API_URL is required")
	} else if u, err := url.Parse(c.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("WAHA_API_URL %q is not an absolute URL", c.GatewayURL))
	}
	if c.GatewaySession == "" {
		errs = append(errs, "WAHA_INSTANCE_KEY must not be empty")
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("WEBHOOK_URL %q is not an absolute URL", c.WebhookURL))
		}
	}
	if len(c.WebhookEvents) == 0 {
		errs = append(errs, "WEBHOOK_EVENTS must list at least one event")
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, "GATEWAY_TIMEOUT must be positive")
	}
	if c.BootstrapTries <= 0 {
		errs = append(errs, "BOOTSTRAP_ATTEMPTS must be positive")
	}
	if c.BootstrapDelay < 0 {
		errs = append(errs, "BOOTSTRAP_DELAY must not be negative")
	}

	if c.RedisHost == "" {
		errs = append(errs, "REDIS_HOST is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT %d is not a valid port", c.RedisPort))
	}
	if c.RedisDB < 0 {
		errs = append(errs, "REDIS_DB must not be negative")
	}
	if c.RedisTimeout <= 0 {
		errs = append(errs, "REDIS_TIMEOUT must be positive")
	}

	if c.SessionTTL < time.Second {
		errs = append(errs, "SESSION_TTL must be at least 1s")
	}
	if c.DedupTTL < time.Minute {
		errs = append(errs, "DEDUP_TTL must be at least 1m")
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, "HISTORY_LIMIT must be positive")
	}
	if c.QueuePopTimeout < time.Second {
		errs = append(errs, "QUEUE_POP_TIMEOUT must be at least 1s")
	}
	if c.FallbackInterval <= 0 {
		errs = append(errs, "WORKER_FALLBACK_INTERVAL must be positive")
	}
	if c.RetryDelay < 0 {
		errs = append(errs, "WORKER_RETRY_DELAY must not be negative")
	}

	switch c.ReplyProvider {
	case ReplyProviderStub:
	case ReplyProviderOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required when REPLY_PROVIDER=openai")
		}
	case ReplyProviderAnthropic:
		if c.AnthropicKey == "" {
			errs = append(errs, "ANTHROPIC_API_KEY is required when REPLY_PROVIDER=anthropic")
		}
	default:
		errs = append(errs, fmt.Sprintf("REPLY_PROVIDER %q must be stub, openai or anthropic", c.ReplyProvider))
	}

	switch c.LedgerDriver {
	case "", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_DRIVER %q must be sqlite3 or postgres", c.LedgerDriver))
	}
	if c.LedgerDriver != "" && c.LedgerDSN == "" {
		errs = append(errs, "LEDGER_DSN is required when LEDGER_DRIVER is set")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Configuration) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// SigningEnabled reports whether inbound webhooks can be authenticated at all.
func (c *Configuration) SigningEnabled() bool {
	return c.WebhookSecret != ""
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
