package controllers

import (
	"log/slog"
	"time"

	"zapdesk/session"
	"zapdesk/store"
	"zapdesk/workers"

	"github.com/gin-gonic/gin"
)

const servicesKey = "services"

// StatusReporter exposes the gateway bootstrap outcome.
type StatusReporter interface {
	Status() workers.BootstrapStatus
}

// Services are the process-wide collaborators the handlers need.
type Services struct {
	Store         *store.Store
	Machine       *session.Machine
	Bootstrap     StatusReporter
	WebhookSecret string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

// SetServicesToContext exposes s to every handler of the engine.
func SetServicesToContext(s *Services) gin.HandlerFunc {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Set(servicesKey, s)
		c.Next()
	}
}

func ServicesInstance(c *gin.Context) *Services {
	v, ok := c.Get(servicesKey)
	if !ok {
		return nil
	}
	s, _ := v.(*Services)
	return s
}

// requestLogger returns the logger tagged with the request id, if any.
func requestLogger(c *gin.Context, s *Services) *slog.Logger {
	if id := c.GetString(RequestIDKey); id != "" {
		return s.Logger.With("request_id", id)
	}
	return s.Logger
}
