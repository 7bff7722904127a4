package controllers

import (
	"net/http"

	"zapdesk/workers"

	"github.com/gin-gonic/gin"
)

// GET /health
func Health(c *gin.Context) {
	s := ServicesInstance(c)
	if s == nil {
		RespondError(c, "serviços não configurados no contexto", http.StatusInternalServerError)
		return
	}

	gateway := workers.BootstrapDisabled
	if s.Bootstrap != nil {
		gateway = s.Bootstrap.Status()
	}

	if err := s.Store.Ping(c.Request.Context()); err != nil {
		requestLogger(c, s).Error("health check: redis unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": false, "gateway": gateway})
		return
	}

	RespondSuccess(c, gin.H{"status": "ok", "redis": true, "gateway": gateway})
}
