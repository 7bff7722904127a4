package router

import (
	"log/slog"
	"net/http"

	"zapdesk/config"
	"zapdesk/controllers"
	"zapdesk/db"
	"zapdesk/middleware"

	"github.com/gin-gonic/gin"
)

// Initialize wires all routes and middlewares: the public health check, the
// signed gateway webhook and the token-protected admin API.
func Initialize(r *gin.Engine, cfg *config.Configuration, services *controllers.Services, ledger *db.Ledger, logger *slog.Logger) {
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("handler panicked", "path", c.Request.URL.Path, "panic", recovered)
		controllers.RespondError(c, "internal server error", http.StatusInternalServerError)
		c.Abort()
	}))
	r.Use(Logger(logger))
	r.Use(controllers.SetServicesToContext(services))
	r.Use(db.SetLedgerToContext(ledger))

	r.GET("/health", controllers.Health)

	api := r.Group("/api")

	// Gateway webhook, authenticated by X-Webhook-Hmac.
	api.POST("/webhook", controllers.WebhookUpdate)

	admin := api.Group("/admin")
	admin.Use(middleware.CORSMiddleware(cfg.CORSAllowOrigin))
	admin.Use(Adminizer(cfg.AdminToken))
	admin.OPTIONS("/*any", func(c *gin.Context) {})

	admin.GET("/queue", controllers.GetQueue)
	admin.GET("/conversations/:chatId", controllers.GetConversation)
	admin.GET("/events", controllers.GetEvents)
	admin.GET("/events/:id", controllers.GetEventByID)
	admin.GET("/dashboard/replied-per-day", controllers.GetRepliedPerDay)
	admin.GET("/dashboard/events", controllers.GetEventsDashboardList)

	logger.Info("routes initialized")
}
