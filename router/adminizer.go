package router

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"zapdesk/controllers"

	"github.com/gin-gonic/gin"
)

// Adminizer blocks access when the bearer token does not match token.
// An empty token closes the admin routes entirely.
func Adminizer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			controllers.RespondError(c, "admin desativado (ADMIN_TOKEN)", http.StatusForbidden)
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || provided == "" {
			controllers.RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(token)) != 1 {
			controllers.RespondError(c, "admin required", http.StatusForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
