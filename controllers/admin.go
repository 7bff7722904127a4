package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GET /api/admin/queue
func GetQueue(c *gin.Context) {
	s := ServicesInstance(c)
	if s == nil {
		RespondError(c, "serviços não configurados no contexto", http.StatusInternalServerError)
		return
	}

	items, err := s.Store.Items(c.Request.Context())
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"length": len(items), "chats": items})
}

// GET /api/admin/conversations/:chatId
func GetConversation(c *gin.Context) {
	s := ServicesInstance(c)
	if s == nil {
		RespondError(c, "serviços não configurados no contexto", http.StatusInternalServerError)
		return
	}
	chatID := strings.TrimSpace(c.Param("chatId"))
	if chatID == "" {
		RespondError(c, "chatId é obrigatório", http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	state, err := s.Store.GetState(ctx, chatID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	history, err := s.Store.FullHistory(ctx, chatID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	queued, err := s.Store.Contains(ctx, chatID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"chat_id":      chatID,
		"step":         state.Step,
		"fields":       state.Fields,
		"queued":       queued,
		"full_history": history,
	})
}
