package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	dbpkg "zapdesk/db"
	"zapdesk/models"
	"zapdesk/tools"

	"github.com/gin-gonic/gin"
)

// WebhookPayload is the part of a WAHA "message" event we use.
type WebhookPayload struct {
	Event   string `json:"event"`
	Session string `json:"session"`
	Payload struct {
		ID     string `json:"id"`
		From   string `json:"from"`
		Body   string `json:"body"`
		FromMe bool   `json:"fromMe"`
	} `json:"payload"`
}

// POST /api/webhook
func WebhookUpdate(c *gin.Context) {
	s := ServicesInstance(c)
	if s == nil {
		RespondError(c, "serviços não configurados no contexto", http.StatusInternalServerError)
		return
	}
	log := requestLogger(c, s)

	// Raw body is read once so the signature covers the exact bytes.
	raw, err := c.GetRawData()
	if err != nil {
		RespondError(c, "failed to read body", http.StatusBadRequest)
		return
	}

	if s.WebhookSecret == "" {
		log.Error("webhook rejected: WEBHOOK_HMAC_SECRET is not configured")
		RespondError(c, "assinatura não configurada", http.StatusForbidden)
		return
	}
	sig := strings.TrimSpace(c.GetHeader(tools.SignatureHeader))
	if sig == "" {
		RespondError(c, "assinatura ausente", http.StatusForbidden)
		return
	}
	if !tools.VerifySignature(s.WebhookSecret, raw, sig) {
		log.Warn("webhook rejected: signature mismatch")
		RespondError(c, "assinatura inválida", http.StatusForbidden)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		RespondError(c, "invalid json", http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		ChatID:    strings.TrimSpace(payload.Payload.From),
		MessageID: strings.TrimSpace(payload.Payload.ID),
		Text:      strings.TrimSpace(payload.Payload.Body),
	}
	if msg.ChatID == "" || msg.Text == "" || payload.Payload.FromMe {
		RespondSuccess(c, gin.H{"status": "no_message"})
		return
	}
	if msg.MessageID == "" {
		RespondError(c, "payload.id é obrigatório", http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	log = log.With("chat_id", msg.ChatID, "message_id", msg.MessageID)

	first, err := s.Store.CheckAndMark(ctx, msg.MessageID, s.DedupTTL)
	if err != nil {
		log.Error("dedup check failed", "error", err)
		RespondError(c, "internal server error", http.StatusInternalServerError)
		return
	}
	if !first {
		log.Info("duplicate message ignored")
		RespondSuccess(c, gin.H{"status": "duplicate", "message_id": msg.MessageID})
		return
	}

	if _, err := s.Store.AppendHistory(ctx, msg.ChatID, models.SenderUser, msg.Text); err != nil {
		// Nothing was written yet, so a gateway retry may run the message again.
		log.Error("history append failed", "error", err)
		forget(c, s, msg.MessageID)
		RespondError(c, "internal server error", http.StatusInternalServerError)
		return
	}

	if ledger := dbpkg.LedgerInstance(c); ledger != nil {
		recordInbound(c, s, ledger, msg)
	}

	res, err := s.Machine.Handle(ctx, msg.ChatID, msg.Text)
	if err != nil {
		// The message is already in history and may be queued; the marker
		// stays so a retry is answered as duplicate.
		log.Error("state machine failed", "error", err)
		RespondError(c, "internal server error", http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"status": "success", "step": res.Previous})
}

// forget releases the dedup marker of a message that left no trace.
func forget(c *gin.Context, s *Services, messageID string) {
	if err := s.Store.Forget(c.Request.Context(), messageID); err != nil {
		requestLogger(c, s).Warn("dedup marker release failed", "message_id", messageID, "error", err)
	}
}

func recordInbound(c *gin.Context, s *Services, ledger *dbpkg.Ledger, msg models.InboundMessage) {
	log := requestLogger(c, s)
	st, err := s.Store.GetState(c.Request.Context(), msg.ChatID)
	if err != nil {
		log.Warn("ledger skipped: state read failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if err := ledger.RecordInbound(msg, st.Step); err != nil {
		log.Warn("ledger insert failed", "chat_id", msg.ChatID, "error", err)
	}
}
