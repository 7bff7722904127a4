package tools

import (
	"context"
	"strings"

	"zapdesk/models"
)

// ReplyGenerator turns a chronological conversation history into the next
// bot message.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, history []models.HistoryEntry) (string, error)
}

// StubReplyText is the fixed answer of StubReplier.
const StubReplyText = "Resposta gerada com sucesso"

// StubReplier always answers StubReplyText.
type StubReplier struct{}

func (StubReplier) GenerateReply(ctx context.Context, history []models.HistoryEntry) (string, error) {
	return StubReplyText, nil
}

// FormatHistory renders history as "[Sender]: text" lines.
func FormatHistory(history []models.HistoryEntry) string {
	var b strings.Builder
	for i, e := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(string(e.Sender))
		b.WriteString("]: ")
		b.WriteString(e.Text)
	}
	return b.String()
}
