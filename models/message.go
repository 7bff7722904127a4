package models

import "time"

// Sender identifies who wrote a history entry.
type Sender string

const (
	SenderUser Sender = "User"
	SenderBot  Sender = "Bot"
)

// HistoryEntry is one message of a conversation history.
type HistoryEntry struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// SessionState is the per-chat session hash.
type SessionState struct {
	Step   Step              `json:"step"`
	Fields map[string]string `json:"fields,omitempty"`
}

// InboundMessage is a validated text message extracted from a webhook event.
type InboundMessage struct {
	ChatID    string
	MessageID string
	Text      string
}
