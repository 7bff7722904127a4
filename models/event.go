package models

import "time"

/************************************************
/**** MARK: EVENT STATUS ****/
/************************************************/
const EVENT_STATUS_RECEIVED = "received"
const EVENT_STATUS_REPLIED = "replied"
const EVENT_STATUS_FAILED = "failed"

// Event registra uma mensagem recebida no webhook (inbound) no ledger.
// Entra como "received"; o worker marca "replied" (com a resposta) ou "failed" (com o erro).
type Event struct {
	ID          int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ChatID      string     `gorm:"not null;index" json:"chat_id"`
	MessageID   string     `gorm:"not null;unique_index" json:"message_id"`
	Text        string     `gorm:"type:text" json:"text"`
	Step        string     `gorm:"not null;default:'INICIO'" json:"step"` // step lido quando a mensagem chegou
	Status      string     `gorm:"not null;default:'received';index" json:"status"`
	ReplyText   string     `gorm:"type:text" json:"reply_text"`
	Error       string     `gorm:"type:text" json:"error"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}
