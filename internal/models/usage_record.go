package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is written once per completed turn.
type UsageRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AccountID        uuid.UUID `db:"account_id" json:"account_id"`
	ModelID          uuid.UUID `db:"model_id" json:"model_id"`
	ConversationID   uuid.UUID `db:"conversation_id" json:"conversation_id"`
	TurnID           uuid.UUID `db:"turn_id" json:"turn_id"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	Cost             int64     `db:"cost" json:"cost"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
