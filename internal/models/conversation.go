package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one chat thread. TotalTokens always equals the sum of its
// messages' TokenCount.
type Conversation struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	AccountID   uuid.UUID  `db:"account_id" json:"account_id"`
	Title       *string    `db:"title" json:"title,omitempty"`
	TotalTokens int        `db:"total_tokens" json:"total_tokens"`
	LastModelID *uuid.UUID `db:"last_model_id" json:"last_model_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// HasTitle reports whether a non-empty title was assigned.
func (c *Conversation) HasTitle() bool {
	return c.Title != nil && *c.Title != ""
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// Message is immutable once stored. Seq breaks ties between equal CreatedAt values.
type Message struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	ConversationID uuid.UUID   `db:"conversation_id" json:"conversation_id"`
	Seq            int64       `db:"seq" json:"-"`
	Role           MessageRole `db:"role" json:"role"`
	Type           MessageType `db:"type" json:"type"`
	Content        string      `db:"content" json:"content"`
	AssetID        *string     `db:"asset_id" json:"asset_id,omitempty"`
	TokenCount     int         `db:"token_count" json:"token_count"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

func (m *Message) IsImage() bool {
	return m.Type == MessageImage && m.AssetID != nil
}
