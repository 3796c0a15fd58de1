package relay

import (
	"strings"

	"github.com/google/uuid"

	"llm_relay/internal/auth"
	"llm_relay/internal/images"
	"llm_relay/internal/models"
)

// Caller is the authenticated account starting a turn
type Caller struct {
	AccountID uuid.UUID
	Role      auth.Role
}

// IsAdmin reports whether the caller may use any conversation
func (c Caller) IsAdmin() bool {
	return c.Role == auth.RoleAdmin
}

// Item is one new content item of a turn
type Item struct {
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
	AssetID string `json:"assetId,omitempty"`
}

func (it Item) isImage() bool {
	return it.Type == string(models.MessageImage)
}

// Request is the body of POST /api/chat/stream
type Request struct {
	Model          string     `json:"model"`
	Messages       []Item     `json:"messages"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

// validate checks the request shape. Every item is a new user item of this turn.
func (r *Request) validate() *Error {
	if strings.TrimSpace(r.Model) == "" {
		return newError(KindValidation, "model is required", nil)
	}
	if len(r.Messages) == 0 {
		return newError(KindValidation, "messages must not be empty", nil)
	}
	for _, it := range r.Messages {
		if it.Role != string(models.RoleUser) {
			return newError(KindValidation, "only user messages may be sent", nil)
		}
		switch it.Type {
		case "", string(models.MessageText):
			if strings.TrimSpace(it.Content) == "" {
				return newError(KindValidation, "text messages must have content", nil)
			}
		case string(models.MessageImage):
			if !images.ValidAssetID(it.AssetID) {
				return newError(KindValidation, "image messages must reference an asset", nil)
			}
		default:
			return newError(KindValidation, "unknown message type "+it.Type, nil)
		}
	}
	return nil
}

// titleSource is the text the title is generated from
func (r *Request) titleSource() string {
	var parts []string
	for _, it := range r.Messages {
		if !it.isImage() && strings.TrimSpace(it.Content) != "" {
			parts = append(parts, it.Content)
		}
	}
	return strings.Join(parts, "\n")
}
