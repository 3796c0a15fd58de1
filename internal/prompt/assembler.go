// Package prompt builds the message list sent upstream for a turn.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"llm_relay/internal/images"
	"llm_relay/internal/models"
	"llm_relay/internal/providers"
	"llm_relay/internal/utils"
)

// UnavailableImage replaces an image whose bytes can no longer be read
const UnavailableImage = "[image unavailable]"

// MessageLister returns a conversation's stored messages in canonical order
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
}

// SystemMessageSource returns the global system directive ("" when unset)
type SystemMessageSource interface {
	SystemMessage(ctx context.Context) (string, error)
}

// ImageLoader returns image bytes for inline rendering
type ImageLoader interface {
	Load(ctx context.Context, assetID string) (providers.Image, error)
}

// Assembler renders stored history plus directives into provider messages
type Assembler struct {
	messages MessageLister
	system   SystemMessageSource
	images   ImageLoader
	logger   *utils.Logger
}

// NewAssembler creates a new assembler
func NewAssembler(messages MessageLister, system SystemMessageSource, images ImageLoader) *Assembler {
	return &Assembler{
		messages: messages,
		system:   system,
		images:   images,
		logger:   utils.NewLogger("prompt"),
	}
}

// Placeholder is the text standing in for an image that is not re-sent
func Placeholder(assetID string) string {
	return "[image: " + assetID + "]"
}

// Build returns the global directive, the model directive, then every stored
// message of conv in order. Image messages whose id is in inline (the images
// added by the current turn) are sent as data; every other image is rendered
// as a placeholder.
func (a *Assembler) Build(ctx context.Context, conv *models.Conversation, model *models.Model, inline []uuid.UUID) ([]providers.Message, error) {
	var out []providers.Message

	global, err := a.system.SystemMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load global directive: %w", err)
	}
	if global != "" {
		out = append(out, providers.Message{Role: providers.RoleSystem, Content: global})
	}
	if model.SystemMessage != nil && *model.SystemMessage != "" {
		out = append(out, providers.Message{Role: providers.RoleSystem, Content: *model.SystemMessage})
	}

	history, err := a.messages.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	attach := make(map[uuid.UUID]struct{}, len(inline))
	for _, id := range inline {
		attach[id] = struct{}{}
	}

	for _, msg := range history {
		role := providers.RoleUser
		if msg.Role == models.RoleAssistant {
			role = providers.RoleAssistant
		}

		if !msg.IsImage() {
			out = append(out, providers.Message{Role: role, Content: msg.Content})
			continue
		}

		assetID := *msg.AssetID
		if _, ok := attach[msg.ID]; !ok {
			out = append(out, providers.Message{Role: role, Content: Placeholder(assetID)})
			continue
		}

		img, err := a.images.Load(ctx, assetID)
		if err != nil {
			if !errors.Is(err, images.ErrImageUnavailable) {
				a.logger.Warn("Failed to load image", "asset_id", assetID, "error", err)
			}
			out = append(out, providers.Message{Role: role, Content: UnavailableImage})
			continue
		}
		out = append(out, providers.Message{Role: role, Images: []providers.Image{img}})
	}

	return out, nil
}
