package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifiers accepted in models.provider
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Model is an upstream chat model as exposed to accounts. Read-only for the relay.
type Model struct {
	ID               uuid.UUID `db:"id" json:"id"`
	APIName          string    `db:"api_name" json:"api_name"`
	Name             string    `db:"name" json:"name"`
	Provider         string    `db:"provider" json:"provider"`
	IsEnabled        bool      `db:"is_enabled" json:"is_enabled"`
	Cost             int64     `db:"cost" json:"cost"`
	IsInferenceModel bool      `db:"is_inference_model" json:"is_inference_model"`
	ReasoningEffort  *string   `db:"reasoning_effort" json:"reasoning_effort,omitempty"`
	SystemMessage    *string   `db:"system_message" json:"system_message,omitempty"`
	ContextLimit     int       `db:"context_limit" json:"context_limit"`
	DisplayOrder     int       `db:"display_order" json:"display_order"`
	ExtraParams      JSONB     `db:"extra_params" json:"extra_params,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ReasoningEffortValid reports whether effort is one of low, medium or high.
func ReasoningEffortValid(effort string) bool {
	switch effort {
	case "low", "medium", "high":
		return true
	}
	return false
}
