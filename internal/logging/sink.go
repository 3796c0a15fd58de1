// Package logging archives one audit record per relay turn. Records are
// buffered in Redis and shipped to S3 in JSON Lines batches.
package logging

import (
	"context"
	"time"
)

// TurnRecord is the audit line written for every turn, whatever its outcome
type TurnRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	TurnID           string    `json:"turn_id"`
	AccountID        string    `json:"account_id"`
	ConversationID   string    `json:"conversation_id"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	Outcome          string    `json:"outcome"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             int64     `json:"cost"`
	UpstreamMs       int64     `json:"upstream_ms"`
	TotalMs          int64     `json:"total_ms"`
	Error            string    `json:"error,omitempty"`
}

// Sink receives turn records. Enqueue must not block the caller for long.
type Sink interface {
	Enqueue(rec *TurnRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *TurnRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
