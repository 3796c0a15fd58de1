// Package providers talks to upstream LLM APIs. Every provider exposes the
// same token stream regardless of the wire protocol underneath.
package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// Message roles sent upstream
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrStreamTruncated is returned when the body ends before the [DONE] marker
	ErrStreamTruncated = errors.New("upstream stream ended without completion marker")

	// ErrMalformedFrame is returned for a data frame that is not valid JSON
	ErrMalformedFrame = errors.New("malformed upstream frame")

	// ErrUpstreamReported is returned when the upstream sends an error object mid-stream
	ErrUpstreamReported = errors.New("upstream reported an error")

	// ErrProviderNotConfigured is returned by the registry for unknown provider names
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// UpstreamStatusError is returned when the upstream answers with a non-200 status
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Image is an inline image attached to a message
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a base64 data URL
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Message is one entry of the upstream conversation. A message carries text,
// images, or both.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// StreamRequest describes one upstream call
type StreamRequest struct {
	Model           string         // upstream model identifier (models.api_name)
	Messages        []Message      // system directives first, then history
	ReasoningEffort string         // sent only when non-empty
	MaxTokens       int            // 0 leaves the upstream default
	ExtraParams     map[string]any // merged into the payload without overriding fields set above
}

// Delta is one increment of assistant text
type Delta struct {
	Content string
}

// Stream yields deltas until io.EOF. Any other error ends the stream.
type Stream interface {
	Next() (Delta, error)
	Close() error
}

// Provider is implemented by each upstream API
type Provider interface {
	// Stream opens a streamed completion. The stream is bound to ctx.
	Stream(ctx context.Context, req StreamRequest) (Stream, error)

	// Complete runs a non-streamed completion and returns the text
	Complete(ctx context.Context, req StreamRequest) (string, error)

	// Close releases idle connections and clients
	Close() error
}
