package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultTimeout = 5 * time.Minute
	maxErrorBody         = 4 << 10
)

// OpenAIConfig configures an OpenAI-compatible provider
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Timeout bounds one call from request to the end of the stream
	Timeout time.Duration
	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client
}

// OpenAIProvider streams chat completions from any OpenAI-compatible API
type OpenAIProvider struct {
	auth    *APIKeyAuth
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for OpenAI provider")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openAIDefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		// No client-level timeout: streams are bounded by the request context.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &OpenAIProvider{
		auth:    NewAPIKeyAuth(cfg.APIKey, "Authorization", "Bearer "),
		client:  client,
		baseURL: baseURL,
		timeout: timeout,
	}, nil
}

// Stream opens a streamed chat completion
func (p *OpenAIProvider) Stream(ctx context.Context, req StreamRequest) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	resp, err := p.post(ctx, buildOpenAIPayload(req, true))
	if err != nil {
		cancel()
		return nil, err
	}
	return &openAIStream{decoder: NewSSEDecoder(resp.Body), body: resp.Body, cancel: cancel}, nil
}

// Complete runs a non-streamed chat completion
func (p *OpenAIProvider) Complete(ctx context.Context, req StreamRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.post(ctx, buildOpenAIPayload(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices")
	}
	return body.Choices[0].Message.Content, nil
}

// post sends payload to /chat/completions. On success the caller owns the body.
func (p *OpenAIProvider) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.auth.Apply(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// buildOpenAIPayload renders req in the chat completions format
func buildOpenAIPayload(req StreamRequest, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    m.Role,
			"content": openAIContent(m),
		})
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   stream,
	}
	if req.ReasoningEffort != "" {
		payload["reasoning_effort"] = req.ReasoningEffort
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	for k, v := range req.ExtraParams {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	return payload
}

// openAIContent is a plain string for text-only messages and a part list otherwise
func openAIContent(m Message) any {
	if len(m.Images) == 0 {
		return m.Content
	}
	parts := make([]map[string]any, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, map[string]any{"type": "text", "text": m.Content})
	}
	for _, img := range m.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": img.DataURL()},
		})
	}
	return parts
}

type openAIStream struct {
	decoder *SSEDecoder
	body    io.ReadCloser
	cancel  context.CancelFunc
}

func (s *openAIStream) Next() (Delta, error) {
	for {
		payload, err := s.decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrStreamTruncated) {
				return Delta{}, err
			}
			return Delta{}, fmt.Errorf("failed to read stream: %w", err)
		}
		delta, err := decodeDelta(payload)
		if err != nil {
			return Delta{}, err
		}
		if delta.Content == "" {
			// role-only and finish_reason frames carry no text
			continue
		}
		return delta, nil
	}
}

func (s *openAIStream) Close() error {
	s.cancel()
	return s.body.Close()
}

// APIKeyAuth puts a static API key into a request header
type APIKeyAuth struct {
	apiKey     string
	headerName string
	prefix     string
}

// NewAPIKeyAuth creates a header authenticator. Empty header and prefix
// default to "Authorization" and "Bearer ".
func NewAPIKeyAuth(apiKey, headerName, prefix string) *APIKeyAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	if prefix == "" {
		prefix = "Bearer "
	}
	return &APIKeyAuth{apiKey: apiKey, headerName: headerName, prefix: prefix}
}

// Apply sets the auth header on req
func (a *APIKeyAuth) Apply(req *http.Request) {
	req.Header.Set(a.headerName, a.prefix+a.apiKey)
}
