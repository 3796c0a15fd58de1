package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider streams completions through the Gemini API
type GeminiProvider struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiProvider creates a Gemini client authenticated with apiKey
func NewGeminiProvider(ctx context.Context, apiKey string, timeout time.Duration) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for Gemini provider")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if timeout <= 0 {
		timeout = openAIDefaultTimeout
	}
	return &GeminiProvider{client: client, timeout: timeout}, nil
}

// Stream opens a streamed completion. The last message is sent as the new
// turn; everything before it becomes chat history.
func (p *GeminiProvider) Stream(ctx context.Context, req StreamRequest) (Stream, error) {
	conv, err := toGeminiConversation(req.Messages)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	cs := p.model(req, conv.system).StartChat()
	cs.History = conv.history
	return &geminiStream{iter: cs.SendMessageStream(ctx, conv.last...), cancel: cancel}, nil
}

// Complete runs a non-streamed completion
func (p *GeminiProvider) Complete(ctx context.Context, req StreamRequest) (string, error) {
	conv, err := toGeminiConversation(req.Messages)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cs := p.model(req, conv.system).StartChat()
	cs.History = conv.history
	resp, err := cs.SendMessage(ctx, conv.last...)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	return geminiText(resp), nil
}

func (p *GeminiProvider) model(req StreamRequest, system string) *genai.GenerativeModel {
	model := p.client.GenerativeModel(req.Model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if t, ok := req.ExtraParams["temperature"].(float64); ok {
		model.SetTemperature(float32(t))
	}
	if t, ok := req.ExtraParams["top_p"].(float64); ok {
		model.SetTopP(float32(t))
	}
	return model
}

// Close closes the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

type geminiConversation struct {
	system  string
	history []*genai.Content
	last    []genai.Part
}

// toGeminiConversation folds system messages into one instruction and maps
// the assistant role onto Gemini's "model" role.
func toGeminiConversation(messages []Message) (geminiConversation, error) {
	var conv geminiConversation
	var system []string
	var turns []*genai.Content

	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		turns = append(turns, &genai.Content{Role: role, Parts: geminiParts(m)})
	}

	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return conv, fmt.Errorf("conversation must end with a user message")
	}
	conv.system = strings.Join(system, "\n\n")
	conv.history = turns[:len(turns)-1]
	conv.last = turns[len(turns)-1].Parts
	return conv, nil
}

func geminiParts(m Message) []genai.Part {
	parts := make([]genai.Part, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, genai.Text(m.Content))
	}
	for _, img := range m.Images {
		format := strings.TrimPrefix(img.MIMEType, "image/")
		parts = append(parts, genai.ImageData(format, img.Data))
	}
	return parts
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}

type geminiStream struct {
	iter   *genai.GenerateContentResponseIterator
	cancel context.CancelFunc
}

func (s *geminiStream) Next() (Delta, error) {
	for {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			return Delta{}, io.EOF
		}
		if err != nil {
			return Delta{}, fmt.Errorf("gemini stream failed: %w", err)
		}
		if text := geminiText(resp); text != "" {
			return Delta{Content: text}, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}
