// Package tokens counts prompt tokens and applies the per-conversation
// context budget.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used for models tiktoken does not know
const DefaultEncoding = "cl100k_base"

func init() {
	// BPE ranks ship inside the binary; nothing is fetched at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter tokenizes text with a per-model encoder, cached after first use.
// It is safe for concurrent use.
type Counter struct {
	fallback string

	mu       sync.RWMutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewCounter creates a counter that falls back to fallbackEncoding (or
// DefaultEncoding when empty) for unknown model names.
func NewCounter(fallbackEncoding string) (*Counter, error) {
	if fallbackEncoding == "" {
		fallbackEncoding = DefaultEncoding
	}
	if _, err := tiktoken.GetEncoding(fallbackEncoding); err != nil {
		return nil, fmt.Errorf("unknown fallback encoding %q: %w", fallbackEncoding, err)
	}
	return &Counter{
		fallback: fallbackEncoding,
		encoders: make(map[string]*tiktoken.Tiktoken),
	}, nil
}

// Count returns the number of tokens text encodes to under model's encoding
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoder(model).Encode(text, nil, nil))
}

func (c *Counter) encoder(model string) *tiktoken.Tiktoken {
	c.mu.RLock()
	enc, ok := c.encoders[model]
	c.mu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// validated in NewCounter
		enc, _ = tiktoken.GetEncoding(c.fallback)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.encoders[model]; ok {
		return existing
	}
	c.encoders[model] = enc
	return enc
}

// ImageTokens is the vision cost of an image spanning w x h tiles of 512px.
// Non-positive tile counts are treated as 1.
func ImageTokens(w, h int) int {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return max(255, 85+170*w*h)
}
