package relay

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"llm_relay/internal/providers"
)

const (
	// UntitledTitle is stored when no title could be generated
	UntitledTitle = "Untitled"

	titleInstruction = "Generate a short title for this conversation. Do not answer it directly, just generate the title."
	titleMaxTokens   = 10
	titleMaxRunes    = 100
)

// startTitle names the conversation in the background. It never blocks the
// turn; failures fall back to UntitledTitle.
func (s *Service) startTitle(conversationID uuid.UUID, source string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()

		title := s.generateTitle(source)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.PersistTimeout)
		defer cancel()
		if _, err := s.deps.Conversations.SetTitleIfEmpty(ctx, conversationID, title); err != nil {
			s.logger.Warn("Failed to store title", "conversation_id", conversationID, "error", err)
		}
	}()
}

func (s *Service) generateTitle(source string) string {
	if s.deps.TitleProvider == nil || strings.TrimSpace(source) == "" {
		return UntitledTitle
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.TitleTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.deps.TitleProvider.Complete(ctx, providers.StreamRequest{
		Model: s.config.TitleModel,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: titleInstruction},
			{Role: providers.RoleUser, Content: source},
		},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		s.logger.Warn("Title generation failed", "error", err, "elapsed", time.Since(start))
		return UntitledTitle
	}

	title := cleanTitle(text)
	if title == "" {
		return UntitledTitle
	}
	return title
}

// cleanTitle trims whitespace and wrapping quotes and caps the length
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > titleMaxRunes {
		s = string([]rune(s)[:titleMaxRunes])
	}
	return s
}
