// Package relay runs metered chat turns: it validates and authorizes a turn,
// streams the upstream completion to the client and settles credit, context
// budget and usage exactly once.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/locking"
	"llm_relay/internal/logging"
	"llm_relay/internal/models"
	"llm_relay/internal/providers"
	"llm_relay/internal/ratelimit"
	"llm_relay/internal/storage"
	"llm_relay/internal/tokens"
	"llm_relay/internal/utils"
)

// ModelStore resolves models by upstream name
type ModelStore interface {
	GetByAPIName(ctx context.Context, apiName string) (*models.Model, error)
}

// ConversationStore persists conversations and messages
type ConversationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Create(ctx context.Context, accountID uuid.UUID) (*models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message, limit int, modelID *uuid.UUID) (int, error)
	SumTokensByRole(ctx context.Context, conversationID uuid.UUID, role models.MessageRole) (int, error)
	SetTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) (bool, error)
}

// Ledger moves credit
type Ledger interface {
	Authorize(ctx context.Context, accountID uuid.UUID, cost int64) (bool, error)
	Debit(ctx context.Context, accountID, turnID uuid.UUID, cost int64) error
	Refund(ctx context.Context, accountID, turnID uuid.UUID, cost int64) error
}

// Assembler builds the upstream message list. Images whose message id is in
// inline are sent as data.
type Assembler interface {
	Build(ctx context.Context, conv *models.Conversation, model *models.Model, inline []uuid.UUID) ([]providers.Message, error)
}

// ProviderResolver picks the upstream client for a model
type ProviderResolver interface {
	Resolve(model *models.Model) (providers.Provider, error)
}

// TokenCounter tokenizes text for a model
type TokenCounter interface {
	Count(model, text string) int
}

// ImageCoster returns the context cost of an image asset
type ImageCoster interface {
	Tokens(ctx context.Context, assetID string) (int, error)
}

// UsageRecorder queues usage records for persistence
type UsageRecorder interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Deps are the collaborators of a Service. Locker, Limiter, Sink and
// TitleProvider are optional.
type Deps struct {
	Models        ModelStore
	Conversations ConversationStore
	Ledger        Ledger
	Assembler     Assembler
	Providers     ProviderResolver
	Counter       TokenCounter
	Images        ImageCoster
	Usage         UsageRecorder
	Locker        locking.Locker
	Limiter       ratelimit.Limiter
	Sink          logging.Sink
	TitleProvider providers.Provider
}

// Config holds turn-level settings
type Config struct {
	KeepAliveInterval time.Duration
	WarnRatio         float64
	TitleModel        string
	TitleTimeout      time.Duration
	// PersistTimeout bounds the writes made after the client is gone
	PersistTimeout time.Duration
}

// DefaultConfig returns the default turn settings
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: 15 * time.Second,
		WarnRatio:         tokens.DefaultWarnRatio,
		TitleModel:        "gpt-4.1-nano",
		TitleTimeout:      15 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
}

// Service starts turns. It holds no per-turn state.
type Service struct {
	deps   Deps
	config Config
	policy tokens.Policy
	logger *utils.Logger

	titles sync.WaitGroup
}

// NewService creates a relay service
func NewService(deps Deps, config Config) *Service {
	defaults := DefaultConfig()
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if config.TitleModel == "" {
		config.TitleModel = defaults.TitleModel
	}
	if config.TitleTimeout <= 0 {
		config.TitleTimeout = defaults.TitleTimeout
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	if deps.Locker == nil {
		deps.Locker = locking.NoopLocker{}
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewNoopLimiter()
	}
	if deps.Sink == nil {
		deps.Sink = logging.NewNoopSink()
	}
	return &Service{
		deps:   deps,
		config: config,
		policy: tokens.NewPolicy(config.WarnRatio),
		logger: utils.NewLogger("relay"),
	}
}

// Begin validates req for caller and reserves the conversation. Failures are
// returned as *Error and must be reported synchronously. On success the
// returned Turn owns the conversation lock until Run or Close returns.
func (s *Service) Begin(ctx context.Context, caller Caller, req *Request) (*Turn, error) {
	if !s.deps.Limiter.Allow(ctx, caller.AccountID.String()) {
		return nil, newError(KindRateLimited, "rate limit exceeded", nil)
	}
	if verr := req.validate(); verr != nil {
		return nil, verr
	}

	model, err := s.deps.Models.GetByAPIName(ctx, req.Model)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return nil, newError(KindValidation, "unknown model "+req.Model, err)
		}
		return nil, newError(KindInternal, msgInternal, err)
	}
	if !model.IsEnabled {
		return nil, newError(KindAuthorization, "model is disabled", nil)
	}

	conv, created, verr := s.resolveConversation(ctx, caller, req.ConversationID)
	if verr != nil {
		return nil, verr
	}

	lock, err := s.deps.Locker.Acquire(ctx, "conversation:"+conv.ID.String())
	if err != nil {
		if errors.Is(err, locking.ErrLocked) {
			return nil, newError(KindConflict, "another turn is in progress for this conversation", err)
		}
		return nil, newError(KindInternal, msgInternal, err)
	}

	return newTurn(s, caller, req, model, conv, created, lock), nil
}

func (s *Service) resolveConversation(ctx context.Context, caller Caller, id *uuid.UUID) (*models.Conversation, bool, *Error) {
	if id == nil {
		conv, err := s.deps.Conversations.Create(ctx, caller.AccountID)
		if err != nil {
			return nil, false, newError(KindInternal, msgInternal, err)
		}
		return conv, true, nil
	}

	conv, err := s.deps.Conversations.GetByID(ctx, *id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, false, newError(KindNotFound, "conversation not found", err)
		}
		return nil, false, newError(KindInternal, msgInternal, err)
	}
	if conv.AccountID != caller.AccountID && !caller.IsAdmin() {
		return nil, false, newError(KindAuthorization, "conversation belongs to another account", nil)
	}
	return conv, false, nil
}

// Wait blocks until background title generation has finished or ctx ends
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.titles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
