package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"llm_relay/internal/billing"
	"llm_relay/internal/logging"
	"llm_relay/internal/models"
	"llm_relay/internal/providers"
	"llm_relay/internal/storage"
)

type fakeModels map[string]*models.Model

func (f fakeModels) GetByAPIName(ctx context.Context, name string) (*models.Model, error) {
	m, ok := f[name]
	if !ok {
		return nil, storage.ErrModelNotFound
	}
	return m, nil
}

// fakeConversations mirrors the conditional append of ConversationRepository
type fakeConversations struct {
	mu            sync.Mutex
	convs         map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.Message
	failAssistant bool
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		convs:    make(map[uuid.UUID]*models.Conversation),
		messages: make(map[uuid.UUID][]models.Message),
	}
}

func (f *fakeConversations) add(accountID uuid.UUID, total int, title string) *models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := &models.Conversation{ID: uuid.New(), AccountID: accountID, TotalTokens: total}
	if title != "" {
		conv.Title = &title
	}
	f.convs[conv.ID] = conv
	return conv
}

func (f *fakeConversations) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, storage.ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (f *fakeConversations) Create(ctx context.Context, accountID uuid.UUID) (*models.Conversation, error) {
	conv := f.add(accountID, 0, "")
	cp := *conv
	return &cp, nil
}

func (f *fakeConversations) AppendMessage(ctx context.Context, msg *models.Message, limit int, modelID *uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAssistant && msg.Role == models.RoleAssistant {
		return 0, errors.New("disk full")
	}
	conv, ok := f.convs[msg.ConversationID]
	if !ok {
		return 0, storage.ErrConversationNotFound
	}
	if limit > 0 && conv.TotalTokens+msg.TokenCount > limit {
		return 0, storage.ErrContextLimitExceeded
	}
	conv.TotalTokens += msg.TokenCount
	if modelID != nil {
		id := *modelID
		conv.LastModelID = &id
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Seq = int64(len(f.messages[conv.ID]) + 1)
	f.messages[conv.ID] = append(f.messages[conv.ID], *msg)
	return conv.TotalTokens, nil
}

func (f *fakeConversations) SumTokensByRole(ctx context.Context, id uuid.UUID, role models.MessageRole) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, m := range f.messages[id] {
		if m.Role == role {
			sum += m.TokenCount
		}
	}
	return sum, nil
}

func (f *fakeConversations) SetTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return false, storage.ErrConversationNotFound
	}
	if conv.HasTitle() {
		return false, nil
	}
	conv.Title = &title
	return true, nil
}

func (f *fakeConversations) snapshot(id uuid.UUID) (models.Conversation, []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.convs[id], append([]models.Message(nil), f.messages[id]...)
}

// fakeCreditStore enforces the (turn, reason) uniqueness of the ledger table
type fakeCreditStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  map[string]int64
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{balances: make(map[uuid.UUID]int64), entries: make(map[string]int64)}
}

func (s *fakeCreditStore) GetBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	if !ok {
		return 0, storage.ErrAccountNotFound
	}
	return b, nil
}

func (s *fakeCreditStore) ApplyCreditDelta(ctx context.Context, accountID, turnID uuid.UUID, delta int64, reason models.LedgerReason) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := turnID.String() + "/" + string(reason)
	if _, dup := s.entries[key]; dup {
		return 0, storage.ErrDuplicateLedgerEntry
	}
	if s.balances[accountID]+delta < 0 {
		return 0, storage.ErrInsufficientCredit
	}
	s.entries[key] = delta
	s.balances[accountID] += delta
	return s.balances[accountID], nil
}

func (s *fakeCreditStore) balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

func (s *fakeCreditStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// staleLedger approves every authorization, so Debit is the first to see the balance
type staleLedger struct {
	*billing.Ledger
}

func (l staleLedger) Authorize(ctx context.Context, accountID uuid.UUID, cost int64) (bool, error) {
	return true, nil
}

type fakeAssembler struct {
	mu     sync.Mutex
	inline [][]uuid.UUID
}

func (a *fakeAssembler) Build(ctx context.Context, conv *models.Conversation, model *models.Model, inline []uuid.UUID) ([]providers.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inline = append(a.inline, inline)
	return []providers.Message{{Role: providers.RoleUser, Content: "context"}}, nil
}

// scriptedProvider replays deltas, then ends with err (io.EOF when nil)
type scriptedProvider struct {
	mu       sync.Mutex
	deltas   []string
	err      error
	openErr  error
	stall    bool    // block until ctx ends after the deltas
	onDrain  func()  // called once all deltas were read
	requests []providers.StreamRequest

	title    string
	titleErr error
	titles   int
}

func (p *scriptedProvider) Stream(ctx context.Context, req providers.StreamRequest) (providers.Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &scriptedStream{ctx: ctx, p: p}, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req providers.StreamRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles++
	return p.title, p.titleErr
}

func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) lastRequest() providers.StreamRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *scriptedProvider) titleCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.titles
}

type scriptedStream struct {
	ctx     context.Context
	p       *scriptedProvider
	next    int
	drained bool
}

func (s *scriptedStream) Next() (providers.Delta, error) {
	if s.next < len(s.p.deltas) {
		d := s.p.deltas[s.next]
		s.next++
		return providers.Delta{Content: d}, nil
	}
	if !s.drained {
		s.drained = true
		if s.p.onDrain != nil {
			s.p.onDrain()
		}
	}
	if s.p.stall {
		<-s.ctx.Done()
		return providers.Delta{}, s.ctx.Err()
	}
	if s.p.err != nil {
		return providers.Delta{}, s.p.err
	}
	return providers.Delta{}, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type singleResolver struct {
	p providers.Provider
}

func (r singleResolver) Resolve(model *models.Model) (providers.Provider, error) {
	return r.p, nil
}

// wordCounter counts whitespace-separated words
type wordCounter struct{}

func (wordCounter) Count(model, text string) int {
	return len(strings.Fields(text))
}

type fixedImageCost int

func (c fixedImageCost) Tokens(ctx context.Context, assetID string) (int, error) {
	return int(c), nil
}

type recordingUsage struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (u *recordingUsage) Enqueue(ctx context.Context, r *models.UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, r)
	return nil
}

func (u *recordingUsage) all() []*models.UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*models.UsageRecord(nil), u.records...)
}

type recordingSink struct {
	mu      sync.Mutex
	records []*logging.TurnRecord
}

func (s *recordingSink) Enqueue(rec *logging.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Shutdown(ctx context.Context) error { return nil }

func (s *recordingSink) all() []*logging.TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*logging.TurnRecord(nil), s.records...)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) bool { return false }
