package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/billing"
	"llm_relay/internal/locking"
	"llm_relay/internal/logging"
	"llm_relay/internal/models"
	"llm_relay/internal/providers"
	"llm_relay/internal/storage"
	"llm_relay/internal/tokens"
	"llm_relay/internal/utils"
)

// errClientGone marks a write that failed because the client went away
var errClientGone = errors.New("client disconnected")

// State is a step of the turn lifecycle
type State string

const (
	StateValidating  State = "validating"
	StateAuthorizing State = "authorizing"
	StateStreaming   State = "streaming"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
)

// Turn is one accepted request. It is owned by a single goroutine; only the
// keep-alive ticker writes to the event sink concurrently.
type Turn struct {
	svc     *Service
	id      uuid.UUID
	caller  Caller
	req     *Request
	model   *models.Model
	conv    *models.Conversation
	created bool
	lock    locking.Lock
	logger  *utils.Logger

	state   State
	debited int64
	warned  bool
	answer  strings.Builder

	promptTokens     int
	completionTokens int
	outcome          Outcome
	failure          error

	started        time.Time
	upstreamStart  time.Time
	upstreamFinish time.Time

	cancel        context.CancelFunc
	out           EventSink
	stopKeepAlive func()
	closeOnce     sync.Once
}

func newTurn(svc *Service, caller Caller, req *Request, model *models.Model, conv *models.Conversation, created bool, lock locking.Lock) *Turn {
	id := uuid.New()
	return &Turn{
		svc:     svc,
		id:      id,
		caller:  caller,
		req:     req,
		model:   model,
		conv:    conv,
		created: created,
		lock:    lock,
		logger:  svc.logger.With("turn_id", id, "conversation_id", conv.ID),
		state:   StateValidating,
		started: time.Now(),

		stopKeepAlive: func() {},
	}
}

// ID returns the turn identifier used for ledger entries and usage records
func (t *Turn) ID() uuid.UUID { return t.id }

// ConversationID returns the conversation the turn writes to
func (t *Turn) ConversationID() uuid.UUID { return t.conv.ID }

// Run drives the turn to a terminal outcome, writing frames to out. It
// returns once the turn is settled and torn down.
func (t *Turn) Run(ctx context.Context, out EventSink) Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.out = out
	defer t.Close()

	t.outcome = t.run(ctx, runCtx)
	return t.outcome
}

func (t *Turn) run(reqCtx, ctx context.Context) Outcome {
	if t.created {
		if err := t.out.Send(map[string]string{"conversationId": t.conv.ID.String()}); err != nil {
			return t.cancelled(fmt.Errorf("%w: %v", errClientGone, err))
		}
	}

	t.state = StateAuthorizing
	newImages, rerr := t.authorize(ctx)
	if rerr != nil {
		if clientGone(reqCtx, rerr) {
			return t.cancelled(rerr)
		}
		return t.reject(rerr)
	}
	// Only paid turns spend an upstream call on a title
	if !t.conv.HasTitle() {
		t.svc.startTitle(t.conv.ID, t.req.titleSource())
	}

	t.state = StateStreaming
	t.startKeepAlive(ctx)
	err := t.stream(ctx, newImages)
	t.stopKeepAlive()
	if err != nil {
		if clientGone(reqCtx, err) {
			return t.cancelled(err)
		}
		return t.refund(reqCtx, newError(KindUpstream, upstreamMessage(err), err))
	}

	t.state = StateFinalizing
	return t.finalize(reqCtx)
}

// authorize checks credit, appends each new item within the context budget
// and debits the turn. It returns the message ids of the images it added.
// Items appended before a failed debit stay committed.
func (t *Turn) authorize(ctx context.Context) ([]uuid.UUID, *Error) {
	cost := t.model.Cost
	ok, err := t.svc.deps.Ledger.Authorize(ctx, t.caller.AccountID, cost)
	if err != nil {
		return nil, newError(KindInternal, msgInternal, err)
	}
	if !ok {
		return nil, newError(KindInsufficientCredit, msgInsufficientCredit, nil)
	}

	var newImages []uuid.UUID
	total := t.conv.TotalTokens
	limit := t.model.ContextLimit
	for _, it := range t.req.Messages {
		msg, err := t.itemMessage(ctx, it)
		if err != nil {
			return nil, newError(KindInternal, msgInternal, err)
		}

		decision, _, _ := t.svc.policy.Evaluate(total, msg.TokenCount, limit)
		if decision == tokens.Reject {
			return nil, newError(KindBudgetExceeded, msgContextLimitExceeded, storage.ErrContextLimitExceeded)
		}

		newTotal, err := t.svc.deps.Conversations.AppendMessage(ctx, msg, limit, nil)
		if err != nil {
			if errors.Is(err, storage.ErrContextLimitExceeded) {
				return nil, newError(KindBudgetExceeded, msgContextLimitExceeded, err)
			}
			return nil, newError(KindInternal, msgInternal, err)
		}
		total = newTotal
		t.conv.TotalTokens = newTotal
		if msg.IsImage() {
			newImages = append(newImages, msg.ID)
		}

		if limit > 0 && !t.warned && total >= t.svc.policy.WarnThreshold(limit) {
			t.warned = true
			percent := total * 100 / limit
			warning := fmt.Sprintf("This conversation has used %d%% of the model's context window.", percent)
			if err := t.out.Send(map[string]any{"warning": warning, "percent": percent}); err != nil {
				return nil, newError(KindInternal, msgInternal, fmt.Errorf("%w: %v", errClientGone, err))
			}
		}
	}

	if err := t.svc.deps.Ledger.Debit(ctx, t.caller.AccountID, t.id, cost); err != nil {
		if errors.Is(err, billing.ErrInsufficientCredit) {
			return nil, newError(KindInsufficientCredit, msgInsufficientCredit, err)
		}
		return nil, newError(KindInternal, msgInternal, err)
	}
	t.debited = cost
	return newImages, nil
}

func (t *Turn) itemMessage(ctx context.Context, it Item) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: t.conv.ID,
		Role:           models.RoleUser,
		Type:           models.MessageText,
	}
	if it.isImage() {
		n, err := t.svc.deps.Images.Tokens(ctx, it.AssetID)
		if err != nil {
			return nil, err
		}
		assetID := it.AssetID
		msg.Type = models.MessageImage
		msg.AssetID = &assetID
		msg.TokenCount = n
		return msg, nil
	}
	msg.Content = it.Content
	msg.TokenCount = t.svc.deps.Counter.Count(t.model.APIName, it.Content)
	return msg, nil
}

// stream relays upstream deltas until the completion marker
func (t *Turn) stream(ctx context.Context, newImages []uuid.UUID) error {
	messages, err := t.svc.deps.Assembler.Build(ctx, t.conv, t.model, newImages)
	if err != nil {
		return fmt.Errorf("failed to assemble context: %w", err)
	}
	provider, err := t.svc.deps.Providers.Resolve(t.model)
	if err != nil {
		return err
	}

	req := providers.StreamRequest{
		Model:       t.model.APIName,
		Messages:    messages,
		ExtraParams: t.model.ExtraParams,
	}
	if t.model.IsInferenceModel && t.model.ReasoningEffort != nil && models.ReasoningEffortValid(*t.model.ReasoningEffort) {
		req.ReasoningEffort = *t.model.ReasoningEffort
	}

	t.upstreamStart = time.Now()
	defer func() { t.upstreamFinish = time.Now() }()

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		t.answer.WriteString(delta.Content)
		if err := t.out.Send(map[string]string{"content": delta.Content}); err != nil {
			t.cancel()
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
	}
}

// finalize persists the answer, sends [DONE] and queues the usage record.
// Writes run detached from the request so a client leaving after the last
// delta does not lose the answer.
func (t *Turn) finalize(reqCtx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), t.svc.config.PersistTimeout)
	defer cancel()

	text := t.answer.String()
	t.completionTokens = t.svc.deps.Counter.Count(t.model.APIName, text)
	msg := &models.Message{
		ConversationID: t.conv.ID,
		Role:           models.RoleAssistant,
		Type:           models.MessageText,
		Content:        text,
		TokenCount:     t.completionTokens,
	}
	modelID := t.model.ID
	if _, err := t.svc.deps.Conversations.AppendMessage(ctx, msg, 0, &modelID); err != nil {
		return t.refund(reqCtx, newError(KindInternal, msgInternal, err))
	}

	prompt, err := t.svc.deps.Conversations.SumTokensByRole(ctx, t.conv.ID, models.RoleUser)
	if err != nil {
		t.logger.Warn("Failed to sum prompt tokens", "error", err)
	}
	t.promptTokens = prompt

	if err := t.out.SendDone(); err != nil {
		t.logger.Debug("Client left before completion marker", "error", err)
	}

	record := &models.UsageRecord{
		ID:               uuid.New(),
		AccountID:        t.caller.AccountID,
		ModelID:          t.model.ID,
		ConversationID:   t.conv.ID,
		TurnID:           t.id,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		Cost:             t.debited,
		CreatedAt:        time.Now(),
	}
	if err := t.svc.deps.Usage.Enqueue(ctx, record); err != nil {
		t.logger.Error("Failed to enqueue usage record", "error", err)
	}
	return OutcomeCompleted
}

// refund returns the debited credit and reports the failure to the client
func (t *Turn) refund(reqCtx context.Context, rerr *Error) Outcome {
	t.failure = rerr
	t.logger.Warn("Turn failed", "state", t.state, "error", rerr)

	if t.debited > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), t.svc.config.PersistTimeout)
		defer cancel()
		if err := t.svc.deps.Ledger.Refund(ctx, t.caller.AccountID, t.id, t.debited); err != nil {
			t.logger.Error("Refund lost", "amount", t.debited, "error", err)
		}
	}
	_ = t.out.SendError(rerr.Message)
	return OutcomeRefunded
}

// reject ends a turn that failed before any credit moved
func (t *Turn) reject(rerr *Error) Outcome {
	t.failure = rerr
	t.logger.Info("Turn rejected", "kind", rerr.Kind, "error", rerr)
	_ = t.out.SendError(rerr.Message)
	return OutcomeRejected
}

// cancelled ends a turn abandoned by the client. The debit stands.
func (t *Turn) cancelled(err error) Outcome {
	t.failure = err
	t.logger.Info("Turn cancelled by client", "state", t.state)
	return OutcomeCancelled
}

func (t *Turn) startKeepAlive(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.stopKeepAlive = func() {
		cancel()
		<-done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.svc.config.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.out.KeepAlive(); err != nil {
					return
				}
			}
		}
	}()
}

// Close tears the turn down: it aborts the upstream call, stops the
// keep-alive, closes the event sink, releases the conversation lock and
// writes the audit record. Only the first call has an effect.
func (t *Turn) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.stopKeepAlive()
		if t.out != nil {
			t.out.Close()
		}
		t.state = StateDone

		ctx, cancel := context.WithTimeout(context.Background(), t.svc.config.PersistTimeout)
		defer cancel()
		if t.lock != nil {
			if err := t.lock.Release(ctx); err != nil {
				t.logger.Warn("Failed to release conversation lock", "error", err)
			}
		}

		if t.outcome == "" {
			t.outcome = OutcomeCancelled
		}
		if err := t.svc.deps.Sink.Enqueue(t.record()); err != nil {
			t.logger.Warn("Failed to write audit record", "error", err)
		}
	})
}

func (t *Turn) record() *logging.TurnRecord {
	rec := &logging.TurnRecord{
		Timestamp:        t.started.UTC(),
		TurnID:           t.id.String(),
		AccountID:        t.caller.AccountID.String(),
		ConversationID:   t.conv.ID.String(),
		Model:            t.model.APIName,
		Provider:         t.model.Provider,
		Outcome:          string(t.outcome),
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalMs:          time.Since(t.started).Milliseconds(),
	}
	if t.outcome == OutcomeCompleted || t.outcome == OutcomeCancelled {
		rec.Cost = t.debited
	}
	if !t.upstreamStart.IsZero() && !t.upstreamFinish.IsZero() {
		rec.UpstreamMs = t.upstreamFinish.Sub(t.upstreamStart).Milliseconds()
	}
	if t.failure != nil {
		rec.Error = t.failure.Error()
	}
	return rec
}

// clientGone reports whether the request was cancelled or a write to the
// client failed
func clientGone(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, errClientGone)
}

func upstreamMessage(err error) string {
	var status *providers.UpstreamStatusError
	if errors.As(err, &status) {
		return fmt.Sprintf("%s (status %d)", msgUpstreamFailed, status.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return msgUpstreamFailed + " (timeout)"
	}
	return msgUpstreamFailed
}
