// Package billing moves prepaid credit: authorization before a turn, the flat
// per-call debit, and the compensating refund when a turn fails upstream.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/models"
	"llm_relay/internal/storage"
	"llm_relay/internal/utils"
)

// ErrInsufficientCredit is returned when a debit would drive the balance negative
var ErrInsufficientCredit = storage.ErrInsufficientCredit

// Store persists balances and ledger entries. *storage.AccountRepository satisfies it.
type Store interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ApplyCreditDelta(ctx context.Context, accountID, turnID uuid.UUID, delta int64, reason models.LedgerReason) (int64, error)
}

// RefundEnqueuer defers a refund that could not be written immediately
type RefundEnqueuer interface {
	Enqueue(ctx context.Context, job *RefundJob) error
}

// Ledger is the only writer of account balances
type Ledger struct {
	store   Store
	refunds RefundEnqueuer
	logger  *utils.Logger
}

// NewLedger creates a ledger. refunds may be nil, in which case failed
// refunds are only reported to the caller.
func NewLedger(store Store, refunds RefundEnqueuer) *Ledger {
	return &Ledger{
		store:   store,
		refunds: refunds,
		logger:  utils.NewLogger("ledger"),
	}
}

// Authorize reports whether the account can currently afford cost. It does
// not reserve anything; Debit re-checks the balance atomically.
func (l *Ledger) Authorize(ctx context.Context, accountID uuid.UUID, cost int64) (bool, error) {
	balance, err := l.store.GetBalance(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance >= cost, nil
}

// Debit takes cost from the account for turnID. Debiting the same turn twice
// is a no-op.
func (l *Ledger) Debit(ctx context.Context, accountID, turnID uuid.UUID, cost int64) error {
	if cost <= 0 {
		return nil
	}
	_, err := l.store.ApplyCreditDelta(ctx, accountID, turnID, -cost, models.ReasonUsage)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrDuplicateLedgerEntry):
		l.logger.Warn("Turn already debited", "turn_id", turnID)
		return nil
	case errors.Is(err, storage.ErrInsufficientCredit):
		return ErrInsufficientCredit
	default:
		return fmt.Errorf("failed to debit: %w", err)
	}
}

// Refund credits cost back to the account for turnID, at most once per turn.
// When the database write fails the refund is handed to the refund queue and
// nil is returned; an error means the refund is neither written nor queued.
func (l *Ledger) Refund(ctx context.Context, accountID, turnID uuid.UUID, cost int64) error {
	if cost <= 0 {
		return nil
	}
	err := l.credit(ctx, accountID, turnID, cost)
	if err == nil {
		return nil
	}
	if l.refunds == nil {
		return err
	}

	l.logger.Warn("Refund failed, queueing for retry", "turn_id", turnID, "error", err)
	job := &RefundJob{AccountID: accountID, TurnID: turnID, Amount: cost, Timestamp: time.Now()}
	if qerr := l.refunds.Enqueue(context.WithoutCancel(ctx), job); qerr != nil {
		return fmt.Errorf("refund not applied (%v) and not queued: %w", err, qerr)
	}
	return nil
}

// credit applies one refund entry; an existing refund for the turn counts as success
func (l *Ledger) credit(ctx context.Context, accountID, turnID uuid.UUID, amount int64) error {
	_, err := l.store.ApplyCreditDelta(ctx, accountID, turnID, amount, models.ReasonRefund)
	if err == nil || errors.Is(err, storage.ErrDuplicateLedgerEntry) {
		return nil
	}
	return fmt.Errorf("failed to refund: %w", err)
}
