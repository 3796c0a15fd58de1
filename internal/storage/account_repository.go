package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_relay/internal/models"
)

// AccountRepository owns accounts and the credit ledger. The cached balance on
// accounts and the ledger rows are always written in the same transaction.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, role, current_credit, created_at, updated_at`

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.conn.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByEmail retrieves an account by email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.conn.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// Create inserts an account with a zero balance. Initial credit must go
// through ApplyCreditDelta so the ledger stays complete.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, email, role, current_credit)
		VALUES ($1, $2, $3, 0)
		RETURNING current_credit, created_at, updated_at
	`
	err := r.db.conn.QueryRowxContext(ctx, query, account.ID, account.Email, account.Role).
		Scan(&account.CurrentCredit, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetBalance returns the cached balance of an account
func (r *AccountRepository) GetBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.conn.GetContext(ctx, &balance, `SELECT current_credit FROM accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// ApplyCreditDelta appends one ledger entry for (turnID, reason) and moves the
// cached balance by delta in a single transaction. It returns the new balance.
//
// Errors:
//   - ErrDuplicateLedgerEntry when the turn already has an entry with this reason
//   - ErrInsufficientCredit when the balance would drop below zero
//   - ErrAccountNotFound when the account does not exist
func (r *AccountRepository) ApplyCreditDelta(ctx context.Context, accountID, turnID uuid.UUID, delta int64, reason models.LedgerReason) (int64, error) {
	var balance int64
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var entryID uuid.UUID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO credit_ledger (id, account_id, turn_id, delta, reason)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (turn_id, reason) DO NOTHING
			RETURNING id
		`, uuid.New(), accountID, turnID, delta, string(reason)).Scan(&entryID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateLedgerEntry
		}
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}

		err = tx.QueryRowxContext(ctx, `
			UPDATE accounts
			SET current_credit = current_credit + $2, updated_at = NOW()
			WHERE id = $1 AND current_credit + $2 >= 0
			RETURNING current_credit
		`, accountID, delta).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return r.classifyMissingUpdate(ctx, tx, accountID)
		}
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *AccountRepository) classifyMissingUpdate(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID); err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientCredit
}

// ListLedgerByTurn returns the ledger entries recorded for one turn
func (r *AccountRepository) ListLedgerByTurn(ctx context.Context, turnID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.conn.SelectContext(ctx, &entries, `
		SELECT id, account_id, turn_id, delta, reason, created_at
		FROM credit_ledger
		WHERE turn_id = $1
		ORDER BY created_at
	`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
