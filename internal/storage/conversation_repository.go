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

// ConversationRepository owns conversations and their messages
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, account_id, title, total_tokens, last_model_id, created_at, updated_at`

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.conn.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Create inserts an empty, untitled conversation for accountID
func (r *ConversationRepository) Create(ctx context.Context, accountID uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{ID: uuid.New(), AccountID: accountID}
	err := r.db.conn.QueryRowxContext(ctx, `
		INSERT INTO conversations (id, account_id, total_tokens)
		VALUES ($1, $2, 0)
		RETURNING created_at, updated_at
	`, conv.ID, conv.AccountID).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage stores msg and adds its token count to the conversation total
// in one transaction, so no reader sees one without the other.
//
// When limit > 0 the increment is conditional on the new total staying within
// limit; otherwise ErrContextLimitExceeded is returned and nothing is written.
// When modelID is non-nil it is recorded as the conversation's last model.
// The new total is returned.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *models.Message, limit int, modelID *uuid.UUID) (int, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}

	var total int
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			UPDATE conversations
			SET total_tokens = total_tokens + $2,
			    last_model_id = COALESCE($4, last_model_id),
			    updated_at = NOW()
			WHERE id = $1 AND ($3 <= 0 OR total_tokens + $2 <= $3)
			RETURNING total_tokens
		`, msg.ConversationID, msg.TokenCount, limit, modelID).Scan(&total)
		if errors.Is(err, sql.ErrNoRows) {
			return r.classifyMissingConversation(ctx, tx, msg.ConversationID)
		}
		if err != nil {
			return fmt.Errorf("failed to update conversation total: %w", err)
		}

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, type, content, asset_id, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING seq, created_at
		`, msg.ID, msg.ConversationID, string(msg.Role), string(msg.Type), msg.Content, msg.AssetID, msg.TokenCount).
			Scan(&msg.Seq, &msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *ConversationRepository) classifyMissingConversation(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return ErrConversationNotFound
	}
	return ErrContextLimitExceeded
}

// ListMessages returns every message of a conversation in canonical order
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.conn.SelectContext(ctx, &msgs, `
		SELECT id, conversation_id, seq, role, type, content, asset_id, token_count, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// SumTokensByRole returns the token total of one role's messages
func (r *ConversationRepository) SumTokensByRole(ctx context.Context, conversationID uuid.UUID, role models.MessageRole) (int, error) {
	var sum int
	err := r.db.conn.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(token_count), 0)
		FROM messages
		WHERE conversation_id = $1 AND role = $2
	`, conversationID, string(role))
	if err != nil {
		return 0, fmt.Errorf("failed to sum tokens: %w", err)
	}
	return sum, nil
}

// SetTitleIfEmpty assigns a title unless one is already set. It reports
// whether the row was updated.
func (r *ConversationRepository) SetTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE conversations
		SET title = $2, updated_at = NOW()
		WHERE id = $1 AND (title IS NULL OR title = '')
	`, id, title)
	if err != nil {
		return false, fmt.Errorf("failed to set title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
