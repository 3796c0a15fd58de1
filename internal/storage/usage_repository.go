package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_relay/internal/models"
)

// UsageRepository handles usage_logs writes
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const insertUsageQuery = `
	INSERT INTO usage_logs (
		id, account_id, model_id, conversation_id, turn_id,
		prompt_tokens, completion_tokens, cost
	) VALUES (
		:id, :account_id, :model_id, :conversation_id, :turn_id,
		:prompt_tokens, :completion_tokens, :cost
	)
	ON CONFLICT (turn_id) DO NOTHING
`

// Create inserts one usage record. A second record for the same turn is ignored.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, err := r.db.conn.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			if record.ID == uuid.Nil {
				record.ID = uuid.New()
			}
			if _, err := tx.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
				return fmt.Errorf("failed to insert usage record: %w", err)
			}
		}
		return nil
	})
}

// GetByTurnID returns the usage record of a turn
func (r *UsageRepository) GetByTurnID(ctx context.Context, turnID uuid.UUID) (*models.UsageRecord, error) {
	var record models.UsageRecord
	err := r.db.conn.GetContext(ctx, &record, `
		SELECT id, account_id, model_id, conversation_id, turn_id,
		       prompt_tokens, completion_tokens, cost, created_at
		FROM usage_logs
		WHERE turn_id = $1
	`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &record, nil
}
