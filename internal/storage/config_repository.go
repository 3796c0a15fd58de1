package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GlobalConfigRepository reads and writes the singleton global_config row
type GlobalConfigRepository struct {
	db *DB
}

// NewGlobalConfigRepository creates a new global config repository
func NewGlobalConfigRepository(db *DB) *GlobalConfigRepository {
	return &GlobalConfigRepository{db: db}
}

// SystemMessage returns the global system directive, or "" when none is set
func (r *GlobalConfigRepository) SystemMessage(ctx context.Context) (string, error) {
	var msg sql.NullString
	err := r.db.conn.GetContext(ctx, &msg, `SELECT system_message FROM global_config WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get global config: %w", err)
	}
	return msg.String, nil
}

// SetSystemMessage replaces the global system directive. An empty message clears it.
func (r *GlobalConfigRepository) SetSystemMessage(ctx context.Context, message string) error {
	var value sql.NullString
	if message != "" {
		value = sql.NullString{String: message, Valid: true}
	}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO global_config (id, system_message) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET system_message = EXCLUDED.system_message
	`, value)
	if err != nil {
		return fmt.Errorf("failed to set global config: %w", err)
	}
	return nil
}
