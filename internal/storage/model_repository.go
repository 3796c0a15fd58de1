package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"llm_relay/internal/models"
)

// ModelRepository handles model database operations with caching
type ModelRepository struct {
	db    *DB
	cache *LRUCache[*models.Model]
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{
		db:    db,
		cache: db.modelCache,
	}
}

const modelColumns = `
	id, api_name, name, provider, is_enabled, cost, is_inference_model,
	reasoning_effort, system_message, context_limit, display_order, extra_params,
	created_at, updated_at`

// GetByAPIName retrieves a model by its upstream identifier (with caching).
// Disabled models are returned too; callers decide what to do with them.
func (r *ModelRepository) GetByAPIName(ctx context.Context, apiName string) (*models.Model, error) {
	if cached, found := r.cache.Get(apiName); found {
		return cached, nil
	}

	var model models.Model
	err := r.db.conn.GetContext(ctx, &model, `SELECT `+modelColumns+` FROM models WHERE api_name = $1`, apiName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	r.cache.Set(apiName, &model)
	return &model, nil
}

// GetByID retrieves a model by ID
func (r *ModelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	var model models.Model
	err := r.db.conn.GetContext(ctx, &model, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &model, nil
}

// ListEnabled returns the enabled models in display order
func (r *ModelRepository) ListEnabled(ctx context.Context) ([]*models.Model, error) {
	var list []*models.Model
	err := r.db.conn.SelectContext(ctx, &list, `
		SELECT `+modelColumns+`
		FROM models
		WHERE is_enabled = TRUE
		ORDER BY display_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return list, nil
}

// Upsert creates the model or updates the row with the same api_name
func (r *ModelRepository) Upsert(ctx context.Context, model *models.Model) error {
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if model.Provider == "" {
		model.Provider = models.ProviderOpenAI
	}
	query := `
		INSERT INTO models (
			id, api_name, name, provider, is_enabled, cost, is_inference_model,
			reasoning_effort, system_message, context_limit, display_order, extra_params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (api_name) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			is_enabled = EXCLUDED.is_enabled,
			cost = EXCLUDED.cost,
			is_inference_model = EXCLUDED.is_inference_model,
			reasoning_effort = EXCLUDED.reasoning_effort,
			system_message = EXCLUDED.system_message,
			context_limit = EXCLUDED.context_limit,
			display_order = EXCLUDED.display_order,
			extra_params = EXCLUDED.extra_params,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.conn.QueryRowxContext(ctx, query,
		model.ID, model.APIName, model.Name, model.Provider, model.IsEnabled, model.Cost,
		model.IsInferenceModel, model.ReasoningEffort, model.SystemMessage, model.ContextLimit,
		model.DisplayOrder, model.ExtraParams,
	).Scan(&model.ID, &model.CreatedAt, &model.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}

	r.InvalidateCache(model.APIName)
	return nil
}

// InvalidateCache removes a model from the cache
func (r *ModelRepository) InvalidateCache(apiName string) {
	r.cache.Delete(apiName)
}
