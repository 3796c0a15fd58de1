package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"llm_relay/internal/models"
)

// ImageAssetRepository reads image metadata. Uploads are handled elsewhere.
type ImageAssetRepository struct {
	db *DB
}

// NewImageAssetRepository creates a new image asset repository
func NewImageAssetRepository(db *DB) *ImageAssetRepository {
	return &ImageAssetRepository{db: db}
}

// GetByAssetID retrieves image metadata by asset ID
func (r *ImageAssetRepository) GetByAssetID(ctx context.Context, assetID string) (*models.ImageAsset, error) {
	var asset models.ImageAsset
	err := r.db.conn.GetContext(ctx, &asset, `
		SELECT asset_id, account_id, width, height, created_at
		FROM image_assets
		WHERE asset_id = $1
	`, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrImageAssetNotFound
		}
		return nil, fmt.Errorf("failed to get image asset: %w", err)
	}
	return &asset, nil
}

// Create records metadata for an uploaded image. Re-uploading identical bytes is a no-op.
func (r *ImageAssetRepository) Create(ctx context.Context, asset *models.ImageAsset) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO image_assets (asset_id, account_id, width, height)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_id) DO NOTHING
	`, asset.AssetID, asset.AccountID, asset.Width, asset.Height)
	if err != nil {
		return fmt.Errorf("failed to create image asset: %w", err)
	}
	return nil
}
