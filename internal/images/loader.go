package images

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llm_relay/internal/models"
	"llm_relay/internal/providers"
	"llm_relay/internal/storage"
	"llm_relay/internal/tokens"
)

// AssetLookup returns image metadata
type AssetLookup interface {
	GetByAssetID(ctx context.Context, assetID string) (*models.ImageAsset, error)
}

// Loader joins asset metadata with stored bytes and enforces the asset TTL
type Loader struct {
	assets AssetLookup
	store  Store
	ttl    time.Duration
	now    func() time.Time
}

// NewLoader creates a loader. A zero ttl disables expiry.
func NewLoader(assets AssetLookup, store Store, ttl time.Duration) *Loader {
	return &Loader{assets: assets, store: store, ttl: ttl, now: time.Now}
}

// Load returns the image for assetID, or ErrImageUnavailable when the asset
// is unknown, expired or its bytes are gone.
func (l *Loader) Load(ctx context.Context, assetID string) (providers.Image, error) {
	asset, err := l.asset(ctx, assetID)
	if err != nil {
		return providers.Image{}, err
	}
	if asset.Expired(l.now(), l.ttl) {
		return providers.Image{}, ErrImageUnavailable
	}

	data, err := l.store.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) || errors.Is(err, ErrInvalidAssetID) {
			return providers.Image{}, ErrImageUnavailable
		}
		return providers.Image{}, err
	}
	return providers.Image{MIMEType: MIMEType, Data: data}, nil
}

// Tokens returns the context cost of assetID from its stored dimensions.
// Unknown assets are charged the minimum.
func (l *Loader) Tokens(ctx context.Context, assetID string) (int, error) {
	asset, err := l.asset(ctx, assetID)
	if errors.Is(err, ErrImageUnavailable) {
		return tokens.ImageTokens(0, 0), nil
	}
	if err != nil {
		return 0, err
	}
	w, h := asset.Tiles()
	return tokens.ImageTokens(w, h), nil
}

func (l *Loader) asset(ctx context.Context, assetID string) (*models.ImageAsset, error) {
	asset, err := l.assets.GetByAssetID(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrImageAssetNotFound) {
			return nil, ErrImageUnavailable
		}
		return nil, fmt.Errorf("failed to look up image asset: %w", err)
	}
	return asset, nil
}
