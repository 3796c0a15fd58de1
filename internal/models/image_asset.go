package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageTileSize is the edge length, in pixels, of one vision tile.
const ImageTileSize = 512

// ImageAsset describes an uploaded image. AssetID is the SHA-256 of the stored bytes.
type ImageAsset struct {
	AssetID   string    `db:"asset_id" json:"asset_id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Width     int       `db:"width" json:"width"`
	Height    int       `db:"height" json:"height"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Tiles returns the 512px tile counts of the image. Unknown dimensions count as zero tiles.
func (a *ImageAsset) Tiles() (w, h int) {
	return ceilDiv(a.Width, ImageTileSize), ceilDiv(a.Height, ImageTileSize)
}

// Expired reports whether the asset is older than ttl at now. A zero ttl never expires.
func (a *ImageAsset) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(a.CreatedAt) > ttl
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
