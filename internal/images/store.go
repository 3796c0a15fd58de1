// Package images reads stored image bytes for prompt assembly. Uploading and
// resizing happen elsewhere; assets are stored as JPEG under their SHA-256.
package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// MIMEType of every stored asset
const MIMEType = "image/jpeg"

var (
	// ErrImageNotFound is returned when no bytes are stored for an asset
	ErrImageNotFound = errors.New("image not found")

	// ErrImageUnavailable is returned when an image is missing or expired
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrInvalidAssetID is returned for ids that are not a hex SHA-256
	ErrInvalidAssetID = errors.New("invalid asset id")
)

var assetIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidAssetID reports whether id looks like a stored asset id
func ValidAssetID(id string) bool {
	return assetIDPattern.MatchString(id)
}

// Store returns the bytes of a stored image
type Store interface {
	Get(ctx context.Context, assetID string) ([]byte, error)
}

// FileStore reads images from <dir>/<assetId>.jpg
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Get reads the image file for assetID
func (s *FileStore) Get(ctx context.Context, assetID string) ([]byte, error) {
	if !ValidAssetID(assetID) {
		return nil, ErrInvalidAssetID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, assetID+".jpg"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
