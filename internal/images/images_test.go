package images

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/models"
	"llm_relay/internal/storage"
	"llm_relay/internal/utils"
)

func assetID(data []byte) string {
	return utils.HashBytes(data)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	data := []byte("jpeg bytes")
	id := assetID(data)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".jpg"), data, 0o644))

	store := NewFileStore(dir)
	ctx := context.Background()

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Get(ctx, assetID([]byte("other")))
	assert.ErrorIs(t, err, ErrImageNotFound)

	_, err = store.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidAssetID)
}

type fakeS3 struct {
	objects map[string][]byte
	err     error
	lastKey string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(params.Key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	data := []byte("jpeg bytes")
	id := assetID(data)
	client := &fakeS3{objects: map[string][]byte{"images/" + id + ".jpg": data}}
	store := NewS3StoreWithClient(client, "bucket", "images/")
	ctx := context.Background()

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Get(ctx, assetID([]byte("missing")))
	assert.ErrorIs(t, err, ErrImageNotFound)

	client.err = errors.New("access denied")
	_, err = store.Get(ctx, id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageNotFound)
}

type fakeAssets map[string]*models.ImageAsset

func (f fakeAssets) GetByAssetID(ctx context.Context, id string) (*models.ImageAsset, error) {
	a, ok := f[id]
	if !ok {
		return nil, storage.ErrImageAssetNotFound
	}
	return a, nil
}

type memStore map[string][]byte

func (m memStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, ErrImageNotFound
	}
	return data, nil
}

func TestLoader(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := assetID([]byte("fresh"))
	old := assetID([]byte("old"))
	noBytes := assetID([]byte("no bytes"))
	unknown := assetID([]byte("unknown"))

	assets := fakeAssets{
		fresh:   {AssetID: fresh, Width: 1024, Height: 1024, CreatedAt: now.Add(-time.Hour)},
		old:     {AssetID: old, Width: 100, Height: 100, CreatedAt: now.Add(-49 * time.Hour)},
		noBytes: {AssetID: noBytes, CreatedAt: now},
	}
	store := memStore{fresh: []byte("f"), old: []byte("o")}

	l := NewLoader(assets, store, 48*time.Hour)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	img, err := l.Load(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, MIMEType, img.MIMEType)
	assert.Equal(t, []byte("f"), img.Data)

	for _, id := range []string{old, noBytes, unknown} {
		_, err := l.Load(ctx, id)
		assert.ErrorIs(t, err, ErrImageUnavailable)
	}

	n, err := l.Tokens(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 85+170*2*2, n)

	n, err = l.Tokens(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, 255, n)

	n, err = l.Tokens(ctx, unknown)
	require.NoError(t, err)
	assert.Equal(t, 255, n)
}
