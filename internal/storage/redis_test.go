package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()

	rc, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer rc.Close()

	assert.NoError(t, rc.Health(context.Background()))
	assert.NotNil(t, rc.Client())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Address = addr
	cfg.MaxRetries = -1

	_, err := NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
}
