package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_ScanAndMerge(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"temperature":0.2,"top_p":1}`)))
	assert.Equal(t, 0.2, j["temperature"])

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	extra := JSONB{"temperature": 0.7, "seed": 42.0}
	dst := map[string]any{"temperature": 0.1}
	extra.MergeInto(dst)
	assert.Equal(t, 0.1, dst["temperature"])
	assert.Equal(t, 42.0, dst["seed"])

	assert.Error(t, j.Scan(12))
}

func TestImageAsset_Tiles(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{512, 512, 1, 1},
		{513, 512, 2, 1},
		{1024, 2048, 2, 4},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		a := ImageAsset{Width: tt.w, Height: tt.h}
		w, h := a.Tiles()
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}

func TestImageAsset_Expired(t *testing.T) {
	now := time.Now()
	a := ImageAsset{CreatedAt: now.Add(-49 * time.Hour)}
	assert.True(t, a.Expired(now, 48*time.Hour))
	assert.False(t, a.Expired(now, 0))

	a.CreatedAt = now.Add(-time.Hour)
	assert.False(t, a.Expired(now, 48*time.Hour))
}

func TestConversation_HasTitle(t *testing.T) {
	c := Conversation{}
	assert.False(t, c.HasTitle())
	empty := ""
	c.Title = &empty
	assert.False(t, c.HasTitle())
	title := "Untitled"
	c.Title = &title
	assert.True(t, c.HasTitle())
}

func TestReasoningEffortValid(t *testing.T) {
	assert.True(t, ReasoningEffortValid("medium"))
	assert.False(t, ReasoningEffortValid("max"))
}
