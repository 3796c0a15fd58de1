package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/images"
	"llm_relay/internal/models"
	"llm_relay/internal/providers"
)

type fakeHistory []models.Message

func (f fakeHistory) ListMessages(ctx context.Context, id uuid.UUID) ([]models.Message, error) {
	return f, nil
}

type fakeSystem struct {
	msg string
	err error
}

func (f fakeSystem) SystemMessage(ctx context.Context) (string, error) {
	return f.msg, f.err
}

type fakeImages map[string][]byte

func (f fakeImages) Load(ctx context.Context, id string) (providers.Image, error) {
	data, ok := f[id]
	if !ok {
		return providers.Image{}, images.ErrImageUnavailable
	}
	return providers.Image{MIMEType: images.MIMEType, Data: data}, nil
}

func strPtr(s string) *string { return &s }

func text(role models.MessageRole, content string) models.Message {
	return models.Message{Role: role, Type: models.MessageText, Content: content}
}

func image(id string) models.Message {
	return models.Message{ID: uuid.New(), Role: models.RoleUser, Type: models.MessageImage, AssetID: strPtr(id)}
}

func TestBuild_Directives(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New()}
	history := fakeHistory{text(models.RoleUser, "hi")}

	tests := []struct {
		name   string
		global string
		model  *string
		want   []providers.Message
	}{
		{
			name: "no directives",
			want: []providers.Message{{Role: "user", Content: "hi"}},
		},
		{
			name:   "global only",
			global: "be kind",
			want:   []providers.Message{{Role: "system", Content: "be kind"}, {Role: "user", Content: "hi"}},
		},
		{
			name:   "global then model",
			global: "be kind",
			model:  strPtr("answer in French"),
			want: []providers.Message{
				{Role: "system", Content: "be kind"},
				{Role: "system", Content: "answer in French"},
				{Role: "user", Content: "hi"},
			},
		},
		{
			name:  "empty model directive is skipped",
			model: strPtr(""),
			want:  []providers.Message{{Role: "user", Content: "hi"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(history, fakeSystem{msg: tt.global}, fakeImages{})
			got, err := a.Build(context.Background(), conv, &models.Model{SystemMessage: tt.model}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_Images(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New()}
	old, fresh, gone := image("old"), image("new"), image("gone")
	history := fakeHistory{
		old,
		text(models.RoleUser, "what is this?"),
		text(models.RoleAssistant, "a cat"),
		fresh,
		gone,
		text(models.RoleUser, "and this?"),
	}
	store := fakeImages{"old": []byte("o"), "new": []byte("n")}
	a := NewAssembler(history, fakeSystem{}, store)

	t.Run("images of the turn are inlined", func(t *testing.T) {
		got, err := a.Build(context.Background(), conv, &models.Model{}, []uuid.UUID{fresh.ID, gone.ID})
		require.NoError(t, err)
		require.Len(t, got, 6)
		assert.Equal(t, Placeholder("old"), got[0].Content)
		assert.Empty(t, got[0].Images)
		assert.Equal(t, "assistant", got[2].Role)
		assert.Equal(t, []providers.Image{{MIMEType: images.MIMEType, Data: []byte("n")}}, got[3].Images)
		assert.Equal(t, UnavailableImage, got[4].Content)
		assert.Equal(t, "and this?", got[5].Content)
	})

	t.Run("without new images every image is a placeholder", func(t *testing.T) {
		got, err := a.Build(context.Background(), conv, &models.Model{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "[image: old]", got[0].Content)
		assert.Equal(t, "[image: new]", got[3].Content)
		assert.Equal(t, "[image: gone]", got[4].Content)
		for _, m := range got {
			assert.Empty(t, m.Images)
		}
	})
}

func TestBuild_ImagesOfUnansweredTurnStayPlaceholders(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New()}
	// The turn that added A failed upstream, so no assistant reply follows it
	earlier, current := image("A"), image("B")
	history := fakeHistory{
		text(models.RoleUser, "first"),
		text(models.RoleAssistant, "reply"),
		earlier,
		text(models.RoleUser, "what is this"),
		current,
		text(models.RoleUser, "and this"),
	}
	a := NewAssembler(history, fakeSystem{}, fakeImages{"A": []byte("a"), "B": []byte("b")})

	got, err := a.Build(context.Background(), conv, &models.Model{}, []uuid.UUID{current.ID})
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, Placeholder("A"), got[2].Content)
	assert.Empty(t, got[2].Images)
	assert.Equal(t, []providers.Image{{MIMEType: images.MIMEType, Data: []byte("b")}}, got[4].Images)

	inlined := 0
	for _, m := range got {
		inlined += len(m.Images)
	}
	assert.Equal(t, 1, inlined)
}

func TestBuild_Errors(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New()}
	a := NewAssembler(fakeHistory{}, fakeSystem{err: errors.New("db down")}, fakeImages{})
	_, err := a.Build(context.Background(), conv, &models.Model{}, nil)
	assert.ErrorContains(t, err, "db down")
}
