package providers

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGeminiConversation(t *testing.T) {
	t.Run("maps roles and folds system messages", func(t *testing.T) {
		conv, err := toGeminiConversation([]Message{
			{Role: RoleSystem, Content: "global rules"},
			{Role: RoleSystem, Content: "model rules"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "look", Images: []Image{{MIMEType: "image/jpeg", Data: []byte{1, 2}}}},
		})
		require.NoError(t, err)

		assert.Equal(t, "global rules\n\nmodel rules", conv.system)
		require.Len(t, conv.history, 2)
		assert.Equal(t, "user", conv.history[0].Role)
		assert.Equal(t, "model", conv.history[1].Role)
		assert.Equal(t, []genai.Part{genai.Text("hello")}, conv.history[1].Parts)

		require.Len(t, conv.last, 2)
		assert.Equal(t, genai.Text("look"), conv.last[0])
		blob, ok := conv.last[1].(genai.Blob)
		require.True(t, ok)
		assert.Equal(t, "image/jpeg", blob.MIMEType)
		assert.Equal(t, []byte{1, 2}, blob.Data)
	})

	t.Run("must end with a user message", func(t *testing.T) {
		_, err := toGeminiConversation([]Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		})
		assert.Error(t, err)

		_, err = toGeminiConversation([]Message{{Role: RoleSystem, Content: "only rules"}})
		assert.Error(t, err)
	})
}

func TestGeminiText(t *testing.T) {
	assert.Equal(t, "", geminiText(nil))

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hel"), genai.Text("lo")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	assert.Equal(t, "Hello", geminiText(resp))
}
