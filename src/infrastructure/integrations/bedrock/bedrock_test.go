package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"docqa/src/core/rag"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeModel struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, part := range messages[0].Parts {
		if text, ok := part.(llms.TextContent); ok {
			f.prompt = text.Text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestEmbedder(t *testing.T) {
	tests := []struct {
		name    string
		fake    fakeEmbedder
		wantErr bool
	}{
		{"ok", fakeEmbedder{vec: []float32{1, 2}}, false},
		{"empty", fakeEmbedder{}, true},
		{"failure", fakeEmbedder{err: errors.New("throttled")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Embedder{embedder: tt.fake, model: DefaultEmbeddingModel}
			vec, err := e.Embed(context.Background(), "text")
			if tt.wantErr {
				assert.ErrorIs(t, err, rag.ErrEmbedding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fake.vec, vec)
		})
	}
}

func TestGenerator(t *testing.T) {
	model := &fakeModel{reply: "an answer"}
	g := &Generator{model: model, maxTokens: 256}

	out, err := g.Generate(context.Background(), "a prompt")
	require.NoError(t, err)
	assert.Equal(t, "an answer", out)
	assert.Equal(t, "a prompt", model.prompt)

	model.err = errors.New("denied")
	_, err = g.Generate(context.Background(), "a prompt")
	assert.Error(t, err)
}
