package ollama

import (
	"context"
	"fmt"
	"time"

	"docqa/src/core/rag"
)

var (
	_ rag.Embedder  = (*Embedder)(nil)
	_ rag.Generator = (*Generator)(nil)
)

// Embedder embeds text with one Ollama embedding model.
type Embedder struct {
	client  *Client
	model   string
	timeout time.Duration
}

func NewEmbedder(client *Client, model string, timeout time.Duration) *Embedder {
	return &Embedder{client: client, model: model, timeout: timeout}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := e.client.GetEmbedding(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rag.ErrEmbedding, e.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty vector", rag.ErrEmbedding, e.model)
	}
	return vec, nil
}

// Generator completes prompts with one Ollama model.
type Generator struct {
	client  *Client
	model   string
	options map[string]interface{}
	timeout time.Duration
}

func NewGenerator(client *Client, model string, options map[string]interface{}, timeout time.Duration) *Generator {
	return &Generator{client: client, model: model, options: options, timeout: timeout}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	return g.client.Generate(ctx, g.model, "", prompt, g.options)
}
