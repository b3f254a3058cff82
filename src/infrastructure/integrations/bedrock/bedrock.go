// Package bedrock adapts Amazon Bedrock models through langchaingo. Credentials and region come
// from the default AWS configuration chain.
package bedrock

import (
	"context"
	"fmt"
	"time"

	bedrockembed "github.com/tmc/langchaingo/embeddings/bedrock"
	"github.com/tmc/langchaingo/llms"
	bedrockllm "github.com/tmc/langchaingo/llms/bedrock"

	"docqa/src/core/rag"
)

const (
	DefaultEmbeddingModel = "amazon.titan-embed-text-v2:0"
	DefaultTextModel      = "amazon.titan-text-lite-v1"
	// DefaultDimension is the vector length DefaultEmbeddingModel returns.
	DefaultDimension = 1024
)

var (
	_ rag.Embedder  = (*Embedder)(nil)
	_ rag.Generator = (*Generator)(nil)
)

// queryEmbedder is the part of the langchaingo embedder used here.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Embedder struct {
	embedder queryEmbedder
	model    string
	timeout  time.Duration
}

func NewEmbedder(model string, timeout time.Duration) (*Embedder, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	e, err := bedrockembed.NewBedrock(bedrockembed.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create bedrock embedder: %w", err)
	}
	return &Embedder{embedder: e, model: model, timeout: timeout}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rag.ErrEmbedding, e.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty vector", rag.ErrEmbedding, e.model)
	}
	return vec, nil
}

type Generator struct {
	model     llms.Model
	maxTokens int
	timeout   time.Duration
}

func NewGenerator(model string, maxTokens int, timeout time.Duration) (*Generator, error) {
	if model == "" {
		model = DefaultTextModel
	}
	llm, err := bedrockllm.New(bedrockllm.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create bedrock llm: %w", err)
	}
	return &Generator{model: llm, maxTokens: maxTokens, timeout: timeout}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var opts []llms.CallOption
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}
	return llms.GenerateFromSinglePrompt(ctx, g.model, prompt, opts...)
}
