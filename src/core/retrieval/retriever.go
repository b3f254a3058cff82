// Package retrieval finds the chunks of a snapshot closest to a question.
package retrieval

import (
	"context"
	"fmt"

	"docqa/src/core/index"
	"docqa/src/core/rag"
)

const DefaultTopK = 10

// Search returns the k entries of idx closest to query. k <= 0 uses DefaultTopK.
func Search(ctx context.Context, idx index.Index, query []float32, k int) ([]rag.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if idx.Len() == 0 {
		return nil, rag.ErrEmptyIndex
	}
	return idx.Search(ctx, query, k)
}

// Retriever embeds questions with the same model the snapshot was built with.
type Retriever struct {
	embedder rag.Embedder
	topK     int
}

func NewRetriever(embedder rag.Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, topK: topK}
}

func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve embeds question and searches idx. k <= 0 uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, idx index.Index, question string, k int) ([]rag.RetrievalResult, error) {
	if k <= 0 {
		k = r.topK
	}
	if idx.Len() == 0 {
		return nil, rag.ErrEmptyIndex
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return Search(ctx, idx, vec, k)
}
