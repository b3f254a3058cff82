package rag

import (
	"context"
	"io"
)

// Ingester turns one uploaded file into a published index snapshot.
type Ingester interface {
	Ingest(ctx context.Context, filename string, file io.Reader) (*RunSummary, error)
}

// Embedder turns one text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces one completion for one prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Document struct {
	Name    string
	Content string
}

// Chunk is a slice of a Document. Start and End are rune offsets into the document content.
type Chunk struct {
	ID    string `json:"id"`
	Index int    `json:"index"` // the position of the chunk in the document
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Entry is one row of an index snapshot.
type Entry struct {
	Chunk  Chunk
	Vector []float32
}

type RetrievalResult struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float32 `json:"distance"`
}

// RunSummary reports the outcome of one ingestion run.
type RunSummary struct {
	RequestID           string   `json:"requestId"`
	ParentID            string   `json:"parentId,omitempty"`
	Backend             string   `json:"backend"`
	SourceName          string   `json:"sourceName"`
	Chunks              int      `json:"chunks"`
	Embedded            int      `json:"embedded"`
	Skipped             int      `json:"skipped"`
	DimensionMismatches int      `json:"dimensionMismatches"`
	FirstError          string   `json:"firstError,omitempty"`
	Objects             []string `json:"objects"`
	Bytes               int64    `json:"bytes"`
}
