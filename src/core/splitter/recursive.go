package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"docqa/src/core/rag"
)

// Recursive delegates to the langchaingo recursive character splitter. Chunk offsets are recovered
// by searching forward in the source text; a chunk the library rewrote gets Start = End = -1.
type Recursive struct {
	ChunkSize    int
	ChunkOverlap int
}

func NewRecursive(chunkSize, chunkOverlap int) *Recursive {
	return &Recursive{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

func (r *Recursive) Split(text string) ([]rag.Chunk, error) {
	if err := validate(r.ChunkSize, r.ChunkOverlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	spliter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(r.ChunkSize),
		textsplitter.WithChunkOverlap(r.ChunkOverlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := spliter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	chunks := make([]rag.Chunk, 0, len(parts))
	cursor := 0
	for i, part := range parts {
		chunk := rag.Chunk{Index: i, Start: -1, End: -1, Text: part}
		if at := strings.Index(text[cursor:], part); at >= 0 {
			byteStart := cursor + at
			chunk.Start = utf8.RuneCountInString(text[:byteStart])
			chunk.End = chunk.Start + utf8.RuneCountInString(part)
			cursor = byteStart
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}
