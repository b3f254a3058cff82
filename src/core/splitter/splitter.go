// Package splitter cuts document text into overlapping chunks.
package splitter

import (
	"errors"
	"fmt"

	"docqa/src/core/rag"
)

const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

var ErrInvalidChunkParams = errors.New("invalid chunk parameters")

// Splitter splits text into an ordered sequence of chunks. Chunk IDs are left empty.
type Splitter interface {
	Split(text string) ([]rag.Chunk, error)
}

// New returns the splitter registered under strategy.
func New(strategy string, chunkSize, chunkOverlap int) (Splitter, error) {
	if err := validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}

	switch strategy {
	case "", StrategyWindow:
		return NewWindow(chunkSize, chunkOverlap), nil
	case StrategyRecursive:
		return NewRecursive(chunkSize, chunkOverlap), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}

func validate(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkParams, chunkSize)
	}
	if chunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidChunkParams, chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidChunkParams, chunkOverlap, chunkSize)
	}
	return nil
}
