package splitter

import (
	"docqa/src/core/rag"
)

// separator levels, coarsest first. A level may hold several separators of equal rank.
var defaultLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// Window splits text with a sliding window of ChunkSize runes. Each cut prefers the coarsest
// boundary inside the window and falls back to a hard cut at ChunkSize. The next chunk starts
// ChunkOverlap runes before the previous cut.
type Window struct {
	ChunkSize    int
	ChunkOverlap int
	levels       [][][]rune
}

func NewWindow(chunkSize, chunkOverlap int) *Window {
	levels := make([][][]rune, len(defaultLevels))
	for i, level := range defaultLevels {
		for _, sep := range level {
			levels[i] = append(levels[i], []rune(sep))
		}
	}
	return &Window{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		levels:       levels,
	}
}

func (w *Window) Split(text string) ([]rag.Chunk, error) {
	if err := validate(w.ChunkSize, w.ChunkOverlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	stride := w.ChunkSize - w.ChunkOverlap

	var chunks []rag.Chunk
	for start := 0; start < n; {
		end := start + w.ChunkSize
		next := start + stride
		if end >= n {
			end = n
		} else {
			end = w.cut(runes, start)
			next = end - w.ChunkOverlap
		}

		chunks = append(chunks, rag.Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		start = next
	}

	return chunks, nil
}

// cut returns the end of the chunk starting at start. The result lies in
// (start+ChunkOverlap, start+ChunkSize] so every chunk makes progress.
func (w *Window) cut(runes []rune, start int) int {
	window := runes[start : start+w.ChunkSize]
	for _, level := range w.levels {
		best := -1
		for _, sep := range level {
			if end := lastCut(window, sep); end > w.ChunkOverlap && end > best {
				best = end
			}
		}
		if best > 0 {
			return start + best
		}
	}
	return start + w.ChunkSize
}

// lastCut returns the position just after the last occurrence of sep in window, or -1.
func lastCut(window, sep []rune) int {
	for i := len(window) - len(sep); i >= 0; i-- {
		if hasPrefix(window[i:], sep) {
			return i + len(sep)
		}
	}
	return -1
}

func hasPrefix(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}
