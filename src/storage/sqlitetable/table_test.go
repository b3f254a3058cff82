package sqlitetable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/index"
	"docqa/src/core/rag"
)

func entry(id string, vec ...float32) rag.Entry {
	return rag.Entry{Chunk: rag.Chunk{ID: id, Index: len(id), Start: 1, End: 5, Text: "chunk " + id}, Vector: vec}
}

func resultIDs(results []rag.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestNewStrategyValidatesTableName(t *testing.T) {
	s, err := NewStrategy("")
	require.NoError(t, err)
	assert.Equal(t, "chunks.db", s.FileName())

	for _, name := range []string{"docs; DROP TABLE meta", "1abc", "with-dash", "a b"} {
		_, err := NewStrategy(name)
		assert.Error(t, err, name)
	}
}

func TestTableAddAndSearch(t *testing.T) {
	ctx := context.Background()
	s, err := NewStrategy("docs")
	require.NoError(t, err)
	dir := t.TempDir()

	idx, err := s.Create(ctx, dir, 2, index.MetricL2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(ctx, entry("far", 9, 9), entry("near", 0, 1), entry("mid", 2, 2)))
	assert.Equal(t, 3, idx.Len())
	assert.True(t, s.Detect(dir))
	assert.FileExists(t, filepath.Join(dir, "docs.db"))

	results, err := idx.Search(ctx, []float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, resultIDs(results))
	assert.Equal(t, entry("near").Chunk, results[0].Chunk)

	results, err = idx.Search(ctx, []float32{0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, resultIDs(results))
}

func TestTableRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewStrategy("")
	require.NoError(t, err)

	idx, err := s.Create(ctx, t.TempDir(), 3, index.MetricCosine)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(ctx, entry("a", 1, 0, 0)))
	err = idx.Add(ctx, entry("b", 0, 1, 0), entry("c", 1, 1))
	assert.ErrorIs(t, err, rag.ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resultIDs(results))
}

func TestTableAppendAfterReopen(t *testing.T) {
	ctx := context.Background()
	s, err := NewStrategy("docs")
	require.NoError(t, err)
	dir := t.TempDir()

	idx, err := s.Create(ctx, dir, 2, index.MetricCosine)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, entry("first", 1, 0)))
	require.NoError(t, idx.Save(ctx))
	require.NoError(t, idx.Close())

	_, err = s.Create(ctx, dir, 2, index.MetricCosine)
	assert.Error(t, err, "create must not clobber an existing table")

	reopened, err := s.Open(ctx, dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Dimension())
	assert.Equal(t, index.MetricCosine, reopened.Metric())
	assert.Equal(t, 1, reopened.Len())
	assert.True(t, s.Appendable())

	require.NoError(t, reopened.Add(ctx, entry("second", 0, 1)))
	assert.Equal(t, 2, reopened.Len())

	results, err := reopened.Search(ctx, []float32{0, 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, resultIDs(results))
}

func TestTableOpenMissing(t *testing.T) {
	s, err := NewStrategy("")
	require.NoError(t, err)

	_, err = s.Open(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, index.ErrNoIndex)
}

func TestRegistryDetectsTable(t *testing.T) {
	ctx := context.Background()
	s, err := NewStrategy("")
	require.NoError(t, err)
	dir := t.TempDir()

	idx, err := s.Create(ctx, dir, 1, index.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	registry := index.NewRegistry(index.NewFlatStrategy(), s)
	detected, err := registry.Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, Name, detected.Name())
}
