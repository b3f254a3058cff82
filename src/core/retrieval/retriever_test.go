package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/index"
	"docqa/src/core/rag"
	"docqa/src/fsutil"
	"docqa/src/infrastructure/catalog"
)

type fixedEmbedder struct {
	vec []float32
	err error
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vec, e.err
}

func buildFlat(t *testing.T, dir string, entries ...rag.Entry) index.Index {
	t.Helper()
	ctx := context.Background()
	idx, err := index.NewFlatStrategy().Create(ctx, dir, 2, index.MetricL2)
	require.NoError(t, err)
	if len(entries) > 0 {
		require.NoError(t, idx.Add(ctx, entries...))
	}
	require.NoError(t, idx.Save(ctx))
	return idx
}

func threeEntries() []rag.Entry {
	return []rag.Entry{
		{Chunk: rag.Chunk{ID: "c", Text: "far"}, Vector: []float32{5, 5}},
		{Chunk: rag.Chunk{ID: "a", Text: "close"}, Vector: []float32{0, 1}},
		{Chunk: rag.Chunk{ID: "b", Text: "middle"}, Vector: []float32{2, 0}},
	}
}

func TestSearchReturnsAllWhenKExceedsSize(t *testing.T) {
	idx := buildFlat(t, t.TempDir(), threeEntries()...)

	results, err := Search(context.Background(), idx, []float32{0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Equal(t, "b", results[1].Chunk.ID)
	assert.Equal(t, "c", results[2].Chunk.ID)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestSearchDefaultsK(t *testing.T) {
	var entries []rag.Entry
	for i := 0; i < 15; i++ {
		entries = append(entries, rag.Entry{Chunk: rag.Chunk{Index: i}, Vector: []float32{float32(i), 0}})
	}
	idx := buildFlat(t, t.TempDir(), entries...)

	results, err := Search(context.Background(), idx, []float32{0, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := buildFlat(t, t.TempDir())

	_, err := Search(context.Background(), idx, []float32{0, 0}, 3)
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)

	_, err = NewRetriever(fixedEmbedder{vec: []float32{0, 0}}, 3).Retrieve(context.Background(), idx, "q", 0)
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)
}

func TestRetrieve(t *testing.T) {
	idx := buildFlat(t, t.TempDir(), threeEntries()...)

	r := NewRetriever(fixedEmbedder{vec: []float32{2, 0}}, 2)
	results, err := r.Retrieve(context.Background(), idx, "which one is in the middle?", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Chunk.ID)

	r = NewRetriever(fixedEmbedder{err: errors.New("unreachable")}, 2)
	_, err = r.Retrieve(context.Background(), idx, "q", 0)
	assert.Error(t, err)
}

// dirSource serves snapshots from local directories named by request id.
type dirSource struct {
	root string
}

func (s dirSource) LoadSnapshot(_ context.Context, requestID, localDir string) ([]string, error) {
	src := filepath.Join(s.root, requestID)
	files, err := fsutil.ListFiles(src)
	if err != nil || len(files) == 0 {
		return nil, rag.ErrSnapshotNotFound
	}
	var out []string
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(src, rel))
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(localDir, rel)
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func TestSnapshotLoader(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	buildFlat(t, filepath.Join(root, "old"), threeEntries()[:1]...)
	buildFlat(t, filepath.Join(root, "new"), threeEntries()...)

	repo := catalog.NewMemoryRepository()
	for _, id := range []string{"old", "new"} {
		require.NoError(t, repo.Create(ctx, &catalog.Snapshot{RequestID: id, Backend: index.FlatName}))
		require.NoError(t, repo.UpdateStatus(ctx, id, catalog.StatusPublished, nil))
	}

	loader := NewSnapshotLoader(dirSource{root: root}, index.NewRegistry(index.NewFlatStrategy()), repo, logr.Discard())

	snap, err := loader.Open(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, index.FlatName, snap.Backend)
	assert.Equal(t, 1, snap.Index.Len())
	assert.DirExists(t, snap.dir)
	require.NoError(t, snap.Close())
	assert.NoDirExists(t, snap.dir)

	latest, err := loader.Latest(ctx)
	require.NoError(t, err)
	defer latest.Close()
	assert.Equal(t, "new", latest.RequestID)
	assert.Equal(t, 3, latest.Index.Len())

	_, err = loader.Open(ctx, "missing")
	assert.ErrorIs(t, err, rag.ErrSnapshotNotFound)
}
