package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/index"
	"docqa/src/core/rag"
	"docqa/src/fsutil"
	"docqa/src/infrastructure/catalog"
	"docqa/src/infrastructure/events"
	"docqa/src/storage/sqlitetable"
)

// letterEmbedder embeds a chunk by its first rune. Letters in fail return an error, letters in
// short return a vector one element too short.
type letterEmbedder struct {
	dim   int
	fail  string
	short string
	delay func(text string) time.Duration

	mu    sync.Mutex
	calls int
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.delay != nil {
		select {
		case <-time.After(e.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first := text[:1]
	if strings.Contains(e.fail, first) {
		return nil, errors.New("model unavailable for " + first)
	}
	n := e.dim
	if strings.Contains(e.short, first) {
		n--
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = 1
	}
	return vec, nil
}

type memoryStore struct {
	mu        sync.Mutex
	snapshots map[string]map[string][]byte
	failWith  error
	publishes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snapshots: map[string]map[string][]byte{}}
}

func (s *memoryStore) Publish(_ context.Context, requestID, localDir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes++
	if s.failWith != nil {
		return nil, s.failWith
	}

	files, err := fsutil.ListFiles(localDir)
	if err != nil {
		return nil, err
	}
	objects := map[string][]byte{}
	var keys []string
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(localDir, rel))
		if err != nil {
			return nil, err
		}
		objects[rel] = data
		keys = append(keys, requestID+"/"+rel)
	}
	s.snapshots[requestID] = objects
	return keys, nil
}

func (s *memoryStore) Unpublish(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, requestID)
	return nil
}

func (s *memoryStore) LoadSnapshot(_ context.Context, requestID, localDir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.snapshots[requestID]
	if !ok {
		return nil, rag.ErrSnapshotNotFound
	}
	var paths []string
	for rel, data := range objects {
		p := filepath.Join(localDir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, data, 0644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// open downloads a published snapshot into a temp dir and opens it.
func (s *memoryStore) open(t *testing.T, strategy index.Strategy, requestID string) index.Index {
	t.Helper()
	dir := t.TempDir()
	_, err := s.LoadSnapshot(context.Background(), requestID, dir)
	require.NoError(t, err)
	idx, err := strategy.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// failingCatalog refuses to mark snapshots published.
type failingCatalog struct {
	*catalog.MemoryRepository
}

func (c failingCatalog) UpdateStatus(ctx context.Context, requestID string, status catalog.Status, err *string) error {
	if status == catalog.StatusPublished {
		return errors.New("db down")
	}
	return c.MemoryRepository.UpdateStatus(ctx, requestID, status, err)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.SnapshotPublished
	err    error
}

func (r *recordingEvents) SnapshotPublished(_ context.Context, ev events.SnapshotPublished) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type fixture struct {
	embedder *letterEmbedder
	store    *memoryStore
	catalog  *catalog.MemoryRepository
	events   *recordingEvents
	strategy index.Strategy
}

func newFixture() *fixture {
	return &fixture{
		embedder: &letterEmbedder{dim: 3},
		store:    newMemoryStore(),
		catalog:  catalog.NewMemoryRepository(),
		events:   &recordingEvents{},
		strategy: index.NewFlatStrategy(),
	}
}

func (f *fixture) pipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize, cfg.ChunkOverlap = 10, 0
	}
	p, err := NewPipeline(cfg, Deps{
		Embedder: f.embedder,
		Strategy: f.strategy,
		Store:    f.store,
		Catalog:  f.catalog,
		Events:   f.events,
	}, logr.Discard())
	require.NoError(t, err)
	return p
}

// four hard-cut chunks of ten runes each: a…, b…, c…, d…
var fourChunks = strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10) + strings.Repeat("d", 10)

func TestIngestPublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := f.pipeline(t, Config{Dimension: 3})

	summary, err := p.Ingest(ctx, "notes.TXT", strings.NewReader(fourChunks))
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RequestID)
	assert.Equal(t, "flat", summary.Backend)
	assert.Equal(t, "notes.TXT", summary.SourceName)
	assert.Equal(t, 4, summary.Chunks)
	assert.Equal(t, 4, summary.Embedded)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, []string{summary.RequestID + "/" + index.FlatFileName}, summary.Objects)
	assert.Positive(t, summary.Bytes)

	record, err := f.catalog.Get(ctx, summary.RequestID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPublished, record.Status)
	assert.Equal(t, 3, record.Dimension)
	assert.Equal(t, "l2", record.Metric)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, summary.RequestID, f.events.events[0].RequestID)

	idx := f.store.open(t, f.strategy, summary.RequestID)
	assert.Equal(t, 4, idx.Len())
}

func TestIngestKeepsChunkOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	// later chunks finish first
	f.embedder.delay = func(text string) time.Duration {
		return time.Duration('z'-rune(text[0])) * time.Millisecond
	}
	text := ""
	for _, r := range "abcdefghij" {
		text += strings.Repeat(string(r), 10)
	}
	p := f.pipeline(t, Config{Dimension: 3, Workers: 8})

	summary, err := p.Ingest(ctx, "letters.txt", strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, 10, summary.Embedded)

	// identical vectors tie, so search returns insertion order
	results, err := f.store.open(t, f.strategy, summary.RequestID).Search(ctx, []float32{1, 1, 1}, 0)
	require.NoError(t, err)
	require.Len(t, results, 10)
	seen := map[string]bool{}
	for i, r := range results {
		assert.Equal(t, i, r.Chunk.Index)
		assert.Equal(t, i*10, r.Chunk.Start)
		assert.NotEmpty(t, r.Chunk.ID)
		assert.False(t, seen[r.Chunk.ID], "chunk ids are unique")
		seen[r.Chunk.ID] = true
	}
}

func TestIngestSkipsFailedAndMismatchedChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.embedder.fail = "b"
	f.embedder.short = "c"
	p := f.pipeline(t, Config{Dimension: 3})

	summary, err := p.Ingest(ctx, "notes.txt", strings.NewReader(fourChunks))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Chunks)
	assert.Equal(t, 2, summary.Embedded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.DimensionMismatches)
	assert.Contains(t, summary.FirstError, "model unavailable for b")

	idx := f.store.open(t, f.strategy, summary.RequestID)
	assert.Equal(t, 2, idx.Len())
}

func TestIngestInfersDimension(t *testing.T) {
	f := newFixture()
	f.embedder.dim = 5
	f.embedder.short = "a"
	p := f.pipeline(t, Config{})

	summary, err := p.Ingest(context.Background(), "notes.txt", strings.NewReader(fourChunks))
	require.NoError(t, err)
	// the first successful vector sets the dimension, the rest disagree with it
	assert.Equal(t, 1, summary.Embedded)
	assert.Equal(t, 3, summary.DimensionMismatches)
}

func TestIngestNoValidEmbeddings(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.embedder.fail = "abcd"
	p := f.pipeline(t, Config{Dimension: 3})

	_, err := p.Ingest(ctx, "notes.txt", strings.NewReader(fourChunks))
	assert.ErrorIs(t, err, rag.ErrNoValidEmbeddings)
	assert.Equal(t, rag.KindNoValidEmbeddings, rag.KindOf(err))
	assert.Zero(t, f.store.publishes, "nothing is uploaded")
	assert.Empty(t, f.events.events)

	_, total, err := f.catalog.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngestEmptyDocument(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{Dimension: 3})

	_, err := p.Ingest(context.Background(), "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, rag.ErrNoValidEmbeddings)
	assert.Zero(t, f.embedder.calls)
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, Config{Dimension: 3})

	_, err := p.Ingest(context.Background(), "sheet.xlsx", strings.NewReader("data"))
	assert.ErrorIs(t, err, rag.ErrUnsupportedFileType)
	assert.Zero(t, f.embedder.calls)
	assert.Zero(t, f.store.publishes)
}

func TestIngestStorageFailureMarksSnapshotFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.failWith = &rag.StorageError{Op: "publish", Key: "x/index.flat", Err: errors.New("denied")}
	p := f.pipeline(t, Config{Dimension: 3})

	_, err := p.Ingest(ctx, "notes.txt", strings.NewReader(fourChunks))
	assert.ErrorIs(t, err, rag.ErrStorage)
	assert.Empty(t, f.events.events)

	list, _, err := f.catalog.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, catalog.StatusFailed, list[0].Status)
	require.NotNil(t, list[0].Error)
	assert.Contains(t, *list[0].Error, "denied")
}

func TestIngestCatalogFailureRemovesPublishedObjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p, err := NewPipeline(Config{Dimension: 3, ChunkSize: 10}, Deps{
		Embedder: f.embedder,
		Strategy: f.strategy,
		Store:    f.store,
		Catalog:  failingCatalog{f.catalog},
		Events:   f.events,
	}, logr.Discard())
	require.NoError(t, err)

	_, err = p.Ingest(ctx, "notes.txt", strings.NewReader(fourChunks))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark snapshot published")
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, f.store.publishes)
	assert.Empty(t, f.store.snapshots)
	assert.Empty(t, f.events.events)

	list, _, err := f.catalog.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, catalog.StatusFailed, list[0].Status)
	require.NotNil(t, list[0].Error)
	assert.Contains(t, *list[0].Error, "db down")
}

func TestIngestEventFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.events.err = errors.New("broker down")
	p := f.pipeline(t, Config{Dimension: 3})

	summary, err := p.Ingest(context.Background(), "notes.txt", strings.NewReader(fourChunks))
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Embedded)
}

func TestIngestAppendsToLatestTableSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	table, err := sqlitetable.NewStrategy("")
	require.NoError(t, err)
	f.strategy = table
	p := f.pipeline(t, Config{Dimension: 3, Append: true})

	first, err := p.Ingest(ctx, "one.txt", strings.NewReader(fourChunks))
	require.NoError(t, err)
	assert.Empty(t, first.ParentID)

	second, err := p.Ingest(ctx, "two.txt", strings.NewReader(strings.Repeat("e", 10)))
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, second.ParentID)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	assert.Equal(t, 4, f.store.open(t, table, first.RequestID).Len(), "the parent snapshot is unchanged")
	assert.Equal(t, 5, f.store.open(t, table, second.RequestID).Len())

	record, err := f.catalog.Get(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, record.ParentID)
}

func TestIngestReportsProgress(t *testing.T) {
	f := newFixture()
	var mu sync.Mutex
	var calls []int
	p, err := NewPipeline(Config{ChunkSize: 10, Dimension: 3}, Deps{
		Embedder: f.embedder,
		Strategy: f.strategy,
		Store:    f.store,
		Catalog:  f.catalog,
		OnEmbedded: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 4, total)
			calls = append(calls, done)
		},
	}, logr.Discard())
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), "notes.txt", strings.NewReader(fourChunks))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, calls)
}

func TestNewPipelineValidates(t *testing.T) {
	f := newFixture()

	_, err := NewPipeline(Config{ChunkSize: 10, ChunkOverlap: 10}, Deps{
		Embedder: f.embedder, Strategy: f.strategy, Store: f.store, Catalog: f.catalog,
	}, logr.Discard())
	assert.Error(t, err)

	_, err = NewPipeline(Config{ChunkSize: 10}, Deps{}, logr.Discard())
	assert.Error(t, err)
}
