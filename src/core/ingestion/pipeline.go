// Package ingestion turns an uploaded file into a published index snapshot.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docqa/src/core/index"
	"docqa/src/core/loader"
	"docqa/src/core/rag"
	"docqa/src/core/splitter"
	"docqa/src/fsutil"
	"docqa/src/infrastructure/catalog"
	"docqa/src/infrastructure/events"
)

const DefaultWorkers = 4

var _ rag.Ingester = (*Pipeline)(nil)

// SnapshotStore publishes a built index directory and downloads earlier snapshots. Unpublish
// removes every object of a snapshot.
type SnapshotStore interface {
	Publish(ctx context.Context, requestID, localDir string) ([]string, error)
	Unpublish(ctx context.Context, requestID string) error
	LoadSnapshot(ctx context.Context, requestID, localDir string) ([]string, error)
}

type EventPublisher interface {
	SnapshotPublished(ctx context.Context, ev events.SnapshotPublished) error
}

type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	ChunkStrategy string
	// Dimension of every vector. Zero takes the length of the first successful embedding.
	Dimension int
	Metric    index.Metric
	Workers   int
	// Append seeds appendable strategies with the latest published snapshot of the same backend.
	Append bool
	NodeID int64
}

type Deps struct {
	Embedder rag.Embedder
	Strategy index.Strategy
	Store    SnapshotStore
	Catalog  catalog.Repository
	// Events is optional.
	Events EventPublisher
	// PDFConverter replaces the built-in pdf extractor. Optional.
	PDFConverter loader.PDFConverter
	// OnEmbedded is called from the embedding workers after each chunk. Optional.
	OnEmbedded func(done, total int)
}

type Pipeline struct {
	cfg      Config
	deps     Deps
	splitter splitter.Splitter
	loader   *loader.Loader
	ids      *snowflake.Node
	log      logr.Logger
}

func NewPipeline(cfg Config, deps Deps, logger logr.Logger) (*Pipeline, error) {
	if deps.Embedder == nil || deps.Strategy == nil || deps.Store == nil || deps.Catalog == nil {
		return nil, errors.New("ingestion pipeline needs an embedder, an index strategy, a store and a catalog")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Metric == "" {
		cfg.Metric = index.MetricL2
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("invalid dimension %d", cfg.Dimension)
	}

	s, err := splitter.New(cfg.ChunkStrategy, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		splitter: s,
		loader:   loader.New(deps.PDFConverter),
		ids:      node,
		log:      logger.WithName("ingestion"),
	}, nil
}

// Ingest runs one file through extract, split, embed, build and publish. Chunks that fail to embed
// are skipped and counted in the summary; any other failure aborts the run and nothing stays
// behind locally.
func (p *Pipeline) Ingest(ctx context.Context, filename string, file io.Reader) (*rag.RunSummary, error) {
	requestID := uuid.NewString()
	log := p.log.WithValues("request_id", requestID, "file", filename)

	ext, err := loader.Extension(filename)
	if err != nil {
		return nil, err
	}

	staged, removeStaged, err := fsutil.StageFile(file, "docqa-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	defer removeStaged()

	doc, err := p.loader.Load(ctx, filename, staged)
	if err != nil {
		return nil, err
	}

	chunks, err := p.splitter.Split(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", filename, err)
	}
	for i := range chunks {
		chunks[i].ID = p.ids.Generate().String()
	}
	log.Info("document split", "chars", len([]rune(doc.Content)), "chunks", len(chunks))

	summary := &rag.RunSummary{
		RequestID:  requestID,
		Backend:    p.deps.Strategy.Name(),
		SourceName: filename,
		Chunks:     len(chunks),
	}

	entries, dim := p.embed(ctx, log, chunks, summary)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %d of %d chunks failed (first error: %s)",
			rag.ErrNoValidEmbeddings, summary.Skipped, summary.Chunks, summary.FirstError)
	}

	buildDir, removeBuild, err := fsutil.ScratchDir("docqa-index-*")
	if err != nil {
		return nil, err
	}
	defer removeBuild()

	if err := p.build(ctx, log, buildDir, dim, entries, summary); err != nil {
		return nil, err
	}

	if st, err := fsutil.GetFileStats(buildDir); err == nil {
		summary.Bytes = st.Size
	}

	if err := p.publish(ctx, log, buildDir, dim, summary); err != nil {
		return nil, err
	}

	p.announce(ctx, log, summary)

	log.Info("snapshot published",
		"backend", summary.Backend,
		"parent_id", summary.ParentID,
		"embedded", summary.Embedded,
		"skipped", summary.Skipped,
		"objects", len(summary.Objects))
	return summary, nil
}

type embedResult struct {
	vec []float32
	err error
}

// embed fans the chunks out to a bounded set of workers. Results are kept by chunk position, so
// entries come back in document order whatever order the calls complete in.
func (p *Pipeline) embed(ctx context.Context, log logr.Logger, chunks []rag.Chunk, summary *rag.RunSummary) ([]rag.Entry, int) {
	results := make([]embedResult, len(chunks))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range chunks {
		g.Go(func() error {
			vec, err := p.deps.Embedder.Embed(gctx, chunks[i].Text)
			results[i] = embedResult{vec: vec, err: err}
			if p.deps.OnEmbedded != nil {
				p.deps.OnEmbedded(int(done.Add(1)), len(chunks))
			}
			return nil
		})
	}
	_ = g.Wait()

	dim := p.cfg.Dimension
	entries := make([]rag.Entry, 0, len(chunks))
	for i, r := range results {
		if r.err == nil && len(r.vec) == 0 {
			r.err = fmt.Errorf("%w: empty vector", rag.ErrEmbedding)
		}
		if r.err != nil {
			summary.Skipped++
			if summary.FirstError == "" {
				summary.FirstError = r.err.Error()
			}
			log.Error(r.err, "failed to embed chunk", "chunk", i)
			continue
		}
		if dim == 0 {
			dim = len(r.vec)
		}
		if len(r.vec) != dim {
			mismatch := &rag.DimensionMismatchError{Want: dim, Got: len(r.vec)}
			summary.Skipped++
			summary.DimensionMismatches++
			if summary.FirstError == "" {
				summary.FirstError = mismatch.Error()
			}
			log.Info("skipping chunk", "chunk", i, "reason", mismatch.Error())
			continue
		}
		entries = append(entries, rag.Entry{Chunk: chunks[i], Vector: r.vec})
	}

	summary.Embedded = len(entries)
	return entries, dim
}

func (p *Pipeline) build(ctx context.Context, log logr.Logger, dir string, dim int, entries []rag.Entry, summary *rag.RunSummary) error {
	idx, parentID, err := p.openIndex(ctx, log, dir, dim)
	if err != nil {
		return err
	}
	summary.ParentID = parentID

	if err := idx.Add(ctx, entries...); err != nil {
		idx.Close()
		return fmt.Errorf("failed to add entries: %w", err)
	}
	if err := idx.Save(ctx); err != nil {
		idx.Close()
		return fmt.Errorf("failed to save index: %w", err)
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	return nil
}

// openIndex returns a fresh index in dir, or the latest published snapshot of the same backend
// when appending is enabled and the layouts agree.
func (p *Pipeline) openIndex(ctx context.Context, log logr.Logger, dir string, dim int) (index.Index, string, error) {
	strategy := p.deps.Strategy
	if p.cfg.Append && strategy.Appendable() {
		latest, err := p.deps.Catalog.Latest(ctx, strategy.Name())
		switch {
		case err == nil:
			idx, err := p.seed(ctx, dir, latest.RequestID)
			if err != nil {
				return nil, "", err
			}
			if idx.Dimension() == dim && idx.Metric() == p.cfg.Metric {
				log.Info("appending to snapshot", "parent_id", latest.RequestID, "rows", idx.Len())
				return idx, latest.RequestID, nil
			}
			log.Info("latest snapshot has a different layout, starting fresh",
				"parent_id", latest.RequestID, "dimension", idx.Dimension(), "metric", idx.Metric())
			idx.Close()
			if err := os.RemoveAll(dir); err != nil {
				return nil, "", fmt.Errorf("failed to reset build directory: %w", err)
			}
		case !errors.Is(err, rag.ErrSnapshotNotFound):
			return nil, "", fmt.Errorf("failed to look up latest snapshot: %w", err)
		}
	}

	idx, err := strategy.Create(ctx, dir, dim, p.cfg.Metric)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create index: %w", err)
	}
	return idx, "", nil
}

func (p *Pipeline) seed(ctx context.Context, dir, requestID string) (index.Index, error) {
	if _, err := p.deps.Store.LoadSnapshot(ctx, requestID, dir); err != nil {
		return nil, err
	}
	idx, err := p.deps.Strategy.Open(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", requestID, err)
	}
	return idx, nil
}

func (p *Pipeline) publish(ctx context.Context, log logr.Logger, dir string, dim int, summary *rag.RunSummary) error {
	record := &catalog.Snapshot{
		RequestID:  summary.RequestID,
		ParentID:   summary.ParentID,
		Backend:    summary.Backend,
		Metric:     string(p.cfg.Metric),
		Dimension:  dim,
		SourceName: summary.SourceName,
		Chunks:     summary.Chunks,
		Embedded:   summary.Embedded,
		Skipped:    summary.Skipped,
		Status:     catalog.StatusPending,
	}
	if err := p.deps.Catalog.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	objects, err := p.deps.Store.Publish(ctx, summary.RequestID, dir)
	if err != nil {
		p.markFailed(ctx, log, summary.RequestID, err)
		return err
	}

	if err := p.deps.Catalog.UpdateStatus(ctx, summary.RequestID, catalog.StatusPublished, nil); err != nil {
		err = fmt.Errorf("failed to mark snapshot published: %w", err)
		if uerr := p.deps.Store.Unpublish(context.WithoutCancel(ctx), summary.RequestID); uerr != nil {
			log.Error(uerr, "failed to remove unrecorded snapshot objects")
		}
		p.markFailed(ctx, log, summary.RequestID, err)
		return err
	}
	summary.Objects = objects
	return nil
}

// markFailed records cause on the catalog entry. It runs on a context detached from ctx so a
// cancelled run is still recorded.
func (p *Pipeline) markFailed(ctx context.Context, log logr.Logger, requestID string, cause error) {
	msg := cause.Error()
	if err := p.deps.Catalog.UpdateStatus(context.WithoutCancel(ctx), requestID, catalog.StatusFailed, &msg); err != nil {
		log.Error(err, "failed to mark snapshot failed")
	}
}

// announce sends the published event. A failure is logged; the snapshot is already durable.
func (p *Pipeline) announce(ctx context.Context, log logr.Logger, summary *rag.RunSummary) {
	if p.deps.Events == nil {
		return
	}
	err := p.deps.Events.SnapshotPublished(ctx, events.SnapshotPublished{
		RequestID:   summary.RequestID,
		ParentID:    summary.ParentID,
		Backend:     summary.Backend,
		SourceName:  summary.SourceName,
		Embedded:    summary.Embedded,
		Objects:     summary.Objects,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error(err, "failed to publish snapshot event")
	}
}
