package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"docqa/src/core/index"
	"docqa/src/fsutil"
	"docqa/src/infrastructure/catalog"
)

type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, requestID, localDir string) ([]string, error)
}

// Snapshot is a downloaded, opened index. Close removes the local copy.
type Snapshot struct {
	RequestID string
	Backend   string
	Index     index.Index
	dir       string
	cleanup   func()
}

func (s *Snapshot) Close() error {
	err := s.Index.Close()
	s.cleanup()
	return err
}

// SnapshotLoader downloads snapshots into scoped temp directories and opens them with whichever
// strategy recognises the files.
type SnapshotLoader struct {
	source   SnapshotSource
	registry *index.Registry
	catalog  catalog.Repository
	log      logr.Logger
}

func NewSnapshotLoader(source SnapshotSource, registry *index.Registry, repo catalog.Repository, logger logr.Logger) *SnapshotLoader {
	return &SnapshotLoader{
		source:   source,
		registry: registry,
		catalog:  repo,
		log:      logger.WithName("snapshots"),
	}
}

func (l *SnapshotLoader) Open(ctx context.Context, requestID string) (*Snapshot, error) {
	dir, cleanup, err := fsutil.ScratchDir("docqa-snapshot-*")
	if err != nil {
		return nil, err
	}

	if _, err := l.source.LoadSnapshot(ctx, requestID, dir); err != nil {
		cleanup()
		return nil, err
	}

	strategy, err := l.registry.Detect(dir)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("snapshot %s: %w", requestID, err)
	}
	idx, err := strategy.Open(ctx, dir)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open snapshot %s: %w", requestID, err)
	}

	l.log.V(1).Info("snapshot opened", "request_id", requestID, "backend", strategy.Name(), "entries", idx.Len())
	return &Snapshot{
		RequestID: requestID,
		Backend:   strategy.Name(),
		Index:     idx,
		dir:       dir,
		cleanup:   cleanup,
	}, nil
}

// Latest opens the newest published snapshot of any backend.
func (l *SnapshotLoader) Latest(ctx context.Context) (*Snapshot, error) {
	if l.catalog == nil {
		return nil, errors.New("no snapshot catalog configured")
	}
	record, err := l.catalog.Latest(ctx, "")
	if err != nil {
		return nil, err
	}
	return l.Open(ctx, record.RequestID)
}
