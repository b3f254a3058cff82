package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"docqa/src/core/rag"
)

// MemoryRepository keeps snapshot records in process memory. Records are lost on exit.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	order     []string
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		snapshots: make(map[string]*Snapshot),
		now:       time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.snapshots[s.RequestID]; ok {
		return fmt.Errorf("snapshot %s already exists", s.RequestID)
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now

	stored := *s
	r.snapshots[s.RequestID] = &stored
	r.order = append(r.order, s.RequestID)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, requestID string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.snapshots[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rag.ErrSnapshotNotFound, requestID)
	}
	out := *s
	return &out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, requestID string, status Status, err *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.snapshots[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", rag.ErrSnapshotNotFound, requestID)
	}
	s.Status = status
	s.Error = err
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) Latest(_ context.Context, backend string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.snapshots[r.order[i]]
		if s.Status != StatusPublished {
			continue
		}
		if backend != "" && s.Backend != backend {
			continue
		}
		out := *s
		return &out, nil
	}
	return nil, fmt.Errorf("%w: no published snapshot", rag.ErrSnapshotNotFound)
}

// List returns snapshots newest first.
func (r *MemoryRepository) List(_ context.Context, offset, limit int) ([]Snapshot, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Snapshot, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		all = append(all, *r.snapshots[r.order[i]])
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []Snapshot{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}
