// Package index defines vector index snapshots and the flat, brute-force backend.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"docqa/src/core/rag"
)

type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

var (
	ErrNotAppendable   = errors.New("index is not appendable")
	ErrUnknownStrategy = errors.New("unknown index strategy")
	ErrNoIndex         = errors.New("no index found")
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(s)) {
	case "", MetricL2:
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Index is a set of entries sharing one dimension and metric.
//
// Add rejects the whole batch with a *rag.DimensionMismatchError when any vector has the wrong
// length, leaving the index unchanged. Search returns at most k results ordered by ascending
// distance, ties in insertion order; k <= 0 or k > Len returns every entry.
type Index interface {
	Add(ctx context.Context, entries ...rag.Entry) error
	Search(ctx context.Context, query []float32, k int) ([]rag.RetrievalResult, error)
	// Save flushes the index to its directory.
	Save(ctx context.Context) error
	Len() int
	Dimension() int
	Metric() Metric
	Close() error
}

// Strategy creates and opens one on-disk index layout.
type Strategy interface {
	Name() string
	// Appendable reports whether an opened index accepts further entries.
	Appendable() bool
	Create(ctx context.Context, dir string, dim int, metric Metric) (Index, error)
	Open(ctx context.Context, dir string) (Index, error)
	// Detect reports whether dir holds an index written by this strategy.
	Detect(dir string) bool
}

type Registry struct {
	strategies []Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

func (r *Registry) Get(name string) (Strategy, error) {
	for _, s := range r.strategies {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
}

// Detect returns the first strategy that recognises the layout of dir.
func (r *Registry) Detect(dir string) (Strategy, error) {
	for _, s := range r.strategies {
		if s.Detect(dir) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoIndex, dir)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// CheckDimensions returns a *rag.DimensionMismatchError for the first entry whose vector length
// differs from dim.
func CheckDimensions(dim int, entries []rag.Entry) error {
	for _, e := range entries {
		if len(e.Vector) != dim {
			return &rag.DimensionMismatchError{Want: dim, Got: len(e.Vector)}
		}
	}
	return nil
}

// TopK orders results by ascending distance, keeping insertion order for ties, and returns the
// first k.
func TopK(results []rag.RetrievalResult, k int) []rag.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results
}
