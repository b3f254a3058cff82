package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"docqa/src/core/rag"
)

const (
	FlatName     = "flat"
	FlatFileName = "index.flat"
)

var flatMagic = [8]byte{'D', 'Q', 'F', 'L', 'A', 'T', '0', '1'}

var errCorruptFlat = errors.New("corrupt flat index")

var (
	_ Strategy = (*FlatStrategy)(nil)
	_ Index    = (*Flat)(nil)
)

// FlatStrategy writes the whole index to one file. Flat snapshots are written once.
type FlatStrategy struct{}

func NewFlatStrategy() *FlatStrategy {
	return &FlatStrategy{}
}

func (s *FlatStrategy) Name() string     { return FlatName }
func (s *FlatStrategy) Appendable() bool { return false }

func (s *FlatStrategy) Create(_ context.Context, dir string, dim int, metric Metric) (Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &Flat{dir: dir, dim: dim, metric: metric}, nil
}

func (s *FlatStrategy) Open(_ context.Context, dir string) (Index, error) {
	f, err := os.Open(filepath.Join(dir, FlatFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open flat index: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat flat index: %w", err)
	}

	idx, err := readFlat(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, err
	}
	idx.dir = dir
	idx.sealed = true
	return idx, nil
}

func (s *FlatStrategy) Detect(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FlatFileName))
	return err == nil && info.Mode().IsRegular()
}

// Flat keeps all vectors in one contiguous slice and scans them on every search.
type Flat struct {
	mu      sync.RWMutex
	dir     string
	dim     int
	metric  Metric
	vectors []float32
	chunks  []rag.Chunk
	sealed  bool
}

func (f *Flat) Add(_ context.Context, entries ...rag.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sealed {
		return ErrNotAppendable
	}
	if err := CheckDimensions(f.dim, entries); err != nil {
		return err
	}

	for _, e := range entries {
		f.vectors = append(f.vectors, e.Vector...)
		f.chunks = append(f.chunks, e.Chunk)
	}
	return nil
}

func (f *Flat) Search(_ context.Context, query []float32, k int) ([]rag.RetrievalResult, error) {
	if len(query) != f.dim {
		return nil, &rag.DimensionMismatchError{Want: f.dim, Got: len(query)}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([]rag.RetrievalResult, len(f.chunks))
	for i, c := range f.chunks {
		results[i] = rag.RetrievalResult{
			Chunk:    c,
			Distance: Distance(f.metric, query, f.vectors[i*f.dim:(i+1)*f.dim]),
		}
	}
	return TopK(results, k), nil
}

// Save writes index.flat and seals the index.
func (f *Flat) Save(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, FlatFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := f.write(w); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write flat index: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write flat index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.dir, FlatFileName)); err != nil {
		return fmt.Errorf("failed to move index file: %w", err)
	}

	f.sealed = true
	return nil
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks)
}

func (f *Flat) Dimension() int { return f.dim }
func (f *Flat) Metric() Metric { return f.metric }
func (f *Flat) Close() error   { return nil }

// Layout, little endian:
//
//	magic [8]byte | dim uint32 | metric string | count uint64
//	count × ( vector [dim]float32 | id string | index, start, end int64 | text string )
//
// Strings are a uint32 byte length followed by the bytes.
func (f *Flat) write(w io.Writer) error {
	if _, err := w.Write(flatMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dim)); err != nil {
		return err
	}
	if err := writeString(w, string(f.metric)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(f.chunks))); err != nil {
		return err
	}

	for i, c := range f.chunks {
		if err := binary.Write(w, binary.LittleEndian, f.vectors[i*f.dim:(i+1)*f.dim]); err != nil {
			return err
		}
		if err := writeString(w, c.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, [3]int64{int64(c.Index), int64(c.Start), int64(c.End)}); err != nil {
			return err
		}
		if err := writeString(w, c.Text); err != nil {
			return err
		}
	}
	return nil
}

// readFlat decodes an index of size bytes. Lengths read from the stream are checked against size
// before anything is allocated.
func readFlat(r io.Reader, size int64) (*Flat, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != flatMagic {
		return nil, fmt.Errorf("%w: bad header", errCorruptFlat)
	}

	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil || dim == 0 || int64(dim)*4 > size {
		return nil, fmt.Errorf("%w: bad dimension", errCorruptFlat)
	}
	metricName, err := readString(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFlat, err)
	}
	metric, err := ParseMetric(metricName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFlat, err)
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: bad count", errCorruptFlat)
	}
	// vector, two string lengths and three positions
	if minEntry := uint64(dim)*4 + 4 + 24 + 4; count > uint64(size)/minEntry {
		return nil, fmt.Errorf("%w: count %d exceeds file size", errCorruptFlat, count)
	}

	idx := &Flat{dim: int(dim), metric: metric}
	vec := make([]float32, dim)
	for i := uint64(0); i < count; i++ {
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", errCorruptFlat, i, err)
		}
		id, err := readString(r, size)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", errCorruptFlat, i, err)
		}
		var pos [3]int64
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", errCorruptFlat, i, err)
		}
		text, err := readString(r, size)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", errCorruptFlat, i, err)
		}

		idx.vectors = append(idx.vectors, vec...)
		idx.chunks = append(idx.chunks, rag.Chunk{
			ID:    id,
			Index: int(pos[0]),
			Start: int(pos[1]),
			End:   int(pos[2]),
			Text:  text,
		})
	}
	return idx, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader, limit int64) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int64(n) > limit {
		return "", fmt.Errorf("string length %d exceeds file size", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
