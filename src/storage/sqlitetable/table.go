// Package sqlitetable stores an index as rows of a SQLite table, one row per chunk.
package sqlitetable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"docqa/src/core/index"
	"docqa/src/core/rag"
)

const (
	Name             = "table"
	DefaultTableName = "chunks"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var (
	_ index.Strategy = (*Strategy)(nil)
	_ index.Index    = (*Table)(nil)
)

// Strategy keeps every snapshot in <TableName>.db. Opened tables accept new rows, so a
// downloaded snapshot can seed the next one.
type Strategy struct {
	tableName string
}

func NewStrategy(tableName string) (*Strategy, error) {
	if tableName == "" {
		tableName = DefaultTableName
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	return &Strategy{tableName: tableName}, nil
}

func (s *Strategy) Name() string     { return Name }
func (s *Strategy) Appendable() bool { return true }

// FileName is the database file inside an index directory.
func (s *Strategy) FileName() string {
	return s.tableName + ".db"
}

func (s *Strategy) Detect(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, s.FileName()))
	return err == nil && info.Mode().IsRegular()
}

func (s *Strategy) Create(ctx context.Context, dir string, dim int, metric index.Metric) (index.Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if s.Detect(dir) {
		return nil, fmt.Errorf("table index already exists in %s", dir)
	}

	db, err := s.open(dir)
	if err != nil {
		return nil, err
	}

	schema := []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		fmt.Sprintf(`CREATE TABLE %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`, s.tableName),
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('dimension', ?), ('metric', ?)`,
		strconv.Itoa(dim), string(metric)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to write index metadata: %w", err)
	}

	return &Table{db: db, table: s.tableName, dim: dim, metric: metric}, nil
}

func (s *Strategy) Open(ctx context.Context, dir string) (index.Index, error) {
	if !s.Detect(dir) {
		return nil, fmt.Errorf("%w: %s not found in %s", index.ErrNoIndex, s.FileName(), dir)
	}
	db, err := s.open(dir)
	if err != nil {
		return nil, err
	}

	t := &Table{db: db, table: s.tableName}
	if err := t.loadMeta(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (s *Strategy) open(dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, s.FileName()))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection keeps writes and reads on the same file handle
	db.SetMaxOpenConns(1)
	return db, nil
}

// Table is an index backed by one SQLite table. Search scans every row.
type Table struct {
	mu     sync.RWMutex
	db     *sql.DB
	table  string
	dim    int
	metric index.Metric
	count  int
}

func (t *Table) loadMeta(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to read index metadata: %w", err)
		}
		switch key {
		case "dimension":
			if t.dim, err = strconv.Atoi(value); err != nil {
				return fmt.Errorf("invalid dimension %q: %w", value, err)
			}
		case "metric":
			if t.metric, err = index.ParseMetric(value); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}
	if t.dim <= 0 {
		return fmt.Errorf("index metadata has no dimension")
	}

	if err := t.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.table)).Scan(&t.count); err != nil {
		return fmt.Errorf("failed to count rows: %w", err)
	}
	return nil
}

// Add inserts entries in one transaction.
func (t *Table) Add(ctx context.Context, entries ...rag.Entry) error {
	if err := index.CheckDimensions(t.dim, entries); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s(id, chunk_index, start_offset, end_offset, text, embedding) VALUES (?, ?, ?, ?, ?, ?)`, t.table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		c := e.Chunk
		if _, err := stmt.ExecContext(ctx, c.ID, c.Index, c.Start, c.End, c.Text, index.EncodeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	t.count += len(entries)
	return nil
}

func (t *Table) Search(ctx context.Context, query []float32, k int) ([]rag.RetrievalResult, error) {
	if len(query) != t.dim {
		return nil, &rag.DimensionMismatchError{Want: t.dim, Got: len(query)}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, chunk_index, start_offset, end_offset, text, embedding FROM %s ORDER BY seq`, t.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	results := make([]rag.RetrievalResult, 0, t.count)
	for rows.Next() {
		var c rag.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Index, &c.Start, &c.End, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		vec, err := index.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if len(vec) != t.dim {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, &rag.DimensionMismatchError{Want: t.dim, Got: len(vec)})
		}
		results = append(results, rag.RetrievalResult{Chunk: c, Distance: index.Distance(t.metric, query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return index.TopK(results, k), nil
}

// Save is a no-op: every Add is committed to the database file.
func (t *Table) Save(context.Context) error {
	return nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

func (t *Table) Dimension() int       { return t.dim }
func (t *Table) Metric() index.Metric { return t.metric }

func (t *Table) Close() error {
	return t.db.Close()
}
