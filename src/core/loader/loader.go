// Package loader extracts plain text from uploaded files.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"docqa/src/core/rag"
)

type extractFunc func(ctx context.Context, f *os.File, size int64) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".txt":  extractText,
	".json": extractJSON,
	".docx": extractDocx,
	".csv":  extractCSV,
}

// Extension returns the lower-cased extension of name, or ErrUnsupportedFileType when no
// extractor handles it.
func Extension(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := extractors[ext]; !ok {
		return "", fmt.Errorf("%w: %q", rag.ErrUnsupportedFileType, name)
	}
	return ext, nil
}

// SupportedExtensions lists the accepted extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// PDFConverter extracts the text of a pdf outside the process.
type PDFConverter interface {
	ConvertPDF(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Loader extracts text with the built-in extractors. A configured PDFConverter replaces the
// built-in pdf extractor.
type Loader struct {
	pdf PDFConverter
}

func New(pdf PDFConverter) *Loader {
	return &Loader{pdf: pdf}
}

// LoadFile extracts the text of the file at path with the built-in extractors.
func LoadFile(ctx context.Context, name, path string) (*rag.Document, error) {
	return New(nil).Load(ctx, name, path)
}

// Load extracts the text of the file at path. name is the original upload name and picks the
// extractor; the staged path may carry any name.
func (l *Loader) Load(ctx context.Context, name, path string) (*rag.Document, error) {
	ext, err := Extension(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", rag.ErrExtraction, name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", rag.ErrExtraction, name, err)
	}

	extract := extractors[ext]
	if ext == ".pdf" && l.pdf != nil {
		extract = func(ctx context.Context, f *os.File, _ int64) (string, error) {
			return l.pdf.ConvertPDF(ctx, filepath.Base(name), f)
		}
	}

	content, err := extract(ctx, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rag.ErrExtraction, name, err)
	}

	return &rag.Document{Name: name, Content: content}, nil
}

func extractPDF(ctx context.Context, f *os.File, size int64) (string, error) {
	pages, err := documentloaders.NewPDF(f, size).Load(ctx)
	if err != nil {
		return "", err
	}
	return joinPages(pages), nil
}

func extractCSV(ctx context.Context, f *os.File, _ int64) (string, error) {
	rows, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return "", err
	}
	return joinPages(rows), nil
}

func joinPages(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.PageContent)
	}
	return strings.Join(parts, "\n")
}

func extractText(_ context.Context, f *os.File, _ int64) (string, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8")
	}
	return string(data), nil
}

// extractJSON re-indents the document with two spaces, keeping key order as written.
func extractJSON(_ context.Context, f *os.File, _ int64) (string, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	return buf.String(), nil
}
