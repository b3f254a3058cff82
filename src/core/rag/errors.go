package rag

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtraction          = errors.New("text extraction failed")
	ErrEmbedding           = errors.New("embedding failed")
	ErrNoValidEmbeddings   = errors.New("no valid embeddings generated")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrEmptyIndex          = errors.New("index is empty")
	ErrStorage             = errors.New("storage operation failed")
	ErrGeneration          = errors.New("text generation failed")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Kind is the stable, user-visible code of an error.
type Kind string

const (
	KindUnsupportedFileType Kind = "UNSUPPORTED_FILE_TYPE"
	KindExtraction          Kind = "EXTRACTION_ERROR"
	KindEmbedding           Kind = "EMBEDDING_ERROR"
	KindNoValidEmbeddings   Kind = "NO_VALID_EMBEDDINGS"
	KindDimensionMismatch   Kind = "DIMENSION_MISMATCH"
	KindEmptyIndex          Kind = "EMPTY_INDEX"
	KindStorage             Kind = "STORAGE_ERROR"
	KindGeneration          Kind = "GENERATION_ERROR"
	KindSnapshotNotFound    Kind = "NOT_FOUND"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindInternal            Kind = "INTERNAL_ERROR"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedFileType, KindUnsupportedFileType},
	{ErrExtraction, KindExtraction},
	{ErrNoValidEmbeddings, KindNoValidEmbeddings},
	{ErrEmbedding, KindEmbedding},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrEmptyIndex, KindEmptyIndex},
	{ErrStorage, KindStorage},
	{ErrGeneration, KindGeneration},
	{ErrSnapshotNotFound, KindSnapshotNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
}

// KindOf returns the kind of the first known sentinel wrapped by err.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// DimensionMismatchError is returned when a vector does not match the index dimension.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// Stage names a step of the question answering flow.
type Stage string

const (
	StageRefine Stage = "refine"
	StageAnswer Stage = "answer"
)

// GenerationError tags a generation failure with the stage it happened in.
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed at %s stage: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}

// StorageError describes a failed publish or load.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}
