package v2

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"docqa/src/core/answer"
	"docqa/src/core/index"
	"docqa/src/core/rag"
	"docqa/src/core/retrieval"
	"docqa/src/infrastructure/catalog"
)

// SnapshotCatalog lists recorded ingestion runs.
type SnapshotCatalog interface {
	List(ctx context.Context, offset, limit int) ([]catalog.Snapshot, int64, error)
}

// SnapshotOpener downloads and opens published snapshots.
type SnapshotOpener interface {
	Open(ctx context.Context, requestID string) (*retrieval.Snapshot, error)
	Latest(ctx context.Context) (*retrieval.Snapshot, error)
}

type QuestionAnswerer interface {
	Ask(ctx context.Context, idx index.Index, question string, k int) (*answer.Answer, error)
}

type Handler struct {
	ingester  rag.Ingester
	catalog   SnapshotCatalog
	snapshots SnapshotOpener
	answers   QuestionAnswerer
	log       logr.Logger
}

func NewHandler(ingester rag.Ingester, catalog SnapshotCatalog, snapshots SnapshotOpener, answers QuestionAnswerer, logger logr.Logger) *Handler {
	return &Handler{
		ingester:  ingester,
		catalog:   catalog,
		snapshots: snapshots,
		answers:   answers,
		log:       logger.WithName("http"),
	}
}

// RegisterRoutes registers all v1 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Snapshot routes
	v1.POST("/snapshots", h.CreateSnapshot)
	v1.GET("/snapshots", h.ListSnapshots)

	// Question routes
	v1.POST("/snapshots/:id/questions", h.AskSnapshot)
	v1.POST("/questions", h.AskLatest)

	// System routes
	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// statusOf maps an error kind to an HTTP status. Errors of unknown kind keep fallback.
func statusOf(kind rag.Kind, fallback int) int {
	switch kind {
	case rag.KindInvalidRequest:
		return http.StatusBadRequest
	case rag.KindUnsupportedFileType:
		return http.StatusUnsupportedMediaType
	case rag.KindSnapshotNotFound:
		return http.StatusNotFound
	case rag.KindExtraction, rag.KindNoValidEmbeddings, rag.KindDimensionMismatch, rag.KindEmptyIndex:
		return http.StatusUnprocessableEntity
	case rag.KindEmbedding, rag.KindGeneration, rag.KindStorage:
		return http.StatusBadGateway
	default:
		return fallback
	}
}

func sendError(c *gin.Context, status int, err error) {
	kind := rag.KindOf(err)
	resp := ErrorResponse{
		Code:    string(kind),
		Message: err.Error(),
	}

	var genErr *rag.GenerationError
	var storageErr *rag.StorageError
	switch {
	case errors.As(err, &genErr):
		resp.Details = gin.H{"stage": genErr.Stage}
	case errors.As(err, &storageErr):
		resp.Details = gin.H{"op": storageErr.Op, "key": storageErr.Key}
	}

	c.JSON(statusOf(kind, status), resp)
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
