package v2

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
	"docqa/src/infrastructure/catalog"
)

const defaultPageSize = 20

type listSnapshotsRequest struct {
	Offset int `form:"offset" binding:"min=0"`
	Limit  int `form:"limit" binding:"min=0,max=100"`
}

type listSnapshotsResponse struct {
	Items  []catalog.Snapshot `json:"items"`
	Total  int64              `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

// CreateSnapshot godoc
// @Summary Ingest a document and publish a new index snapshot
// @Tags snapshots
// @Accept multipart/form-data
// @Param file formData file true "Document (pdf, docx, txt, csv, json)"
// @Produce json
// @Success 201 {object} rag.RunSummary
// @Failure 400 {object} ErrorResponse
// @Failure 415 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /snapshots [post]
func (h *Handler) CreateSnapshot(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("%w: file upload required: %v", rag.ErrInvalidRequest, err))
		return
	}
	defer file.Close()

	summary, err := h.ingester.Ingest(c.Request.Context(), header.Filename, file)
	if err != nil {
		h.log.Error(err, "ingestion failed", "file", header.Filename)
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusCreated, summary)
}

// ListSnapshots godoc
// @Summary List recorded snapshots, newest first
// @Tags snapshots
// @Param offset query int false "Offset"
// @Param limit query int false "Page size (max 100)"
// @Produce json
// @Success 200 {object} listSnapshotsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /snapshots [get]
func (h *Handler) ListSnapshots(c *gin.Context) {
	var req listSnapshotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", rag.ErrInvalidRequest, err))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultPageSize
	}

	items, total, err := h.catalog.List(c.Request.Context(), req.Offset, req.Limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []catalog.Snapshot{}
	}

	sendJSON(c, http.StatusOK, listSnapshotsResponse{
		Items:  items,
		Total:  total,
		Offset: req.Offset,
		Limit:  req.Limit,
	})
}
