package v2

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/answer"
	"docqa/src/core/rag"
	"docqa/src/core/retrieval"
)

type askRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"topK" binding:"min=0"`
}

type askResponse struct {
	SnapshotID string `json:"snapshotId"`
	*answer.Answer
}

// AskSnapshot godoc
// @Summary Answer a question against one snapshot
// @Tags questions
// @Accept json
// @Produce json
// @Param id path string true "Snapshot request ID"
// @Param body body askRequest true "Question"
// @Success 200 {object} askResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /snapshots/{id}/questions [post]
func (h *Handler) AskSnapshot(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", rag.ErrInvalidRequest, err))
		return
	}

	snapshot, err := h.snapshots.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	h.ask(c, snapshot, req)
}

// AskLatest godoc
// @Summary Answer a question against the newest published snapshot
// @Tags questions
// @Accept json
// @Produce json
// @Param body body askRequest true "Question"
// @Success 200 {object} askResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /questions [post]
func (h *Handler) AskLatest(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("%w: %v", rag.ErrInvalidRequest, err))
		return
	}

	snapshot, err := h.snapshots.Latest(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	h.ask(c, snapshot, req)
}

func (h *Handler) ask(c *gin.Context, snapshot *retrieval.Snapshot, req askRequest) {
	defer func() {
		if err := snapshot.Close(); err != nil {
			h.log.Error(err, "failed to close snapshot", "request_id", snapshot.RequestID)
		}
	}()

	ans, err := h.answers.Ask(c.Request.Context(), snapshot.Index, req.Question, req.TopK)
	if err != nil {
		h.log.Error(err, "question failed", "snapshot", snapshot.RequestID)
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, askResponse{SnapshotID: snapshot.RequestID, Answer: ans})
}
