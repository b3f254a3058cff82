package v2

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthStatus struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// CheckHealth godoc
// @Summary Check system health status
// @Description Reports unhealthy when the snapshot catalog cannot be read.
// @Tags system
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} ErrorResponse
// @Router /health [get]
func (h *Handler) CheckHealth(c *gin.Context) {
	if _, _, err := h.catalog.List(c.Request.Context(), 0, 1); err != nil {
		h.log.Error(err, "health check failed")
		sendError(c, http.StatusServiceUnavailable, err)
		return
	}
	sendJSON(c, http.StatusOK, HealthStatus{Status: "ok", Time: time.Now().UTC()})
}
