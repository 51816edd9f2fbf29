package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Callback implements POST /internal/callback (spec.md §6): the worker's
// idempotent result-ingest endpoint. No authentication; the route is
// firewalled at the network layer, and the request body is size-capped by
// the http.MaxBytesReader installed in router.go.
func (h *IngestHandler) Callback(c *gin.Context) {
	var req callbackPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}
	if err := h.coordinator.ApplyCallback(c.Request.Context(), req.toCallbackInput()); err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
