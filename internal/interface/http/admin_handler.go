package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AnalyticsOverview implements GET /api/analytics/overview (spec.md §4.8).
func (h *IngestHandler) AnalyticsOverview(c *gin.Context) {
	overview, err := h.store.AnalyticsOverview(c.Request.Context())
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// AnalyticsProcessing implements GET /api/analytics/processing.
func (h *IngestHandler) AnalyticsProcessing(c *gin.Context) {
	avg, err := h.store.AnalyticsProcessing(c.Request.Context())
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, avg)
}

// AnalyticsQuality implements GET /api/analytics/quality.
func (h *IngestHandler) AnalyticsQuality(c *gin.Context) {
	avg, err := h.store.AnalyticsQuality(c.Request.Context())
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, avg)
}

// AnalyticsDocuments implements GET /api/analytics/documents: format distribution.
func (h *IngestHandler) AnalyticsDocuments(c *gin.Context) {
	dist, err := h.store.AnalyticsFormatDistribution(c.Request.Context())
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"byFormat": dist})
}

// AnalyticsDocumentChunks implements GET /api/analytics/documents/:id/chunks.
func (h *IngestHandler) AnalyticsDocumentChunks(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	chunks, err := h.store.ListChunksForDocument(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	dtos := make([]chunkDTO, 0, len(chunks))
	for _, ch := range chunks {
		dtos = append(dtos, toChunkDTO(ch))
	}
	c.JSON(http.StatusOK, gin.H{"chunks": dtos})
}
