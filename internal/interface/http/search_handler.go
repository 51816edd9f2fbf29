package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Query implements POST /api/query (spec.md §4.6, §6).
func (h *IngestHandler) Query(c *gin.Context) {
	var req queryPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}

	var minQuality *float64
	if req.Filters.MinQualityScore != nil {
		minQuality = req.Filters.MinQualityScore
	}

	resp, err := h.search.Query(c.Request.Context(), ingest.QueryRequest{
		Query: req.Query,
		TopK:  req.TopK,
		Mode:  req.Mode,
		Alpha: req.Alpha,
		Filters: ingest.SearchFilters{
			BreadcrumbsContain: req.Filters.BreadcrumbsContain,
			MinQualityScore:    minQuality,
			ChunkTypes:         req.Filters.ChunkTypes,
		},
	})
	if err != nil {
		abortIngestError(c, err)
		return
	}

	results := make([]searchResultDTO, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, toSearchResultDTO(r))
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "mode": resp.Mode, "alpha": resp.Alpha})
}
