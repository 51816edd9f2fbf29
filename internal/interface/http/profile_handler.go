package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// ListProfiles implements GET /api/profiles (spec.md §4.4).
func (h *IngestHandler) ListProfiles(c *gin.Context) {
	includeArchived := strings.EqualFold(c.Query("includeArchived"), "true")
	profiles, err := h.profiles.List(c.Request.Context(), includeArchived)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	dtos := make([]profileDTO, 0, len(profiles))
	for _, p := range profiles {
		dtos = append(dtos, toProfileDTO(p))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": dtos})
}

// GetProfile implements GET /api/profiles/:id.
func (h *IngestHandler) GetProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid profile id", err))
		return
	}
	p, found, err := h.profiles.Get(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	if !found {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "PROFILE_NOT_FOUND", "profile not found", nil))
		return
	}
	c.JSON(http.StatusOK, toProfileDTO(p))
}

// CreateProfile implements POST /api/profiles.
func (h *IngestHandler) CreateProfile(c *gin.Context) {
	var req createProfilePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil))
		return
	}
	qualityParams := req.QualityParams
	if qualityParams == (ingest.QualityParams{}) {
		qualityParams = ingest.DefaultQualityParams()
	}
	created, err := h.profiles.Create(c.Request.Context(), ingest.ProcessingProfile{
		Name:                req.Name,
		ConversionParams:    req.ConversionParams,
		ChunkingParams:      req.ChunkingParams,
		QualityParams:       qualityParams,
		EmbeddingDescriptor: req.EmbeddingDescriptor,
	})
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProfileDTO(created))
}

// ActivateProfile implements POST /api/profiles/:id/activate.
func (h *IngestHandler) ActivateProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid profile id", err))
		return
	}
	if err := h.profiles.Activate(c.Request.Context(), id); err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": true})
}

// ArchiveProfile implements POST /api/profiles/:id/archive.
func (h *IngestHandler) ArchiveProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid profile id", err))
		return
	}
	if err := h.profiles.Archive(c.Request.Context(), id); err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": true})
}

// UnarchiveProfile implements POST /api/profiles/:id/unarchive.
func (h *IngestHandler) UnarchiveProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid profile id", err))
		return
	}
	if err := h.profiles.Unarchive(c.Request.Context(), id); err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": false})
}

// DeleteProfile implements DELETE /api/profiles/:id, surfacing a confirmation
// request when dependent documents exist (spec.md §4.4).
func (h *IngestHandler) DeleteProfile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid profile id", err))
		return
	}
	var req deleteProfilePayload
	_ = c.ShouldBindJSON(&req)

	result, err := h.profiles.Delete(c.Request.Context(), id, req.Confirm)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	if result.RequiresConfirmation {
		c.JSON(http.StatusConflict, gin.H{
			"requiresConfirmation": true,
			"dependentCount":       result.DependentCount,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": result.Deleted})
}
