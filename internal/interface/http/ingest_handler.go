package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namtroi/ragbase/internal/domain/ingest"
	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

// IngestHandler wires the ingestion HTTP surface to the ingest domain package
// (spec.md §6), grounded on Handler's shape in handler.go: one struct per
// transport, one method per route, collaborators injected at construction.
type IngestHandler struct {
	coordinator *ingest.Coordinator
	profiles    *ingest.ProfileRegistry
	search      *ingest.SearchGateway
	store       ingest.Store
	bus         ingest.EventBus
	logger      *slog.Logger
}

// NewIngestHandler constructs the ingestion HTTP handler.
func NewIngestHandler(coordinator *ingest.Coordinator, profiles *ingest.ProfileRegistry, search *ingest.SearchGateway, store ingest.Store, bus ingest.EventBus, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		coordinator: coordinator,
		profiles:    profiles,
		search:      search,
		store:       store,
		bus:         bus,
		logger:      logger.With("component", "http.ingest"),
	}
}

// ingestErrorStatus maps the domain error taxonomy (spec.md §7) to HTTP status
// and a stable wire error code shared across all ingest handlers.
func ingestErrorStatus(err error) (int, string) {
	switch {
	case apperrors.IsCode(err, "VALIDATION_ERROR"):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case apperrors.IsCode(err, "INVALID_FORMAT"):
		return http.StatusBadRequest, "INVALID_FORMAT"
	case apperrors.IsCode(err, "FILE_TOO_LARGE"):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case apperrors.IsCode(err, "DUPLICATE_FILE"):
		return http.StatusConflict, "DUPLICATE_FILE"
	case apperrors.IsCode(err, "duplicate_profile_name"):
		return http.StatusConflict, "NAME_IN_USE"
	case apperrors.IsCode(err, "INVALID_STATUS"), apperrors.IsCode(err, "invalid_status"):
		return http.StatusBadRequest, "INVALID_STATUS"
	case apperrors.IsCode(err, "document_not_found"):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND"
	case apperrors.IsCode(err, "profile_not_found"):
		return http.StatusNotFound, "PROFILE_NOT_FOUND"
	case apperrors.IsCode(err, "NOT_READY"):
		return http.StatusConflict, "NOT_READY"
	case apperrors.IsCode(err, "NO_CONTENT"):
		return http.StatusConflict, "NO_CONTENT"
	case apperrors.IsCode(err, "SEARCH_UNAVAILABLE"):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE"
	case apperrors.IsCode(err, "store_unavailable"), apperrors.IsCode(err, "queue_unavailable"):
		return http.StatusInternalServerError, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func abortIngestError(c *gin.Context, err error) {
	status, code := ingestErrorStatus(err)
	abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
}
