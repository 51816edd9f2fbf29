package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// UploadDocument handles multipart upload and runs/dispatches processing
// (spec.md §6 POST /api/documents, grounded on uploadask_handler.go's
// UploadDocument multipart-read pattern).
func (h *IngestHandler) UploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "file is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "failed to read upload", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read file", err))
		return
	}

	format := strings.ToUpper(strings.TrimSpace(c.PostForm("format")))
	if format == "" {
		format = strings.ToUpper(strings.TrimPrefix(fileExt(fileHeader.Filename), "."))
	}
	source := ingest.SourceManual
	if strings.EqualFold(c.PostForm("sourceType"), "external") {
		source = ingest.SourceExternal
	}

	doc, err := h.coordinator.Upload(c.Request.Context(), ingest.UploadRequest{
		Filename: fileHeader.Filename,
		Content:  data,
		MIME:     fileHeader.Header.Get("Content-Type"),
		Format:   format,
		Source:   source,
	})
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentDTO(doc))
}

func fileExt(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

// ListDocuments implements spec.md §6's filtered, sorted, paginated listing.
func (h *IngestHandler) ListDocuments(c *gin.Context) {
	filter := ingest.DocumentFilter{}
	if v := c.Query("status"); v != "" {
		s := ingest.DocumentStatus(strings.ToUpper(v))
		filter.Status = &s
	}
	if v := c.Query("isActive"); v != "" {
		b := strings.EqualFold(v, "true")
		filter.IsActive = &b
	}
	if v := c.Query("connectionState"); v != "" {
		s := ingest.ConnectionState(strings.ToUpper(v))
		filter.ConnectionState = &s
	}
	if v := c.Query("sourceType"); v != "" {
		s := ingest.DocumentSource(strings.ToUpper(v))
		filter.Source = &s
	}
	if v := c.Query("format"); v != "" {
		filter.Format = &v
	}
	if v := c.Query("formatCategory"); v != "" {
		s := ingest.FormatCategory(strings.ToUpper(v))
		filter.FormatCategory = &s
	}
	if v := c.Query("search"); v != "" {
		filter.Search = &v
	}

	sort := ingest.Sort{Field: c.DefaultQuery("sort", "createdAt"), Desc: !strings.EqualFold(c.Query("order"), "asc")}
	page := ingest.Page{Limit: queryInt(c, "limit", 20), Offset: queryInt(c, "offset", 0)}

	docs, total, err := h.store.ListDocuments(c.Request.Context(), filter, sort, page)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		abortIngestError(c, err)
		return
	}
	dtos := make([]documentDTO, 0, len(docs))
	for _, d := range docs {
		dtos = append(dtos, toDocumentDTO(d))
	}
	c.JSON(http.StatusOK, gin.H{"documents": dtos, "total": total, "counts": counts})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetDocument returns status and chunkCount (spec.md §6).
func (h *IngestHandler) GetDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	doc, found, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	if !found {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found", nil))
		return
	}
	chunks, err := h.store.ListChunksForDocument(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	resp := toDocumentDTO(doc)
	c.JSON(http.StatusOK, gin.H{"document": resp, "chunkCount": len(chunks)})
}

// GetDocumentContent implements spec.md §6's ?format=markdown|json content endpoint.
func (h *IngestHandler) GetDocumentContent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	doc, found, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	if !found {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found", nil))
		return
	}
	if doc.Status != ingest.DocumentCompleted {
		abortWithError(c, NewHTTPError(http.StatusConflict, "NOT_READY", "document has not finished processing", nil))
		return
	}
	if doc.ProcessedContent == nil {
		abortWithError(c, NewHTTPError(http.StatusConflict, "NO_CONTENT", "document has no stored content", nil))
		return
	}

	format := c.DefaultQuery("format", "markdown")
	if format == "json" {
		chunks, err := h.store.ListChunksForDocument(c.Request.Context(), id)
		if err != nil {
			abortIngestError(c, err)
			return
		}
		dtos := make([]chunkDTO, 0, len(chunks))
		for _, ch := range chunks {
			dtos = append(dtos, toChunkDTO(ch))
		}
		c.JSON(http.StatusOK, gin.H{"content": *doc.ProcessedContent, "chunks": dtos})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(*doc.ProcessedContent))
}

// SetAvailability implements the PATCH single-document availability toggle.
func (h *IngestHandler) SetAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	var req availabilityPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}
	doc, err := h.coordinator.SetAvailability(c.Request.Context(), id, req.IsActive)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentDTO(doc))
}

// BulkSetAvailability implements the PATCH bulk availability toggle.
func (h *IngestHandler) BulkSetAvailability(c *gin.Context) {
	var req bulkAvailabilityPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}
	ids, err := parseUUIDs(req.DocumentIDs)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid documentIds entry", err))
		return
	}
	updated, failed := h.coordinator.BulkSetAvailability(c.Request.Context(), ids, req.IsActive)
	c.JSON(http.StatusOK, gin.H{"updated": updated, "failed": failed})
}

// DeleteDocument implements the single hard-delete endpoint.
func (h *IngestHandler) DeleteDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	if err := h.coordinator.Delete(c.Request.Context(), id); err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// BulkDeleteDocuments implements spec.md §4.5.4's capped bulk hard-delete.
func (h *IngestHandler) BulkDeleteDocuments(c *gin.Context) {
	var req bulkDeletePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", errMessage(err), err))
		return
	}
	ids, err := parseUUIDs(req.DocumentIDs)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid documentIds entry", err))
		return
	}
	deleted, failed, err := h.coordinator.BulkDelete(c.Request.Context(), ids)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "failed": failed})
}

// RetryDocument re-enters lane classification for a FAILED document.
func (h *IngestHandler) RetryDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document id", err))
		return
	}
	doc, err := h.coordinator.Retry(c.Request.Context(), id)
	if err != nil {
		abortIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentDTO(doc))
}
