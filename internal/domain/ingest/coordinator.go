package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

// CoordinatorConfig drives upload validation and lane classification (spec.md §4.5.1).
type CoordinatorConfig struct {
	MaxManualBytes   int64
	MaxExternalBytes int64
	AllowedFormats   map[string]bool
	FastLaneFormats  map[string]bool
	HeavyLaneFormats map[string]bool
	BulkDeleteCap    int
}

// DefaultCoordinatorConfig matches spec.md §4.5.1's default caps and lane sets.
func DefaultCoordinatorConfig() CoordinatorConfig {
	allowed := map[string]bool{}
	for _, f := range []string{"PDF", "JSON", "TXT", "MD", "DOCX", "XLSX", "CSV", "PPTX", "HTML", "EPUB"} {
		allowed[f] = true
	}
	fast := map[string]bool{"JSON": true, "TXT": true, "MD": true}
	heavy := map[string]bool{"PDF": true, "PPTX": true, "XLSX": true, "EPUB": true, "HTML": true}
	return CoordinatorConfig{
		MaxManualBytes:   50 * 1024 * 1024,
		MaxExternalBytes: 100 * 1024 * 1024,
		AllowedFormats:   allowed,
		FastLaneFormats:  fast,
		HeavyLaneFormats: heavy,
		BulkDeleteCap:    100,
	}
}

// Coordinator is the document lifecycle state machine (spec.md §4.5), grounded
// on internal/domain/uploadask/service.go's Upload/ProcessDocument shape and
// generalized to content-hash dedup, lane classification, profile snapshotting,
// and idempotent worker-callback application.
type Coordinator struct {
	cfg      CoordinatorConfig
	store    Store
	bus      EventBus
	queue    JobQueue
	blobs    BlobStore
	chunker   Chunker
	embedder  Embedder
	converter Converter
	profiles  *ProfileRegistry
	logger    *slog.Logger
}

// NewCoordinator constructs a Coordinator with its collaborator ports.
func NewCoordinator(cfg CoordinatorConfig, store Store, bus EventBus, queue JobQueue, blobs BlobStore, chunker Chunker, embedder Embedder, converter Converter, profiles *ProfileRegistry, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		queue:     queue,
		blobs:     blobs,
		chunker:   chunker,
		embedder:  embedder,
		converter: converter,
		profiles:  profiles,
		logger:    logger.With("component", "ingest.coordinator"),
	}
}

// UploadRequest is the inbound multipart submission (spec.md §4.5.1).
type UploadRequest struct {
	Filename string
	Content  []byte
	MIME     string
	Format   string
	Source   DocumentSource
}

// Upload executes spec.md §4.5.1: dedup by content hash, content-addressed
// storage, profile snapshot, PENDING row creation, and lane classification.
func (c *Coordinator) Upload(ctx context.Context, req UploadRequest) (Document, error) {
	if len(req.Content) == 0 {
		return Document{}, apperrors.Wrap("VALIDATION_ERROR", "file content cannot be empty", nil)
	}
	filename := sanitizeFilename(req.Filename)
	format := strings.ToUpper(strings.TrimSpace(req.Format))
	if !c.cfg.AllowedFormats[format] {
		return Document{}, apperrors.Wrap("INVALID_FORMAT", fmt.Sprintf("format %q is not supported", format), nil)
	}
	source := req.Source
	if source == "" {
		source = SourceManual
	}
	cap := c.cfg.MaxManualBytes
	if source == SourceExternal {
		cap = c.cfg.MaxExternalBytes
	}
	if int64(len(req.Content)) > cap {
		return Document{}, apperrors.Wrap("FILE_TOO_LARGE", "file exceeds the configured size cap", nil)
	}

	sum := md5.Sum(req.Content)
	hash := hex.EncodeToString(sum[:])

	storagePath := path.Join(hash[:2], hash)
	if _, err := c.blobs.Put(ctx, storagePath, req.Content, req.MIME); err != nil {
		return Document{}, apperrors.Wrap("store_unavailable", "failed to persist uploaded bytes", err)
	}

	profile, err := c.profiles.ActiveSnapshot(ctx)
	if err != nil {
		c.unlinkBestEffort(ctx, storagePath)
		return Document{}, err
	}

	sp := storagePath
	doc := Document{
		Filename:          filename,
		MIME:              req.MIME,
		ByteSize:          int64(len(req.Content)),
		Format:            format,
		ContentHash:       hash,
		Source:            source,
		StoragePath:       &sp,
		ConnectionState:   ConnectionStandalone,
		SnapshotProfileID: profile.ID,
		Status:            DocumentPending,
	}
	created, err := c.store.CreateDocument(ctx, doc)
	if err != nil {
		c.unlinkBestEffort(ctx, storagePath)
		return Document{}, err
	}

	c.bus.Publish(Event{Type: EventDocumentCreated, DocumentID: created.ID, Filename: created.Filename, Status: created.Status})

	if err := c.dispatch(ctx, created, profile); err != nil {
		c.logger.Error("dispatch failed after upload", "documentId", created.ID, "error", err)
		if _, uerr := c.store.UpdateDocumentStatus(ctx, created.ID, []DocumentStatus{DocumentPending, DocumentProcessing}, DocumentFailed, DocumentStatusFields{FailReason: ptrString("DISPATCH_ERROR: " + err.Error())}); uerr == nil {
			c.bus.Publish(Event{Type: EventDocumentStatus, DocumentID: created.ID, Status: DocumentFailed, Error: err.Error()})
		}
		return created, apperrors.Wrap("store_unavailable", "failed to dispatch document for processing", err)
	}

	final, _, err := c.store.GetDocument(ctx, created.ID)
	if err != nil {
		return created, nil
	}
	return final, nil
}

// dispatch classifies the document by format and either runs the fast lane
// inline or enqueues a heavy-lane job (spec.md §4.5.1 step 6).
func (c *Coordinator) dispatch(ctx context.Context, doc Document, profile ProcessingProfile) error {
	if c.cfg.FastLaneFormats[doc.Format] {
		return c.runFastLane(ctx, doc, profile)
	}

	if _, err := c.store.UpdateDocumentStatus(ctx, doc.ID, []DocumentStatus{DocumentPending}, DocumentProcessing, DocumentStatusFields{}); err != nil {
		return err
	}
	storagePath := ""
	if doc.StoragePath != nil {
		storagePath = *doc.StoragePath
	}
	return c.queue.Enqueue(ctx, Job{
		ID:                uuid.New(),
		DocumentID:        doc.ID,
		StoragePath:       storagePath,
		Format:            doc.Format,
		SnapshotProfileID: doc.SnapshotProfileID,
	})
}

// runFastLane synchronously invokes the chunker+embedder collaborators and
// feeds the result through the same idempotent callback path used for
// heavy-lane worker callbacks (spec.md §4.5.1's "same callback path as §4.5.3").
func (c *Coordinator) runFastLane(ctx context.Context, doc Document, profile ProcessingProfile) error {
	if _, err := c.store.UpdateDocumentStatus(ctx, doc.ID, []DocumentStatus{DocumentPending}, DocumentProcessing, DocumentStatusFields{}); err != nil {
		return err
	}

	start := time.Now()
	if doc.StoragePath == nil {
		return c.ApplyCallback(ctx, CallbackInput{DocumentID: doc.ID, Success: false, Error: &CallbackError{Code: "CORRUPT_FILE", Message: "no storage path for fast-lane document"}})
	}
	raw, err := c.blobs.Get(ctx, *doc.StoragePath)
	if err != nil {
		return c.ApplyCallback(ctx, CallbackInput{DocumentID: doc.ID, Success: false, Error: &CallbackError{Code: "CORRUPT_FILE", Message: err.Error()}})
	}
	markdown, err := c.converter.Convert(ctx, doc.Format, raw)
	if err != nil {
		return c.ApplyCallback(ctx, CallbackInput{DocumentID: doc.ID, Success: false, Error: &CallbackError{Code: "UNSUPPORTED_FORMAT", Message: err.Error()}})
	}

	inputs, err := c.chunker.Chunk(ctx, markdown, profile.ChunkingParams)
	if err != nil {
		return c.ApplyCallback(ctx, CallbackInput{DocumentID: doc.ID, Success: false, Error: &CallbackError{Code: "CHUNKING_FAILED", Message: err.Error()}})
	}

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = in.Content
	}
	embeddings, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return c.ApplyCallback(ctx, CallbackInput{DocumentID: doc.ID, Success: false, Error: &CallbackError{Code: "EMBEDDING_FAILED", Message: err.Error()}})
	}
	for i := range inputs {
		if i < len(embeddings) {
			inputs[i].Embedding = embeddings[i]
		}
	}

	elapsed := time.Since(start).Milliseconds()
	return c.ApplyCallback(ctx, CallbackInput{
		DocumentID: doc.ID,
		Success:    true,
		Result: &CallbackResult{
			ProcessedContent: markdown,
			Chunks:           inputs,
			FormatCategory:   FormatDocument,
			ProcessingTimeMs: elapsed,
		},
	})
}

// CallbackInput is the inbound payload for ApplyCallback (spec.md §4.5.3, §6).
type CallbackInput struct {
	DocumentID uuid.UUID
	Success    bool
	Result     *CallbackResult
	Error      *CallbackError
}

// ApplyCallback implements spec.md §4.5.3: idempotent terminal write. It is
// the single re-entry point for both fast-lane inline results and heavy-lane
// worker HTTP callbacks.
func (c *Coordinator) ApplyCallback(ctx context.Context, in CallbackInput) error {
	doc, found, err := c.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to load document for callback", err)
	}
	if !found {
		c.logger.Warn("callback for unknown document dropped", "documentId", in.DocumentID)
		return nil
	}

	if !in.Success {
		reason := "UNKNOWN"
		if in.Error != nil {
			reason = in.Error.Code
		}
		if _, err := c.store.UpdateDocumentStatus(ctx, doc.ID, []DocumentStatus{DocumentPending, DocumentProcessing}, DocumentFailed, DocumentStatusFields{FailReason: &reason}); err != nil {
			return err
		}
		c.bus.Publish(Event{Type: EventDocumentStatus, DocumentID: doc.ID, Status: DocumentFailed, Error: reason})
		return nil
	}

	profile, _, err := c.store.GetProfile(ctx, doc.SnapshotProfileID)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to load snapshot profile", err)
	}
	if reason, ok := qualityGateReject(in.Result.ProcessedContent, profile.QualityParams); !ok {
		if _, err := c.store.UpdateDocumentStatus(ctx, doc.ID, []DocumentStatus{DocumentPending, DocumentProcessing}, DocumentFailed, DocumentStatusFields{FailReason: &reason}); err != nil {
			return err
		}
		c.bus.Publish(Event{Type: EventDocumentStatus, DocumentID: doc.ID, Status: DocumentFailed, Error: reason})
		return nil
	}

	chunks := toChunkRows(doc.ID, in.Result.Chunks)
	if err := c.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return c.failAfterPartialCommit(ctx, doc.ID, err)
	}

	content := in.Result.ProcessedContent
	formatCategory := in.Result.FormatCategory
	if _, err := c.store.UpdateDocumentStatus(ctx, doc.ID, []DocumentStatus{DocumentPending, DocumentProcessing, DocumentCompleted}, DocumentCompleted, DocumentStatusFields{
		ProcessedContent: &content,
		FormatCategory:   &formatCategory,
	}); err != nil {
		return c.failAfterPartialCommit(ctx, doc.ID, err)
	}

	if in.Result.Metrics != nil {
		m := toMetrics(doc, *in.Result.Metrics)
		if err := c.store.UpsertMetrics(ctx, m); err != nil {
			c.logger.Error("failed to upsert metrics", "documentId", doc.ID, "error", err)
		}
	}

	c.bus.Publish(Event{Type: EventDocumentStatus, DocumentID: doc.ID, Status: DocumentCompleted, ChunksCount: len(chunks)})

	if doc.Source == SourceExternal && doc.StoragePath != nil {
		c.unlinkBestEffort(ctx, *doc.StoragePath)
	}
	return nil
}

func (c *Coordinator) failAfterPartialCommit(ctx context.Context, id uuid.UUID, cause error) error {
	reason := "PROCESSING_ERROR: " + cause.Error()
	if _, err := c.store.UpdateDocumentStatus(ctx, id, nil, DocumentFailed, DocumentStatusFields{FailReason: &reason}); err != nil {
		c.logger.Error("failed to transition document to FAILED after partial commit", "documentId", id, "error", err)
	}
	c.bus.Publish(Event{Type: EventDocumentStatus, DocumentID: id, Status: DocumentFailed, Error: reason})
	return apperrors.Wrap("store_unavailable", "failed to apply callback", cause)
}

// SetAvailability implements the single-document availability toggle (spec.md §4.5.4).
func (c *Coordinator) SetAvailability(ctx context.Context, id uuid.UUID, active bool) (Document, error) {
	doc, err := c.store.UpdateDocumentStatus(ctx, id, []DocumentStatus{DocumentCompleted}, DocumentCompleted, DocumentStatusFields{IsActive: &active})
	if err != nil {
		if apperrors.IsCode(err, "cas_mismatch") {
			return Document{}, apperrors.Wrap("INVALID_STATUS", "availability can only be toggled on completed documents", err)
		}
		return Document{}, err
	}
	c.bus.Publish(Event{Type: EventDocumentAvailability, DocumentID: doc.ID, IsActive: active})
	return doc, nil
}

// BulkSetAvailability implements spec.md §4.5.4's bulk availability toggle.
func (c *Coordinator) BulkSetAvailability(ctx context.Context, ids []uuid.UUID, active bool) (updated int, failed []BulkFailure) {
	for _, id := range ids {
		if _, err := c.SetAvailability(ctx, id, active); err != nil {
			failed = append(failed, BulkFailure{ID: id, Reason: err.Error()})
			continue
		}
		updated++
	}
	c.bus.Publish(Event{Type: EventBulkCompleted, Updated: updated, Failed: failed})
	return updated, failed
}

// Delete implements the single hard-delete path (spec.md §4.5.4): rejected
// while PROCESSING, cascades chunks+metrics+document, then best-effort
// unlinks the raw file and publishes document:deleted.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	doc, found, err := c.store.GetDocument(ctx, id)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to load document", err)
	}
	if !found {
		return apperrors.Wrap("document_not_found", "document not found", nil)
	}
	if doc.Status == DocumentProcessing {
		return apperrors.Wrap("INVALID_STATUS", "cannot delete a document while it is processing", nil)
	}
	storagePath, err := c.store.DeleteDocumentCascade(ctx, id)
	if err != nil {
		return err
	}
	if storagePath != nil {
		c.unlinkBestEffort(ctx, *storagePath)
	}
	c.bus.Publish(Event{Type: EventDocumentDeleted, DocumentID: id})
	return nil
}

// BulkDelete implements spec.md §4.5.4's bulk hard-delete, capped at BulkDeleteCap.
func (c *Coordinator) BulkDelete(ctx context.Context, ids []uuid.UUID) (deleted int, failed []BulkFailure, err error) {
	if len(ids) > c.cfg.BulkDeleteCap {
		return 0, nil, apperrors.Wrap("VALIDATION_ERROR", fmt.Sprintf("bulk delete is capped at %d documents", c.cfg.BulkDeleteCap), nil)
	}
	for _, id := range ids {
		if derr := c.Delete(ctx, id); derr != nil {
			failed = append(failed, BulkFailure{ID: id, Reason: derr.Error()})
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

// Retry implements spec.md §4.5.4: re-enters lane classification for a FAILED document.
func (c *Coordinator) Retry(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := c.store.UpdateDocumentStatus(ctx, id, []DocumentStatus{DocumentFailed}, DocumentPending, DocumentStatusFields{RetryCountDelta: 1})
	if err != nil {
		if apperrors.IsCode(err, "cas_mismatch") {
			return Document{}, apperrors.Wrap("INVALID_STATUS", "retry is only valid for failed documents", err)
		}
		return Document{}, err
	}
	profile, _, err := c.store.GetProfile(ctx, doc.SnapshotProfileID)
	if err != nil {
		return doc, err
	}
	if err := c.dispatch(ctx, doc, profile); err != nil {
		return doc, err
	}
	final, _, err := c.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return doc, nil
	}
	return final, nil
}

func (c *Coordinator) unlinkBestEffort(ctx context.Context, storagePath string) {
	if err := c.blobs.Delete(ctx, storagePath); err != nil {
		c.logger.Warn("best-effort unlink failed", "path", storagePath, "error", err)
	}
}

// qualityGateReject applies spec.md §4.5.3a's quality gate. Returns
// (reason, false) on rejection, ("", true) on acceptance.
func qualityGateReject(content string, params QualityParams) (string, bool) {
	minLen := params.MinLength
	if minLen <= 0 {
		minLen = DefaultQualityParams().MinLength
	}
	if len(strings.TrimSpace(content)) < minLen {
		return "TEXT_TOO_SHORT", false
	}
	maxNoise := params.MaxNoiseRatio
	if maxNoise <= 0 {
		maxNoise = DefaultQualityParams().MaxNoiseRatio
	}
	if noiseRatio(content) > maxNoise {
		return "QUALITY_BELOW_THRESHOLD", false
	}
	return "", true
}

func noiseRatio(content string) float64 {
	if len(content) == 0 {
		return 1
	}
	var nonAlnum int
	for _, r := range content {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '\n') {
			nonAlnum++
		}
	}
	return float64(nonAlnum) / float64(len([]rune(content)))
}

func toChunkRows(documentID uuid.UUID, inputs []ChunkInput) []Chunk {
	chunks := make([]Chunk, 0, len(inputs))
	for _, in := range inputs {
		quality := 1.0
		if in.QualityScore != nil {
			quality = *in.QualityScore
		}
		chunks = append(chunks, Chunk{
			ID:           uuid.New(),
			DocumentID:   documentID,
			Index:        in.Index,
			Content:      in.Content,
			Embedding:    in.Embedding,
			CharStart:    in.CharStart,
			CharEnd:      in.CharEnd,
			Heading:      in.Heading,
			Location:     in.Location,
			Breadcrumbs:  in.Breadcrumbs,
			QualityScore: quality,
			QualityFlags: in.QualityFlags,
			ChunkType:    in.ChunkType,
			Completeness: in.Completeness,
			HasTitle:     in.HasTitle,
			TokenCount:   in.TokenCount,
		})
	}
	return chunks
}

func toMetrics(doc Document, m CallbackMetrics) ProcessingMetrics {
	queueMs := m.StartedAt.Sub(doc.CreatedAt).Milliseconds()
	if queueMs < 0 {
		queueMs = 0
	}
	return ProcessingMetrics{
		DocumentID:        doc.ID,
		ConversionTimeMs:  m.ConversionTimeMs,
		ChunkingTimeMs:    m.ChunkingTimeMs,
		EmbeddingTimeMs:   m.EmbeddingTimeMs,
		TotalTimeMs:       m.TotalTimeMs,
		QueueTimeMs:       queueMs,
		RawSizeBytes:      m.RawSizeBytes,
		MarkdownSizeChars: m.MarkdownSizeChars,
		TotalChunks:       m.TotalChunks,
		AvgChunkSize:      m.AvgChunkSize,
		OversizedChunks:   m.OversizedChunks,
		AvgQualityScore:   m.AvgQualityScore,
		QualityFlags:      m.QualityFlags,
		TotalTokens:       m.TotalTokens,
	}
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

func ptrString(v string) *string { return &v }
