package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the transactional persistence layer for documents, chunks,
// profiles, and metrics (spec.md §4.1). Every method is a single logical
// transaction.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, from []DocumentStatus, to DocumentStatus, fields DocumentStatusFields) (Document, error)
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error
	DeleteDocumentCascade(ctx context.Context, id uuid.UUID) (storagePath *string, err error)
	DeleteProfileCascade(ctx context.Context, profileID uuid.UUID) error
	ListDocuments(ctx context.Context, filter DocumentFilter, sort Sort, page Page) ([]Document, int, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, bool, error)
	CountByStatus(ctx context.Context) (map[DocumentStatus]int, error)
	VectorSearch(ctx context.Context, queryVec []float32, queryText string, topK int, mode SearchMode, alpha float64, filters SearchFilters) ([]SearchResult, error)
	UpsertMetrics(ctx context.Context, m ProcessingMetrics) error

	ProfileStore
	AnalyticsStore
}

// DocumentStatusFields carries the optional field mutations bundled with a status CAS update.
type DocumentStatusFields struct {
	ProcessedContent *string
	FailReason       *string
	FormatCategory   *FormatCategory
	RetryCountDelta  int
	IsActive         *bool
}

// ProfileStore is the Store's profile sub-surface (spec.md §4.4).
type ProfileStore interface {
	CreateProfile(ctx context.Context, p ProcessingProfile) (ProcessingProfile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (ProcessingProfile, bool, error)
	GetProfileByName(ctx context.Context, name string) (ProcessingProfile, bool, error)
	GetActiveProfile(ctx context.Context) (ProcessingProfile, bool, error)
	ListProfiles(ctx context.Context, includeArchived bool) ([]ProcessingProfile, error)
	ActivateProfile(ctx context.Context, id uuid.UUID) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
	CountDocumentsForProfile(ctx context.Context, id uuid.UUID) (int, error)
}

// AnalyticsStore backs the Admin/Analytics surface (spec.md §4.8).
type AnalyticsStore interface {
	AnalyticsOverview(ctx context.Context) (AnalyticsOverview, error)
	AnalyticsProcessing(ctx context.Context) (ProcessingAverages, error)
	AnalyticsQuality(ctx context.Context) (QualityAverages, error)
	AnalyticsFormatDistribution(ctx context.Context) (map[string]int, error)
	ListChunksForDocument(ctx context.Context, documentID uuid.UUID) ([]Chunk, error)
}

// AnalyticsOverview summarizes document counts.
type AnalyticsOverview struct {
	TotalDocuments int
	ByStatus       map[DocumentStatus]int
	TotalChunks    int
}

// ProcessingAverages summarizes stage timings across completed documents.
type ProcessingAverages struct {
	AvgConversionMs time.Duration
	AvgChunkingMs   time.Duration
	AvgEmbeddingMs  time.Duration
	AvgTotalMs      time.Duration
	AvgQueueMs      time.Duration
}

// QualityAverages summarizes chunk quality across the corpus.
type QualityAverages struct {
	AvgQualityScore float64
	FlagCounts      map[string]int
	OversizedRate   float64
}

// EventBus is the in-process typed pub/sub (spec.md §4.2).
type EventBus interface {
	Publish(evt Event)
	Subscribe() (id uuid.UUID, ch <-chan Event, unsubscribe func())
}

// JobQueue is the durable FIFO dispatching heavy-lane jobs (spec.md §4.3).
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	SetHandler(handler JobHandler)
	Close() error
}

// Job is a heavy-lane unit of work.
type Job struct {
	ID                uuid.UUID
	DocumentID        uuid.UUID
	StoragePath        string
	Format            string
	SnapshotProfileID uuid.UUID
	RetryCount        int
}

// JobHandler processes a dispatched Job; returning an error triggers retry/dead-letter handling.
type JobHandler func(ctx context.Context, job Job) error

// BlobStore is the content-addressed raw-file store (spec.md §6 persisted state).
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (path string, err error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Chunker is the external collaborator turning processed text into chunk tuples (spec.md §1, out of scope as a black box).
type Chunker interface {
	Chunk(ctx context.Context, content string, params map[string]any) ([]ChunkInput, error)
}

// Embedder is the external collaborator mapping text to a fixed-dimension dense vector (spec.md §1).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Converter is the external collaborator producing processed markdown from raw bytes for fast-lane formats.
type Converter interface {
	Convert(ctx context.Context, format string, data []byte) (markdown string, err error)
}
