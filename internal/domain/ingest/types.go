// Package ingest implements the document ingestion and retrieval core: the
// coordinator state machine, the profile registry, and the search gateway.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// DocumentSource distinguishes manually-uploaded files from externally-synced ones.
type DocumentSource string

const (
	SourceManual   DocumentSource = "MANUAL"
	SourceExternal DocumentSource = "EXTERNAL"
)

// ConnectionState marks whether a document is still linked to its external origin.
type ConnectionState string

const (
	ConnectionStandalone ConnectionState = "STANDALONE"
	ConnectionLinked     ConnectionState = "LINKED"
)

// FormatCategory groups declared formats for callback/metrics purposes.
type FormatCategory string

const (
	FormatDocument     FormatCategory = "DOCUMENT"
	FormatPresentation FormatCategory = "PRESENTATION"
	FormatTabular      FormatCategory = "TABULAR"
)

// Document is the unit of ingestion.
type Document struct {
	ID                uuid.UUID
	Filename          string
	MIME              string
	ByteSize          int64
	Format            string
	ContentHash       string
	Source            DocumentSource
	StoragePath        *string
	ProcessedContent  *string
	FailReason        *string
	RetryCount        int
	IsActive          bool
	ConnectionState   ConnectionState
	SnapshotProfileID uuid.UUID
	Status            DocumentStatus
	FormatCategory    *FormatCategory
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Location describes a chunk's structured position within a source document.
type Location struct {
	Page    *int `json:"page,omitempty"`
	Slide   *int `json:"slide,omitempty"`
	Sheet   *int `json:"sheet,omitempty"`
	Chapter *int `json:"chapter,omitempty"`
}

// Chunk is an addressable retrieval unit belonging to a Document.
type Chunk struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	Index        int
	Content      string
	Embedding    []float32
	CharStart    *int
	CharEnd      *int
	Heading      *string
	Location     *Location
	Breadcrumbs  []string
	QualityScore float64
	QualityFlags []string
	ChunkType    *string
	Completeness *string
	HasTitle     bool
	TokenCount   int
}

// ProcessingProfile is an immutable processing-configuration bundle, versioned by duplication.
type ProcessingProfile struct {
	ID                 uuid.UUID
	Name               string
	ConversionParams   map[string]any
	ChunkingParams     map[string]any
	QualityParams      QualityParams
	EmbeddingDescriptor string
	IsDefault          bool
	IsActive           bool
	IsArchived         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// QualityParams configures the post-conversion quality gate (spec.md §4.5.3a).
type QualityParams struct {
	MinLength     int     `json:"minLength"`
	MaxNoiseRatio float64 `json:"maxNoiseRatio"`
}

// DefaultQualityParams matches the teacher's conservative defaults for the reference chunker.
func DefaultQualityParams() QualityParams {
	return QualityParams{MinLength: 20, MaxNoiseRatio: 0.6}
}

// ProcessingMetrics is one-to-one with a Document at terminal COMPLETED.
type ProcessingMetrics struct {
	DocumentID        uuid.UUID
	ConversionTimeMs  int64
	ChunkingTimeMs    int64
	EmbeddingTimeMs   int64
	TotalTimeMs       int64
	QueueTimeMs       int64
	UserWaitMs        int64
	RawSizeBytes      int64
	MarkdownSizeChars int64
	TotalChunks       int
	AvgChunkSize      float64
	OversizedChunks   int
	AvgQualityScore   float64
	QualityFlags      map[string]int
	TotalTokens       int64
}

// EventType enumerates the tagged Event variants of spec.md §3.
type EventType string

const (
	EventDocumentCreated      EventType = "document:created"
	EventDocumentStatus       EventType = "document:status"
	EventDocumentDeleted      EventType = "document:deleted"
	EventDocumentAvailability EventType = "document:availability"
	EventSyncStart            EventType = "sync:start"
	EventSyncComplete         EventType = "sync:complete"
	EventSyncError            EventType = "sync:error"
	EventBulkCompleted        EventType = "bulk:completed"
)

// Event is the single tagged-union broadcast message carried by the EventBus.
// Only the fields relevant to Type are populated; unused fields stay zero.
type Event struct {
	Type        EventType
	DocumentID  uuid.UUID
	Filename    string
	Status      DocumentStatus
	ChunksCount int
	Error       string
	IsActive    bool
	Updated     int
	Failed      []BulkFailure
}

// BulkFailure reports one document excluded from a bulk operation.
type BulkFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// ChunkInput is the black-box tuple produced by the chunker+embedder collaborators
// (spec.md §1 "out of scope") and by the worker callback (spec.md §6).
type ChunkInput struct {
	Content      string
	Index        int
	Embedding    []float32
	CharStart    *int
	CharEnd      *int
	Heading      *string
	Location     *Location
	Breadcrumbs  []string
	TokenCount   int
	QualityScore *float64
	QualityFlags []string
	ChunkType    *string
	Completeness *string
	HasTitle     bool
}

// CallbackResult carries the worker's reported processing outcome (spec.md §6).
type CallbackResult struct {
	ProcessedContent string
	Chunks           []ChunkInput
	FormatCategory   FormatCategory
	PageCount        int
	OCRApplied       bool
	ProcessingTimeMs int64
	Metrics          *CallbackMetrics
}

// CallbackMetrics is the optional metrics block of the callback contract.
type CallbackMetrics struct {
	ConversionTimeMs  int64
	ChunkingTimeMs    int64
	EmbeddingTimeMs   int64
	TotalTimeMs       int64
	StartedAt         time.Time
	CompletedAt       time.Time
	RawSizeBytes      int64
	MarkdownSizeChars int64
	TotalChunks       int
	AvgChunkSize      float64
	OversizedChunks   int
	AvgQualityScore   float64
	QualityFlags      map[string]int
	TotalTokens       int64
}

// CallbackError is the error half of the callback contract.
type CallbackError struct {
	Code    string
	Message string
}

// SearchMode selects the retrieval strategy for SearchGateway.Query.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchHybrid   SearchMode = "hybrid"
)

// SearchFilters narrows VectorSearch results beyond the mandatory visibility predicate.
type SearchFilters struct {
	BreadcrumbsContain []string
	MinQualityScore    *float64
	ChunkTypes         []string
}

// SearchResult is one scored retrieval hit.
type SearchResult struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	Content      string
	Metadata     map[string]any
	Score        float64
	VectorScore  *float64
	KeywordScore *float64
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Status          *DocumentStatus
	IsActive        *bool
	ConnectionState *ConnectionState
	Source          *DocumentSource
	Format          *string
	FormatCategory  *FormatCategory
	Search          *string
}

// Sort specifies ordering for ListDocuments.
type Sort struct {
	Field string // createdAt|filename|fileSize
	Desc  bool
}

// Page specifies offset pagination for ListDocuments.
type Page struct {
	Limit  int
	Offset int
}
