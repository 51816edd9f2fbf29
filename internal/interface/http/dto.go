package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// documentDTO is the wire shape for a Document (spec.md §6).
type documentDTO struct {
	ID                uuid.UUID              `json:"id"`
	Filename          string                 `json:"filename"`
	MIME              string                 `json:"mime"`
	ByteSize          int64                  `json:"byteSize"`
	Format            string                 `json:"format"`
	FormatCategory    *string                `json:"formatCategory,omitempty"`
	ContentHash       string                 `json:"contentHash"`
	Source            ingest.DocumentSource  `json:"sourceType"`
	Status            ingest.DocumentStatus  `json:"status"`
	IsActive          bool                   `json:"isActive"`
	ConnectionState    ingest.ConnectionState `json:"connectionState"`
	SnapshotProfileID uuid.UUID              `json:"snapshotProfileId"`
	FailReason        *string                `json:"failReason,omitempty"`
	RetryCount        int                    `json:"retryCount"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

func toDocumentDTO(d ingest.Document) documentDTO {
	var category *string
	if d.FormatCategory != nil {
		s := string(*d.FormatCategory)
		category = &s
	}
	return documentDTO{
		ID:                d.ID,
		Filename:          d.Filename,
		MIME:              d.MIME,
		ByteSize:          d.ByteSize,
		Format:            d.Format,
		FormatCategory:    category,
		ContentHash:       d.ContentHash,
		Source:            d.Source,
		Status:            d.Status,
		IsActive:          d.IsActive,
		ConnectionState:   d.ConnectionState,
		SnapshotProfileID: d.SnapshotProfileID,
		FailReason:        d.FailReason,
		RetryCount:        d.RetryCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// chunkDTO is the wire shape for a Chunk.
type chunkDTO struct {
	ID           uuid.UUID `json:"id"`
	Index        int       `json:"index"`
	Content      string    `json:"content"`
	Heading      *string   `json:"heading,omitempty"`
	Breadcrumbs  []string  `json:"breadcrumbs,omitempty"`
	QualityScore float64   `json:"qualityScore"`
	QualityFlags []string  `json:"qualityFlags,omitempty"`
	ChunkType    *string   `json:"chunkType,omitempty"`
	TokenCount   int       `json:"tokenCount"`
}

func toChunkDTO(c ingest.Chunk) chunkDTO {
	return chunkDTO{
		ID:           c.ID,
		Index:        c.Index,
		Content:      c.Content,
		Heading:      c.Heading,
		Breadcrumbs:  c.Breadcrumbs,
		QualityScore: c.QualityScore,
		QualityFlags: c.QualityFlags,
		ChunkType:    c.ChunkType,
		TokenCount:   c.TokenCount,
	}
}

// profileDTO is the wire shape for a ProcessingProfile.
type profileDTO struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	ConversionParams   map[string]any `json:"conversionParams,omitempty"`
	ChunkingParams     map[string]any `json:"chunkingParams,omitempty"`
	QualityParams      ingest.QualityParams `json:"qualityParams"`
	EmbeddingDescriptor string        `json:"embeddingDescriptor"`
	IsDefault          bool           `json:"isDefault"`
	IsActive           bool           `json:"isActive"`
	IsArchived         bool           `json:"isArchived"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func toProfileDTO(p ingest.ProcessingProfile) profileDTO {
	return profileDTO{
		ID:                  p.ID,
		Name:                p.Name,
		ConversionParams:    p.ConversionParams,
		ChunkingParams:      p.ChunkingParams,
		QualityParams:       p.QualityParams,
		EmbeddingDescriptor: p.EmbeddingDescriptor,
		IsDefault:           p.IsDefault,
		IsActive:            p.IsActive,
		IsArchived:          p.IsArchived,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// searchResultDTO is one scored retrieval hit on the wire.
type searchResultDTO struct {
	ChunkID      uuid.UUID      `json:"chunkId"`
	DocumentID   uuid.UUID      `json:"documentId"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Score        float64        `json:"score"`
	VectorScore  *float64       `json:"vectorScore,omitempty"`
	KeywordScore *float64       `json:"keywordScore,omitempty"`
}

func toSearchResultDTO(r ingest.SearchResult) searchResultDTO {
	return searchResultDTO{
		ChunkID:      r.ChunkID,
		DocumentID:   r.DocumentID,
		Content:      r.Content,
		Metadata:     r.Metadata,
		Score:        r.Score,
		VectorScore:  r.VectorScore,
		KeywordScore: r.KeywordScore,
	}
}

// --- request payloads ---

type queryPayload struct {
	Query   string              `json:"query"`
	TopK    int                 `json:"topK"`
	Mode    ingest.SearchMode   `json:"mode"`
	Alpha   *float64            `json:"alpha"`
	Filters searchFilterPayload `json:"filters"`
}

type searchFilterPayload struct {
	BreadcrumbsContain []string `json:"breadcrumbsContain"`
	MinQualityScore    *float64 `json:"minQualityScore"`
	ChunkTypes         []string `json:"chunkTypes"`
}

type availabilityPayload struct {
	IsActive bool `json:"isActive"`
}

type bulkAvailabilityPayload struct {
	DocumentIDs []string `json:"documentIds"`
	IsActive    bool     `json:"isActive"`
}

type bulkDeletePayload struct {
	DocumentIDs []string `json:"documentIds"`
}

type createProfilePayload struct {
	Name                string               `json:"name"`
	ConversionParams    map[string]any       `json:"conversionParams"`
	ChunkingParams      map[string]any       `json:"chunkingParams"`
	QualityParams       ingest.QualityParams `json:"qualityParams"`
	EmbeddingDescriptor string               `json:"embeddingDescriptor"`
}

type deleteProfilePayload struct {
	Confirm bool `json:"confirm"`
}

type callbackPayload struct {
	DocumentID uuid.UUID               `json:"documentId"`
	Success    bool                    `json:"success"`
	Result     *callbackResultPayload  `json:"result,omitempty"`
	Error      *callbackErrorPayload   `json:"error,omitempty"`
}

type callbackResultPayload struct {
	ProcessedContent string                   `json:"processedContent"`
	Chunks           []callbackChunkPayload   `json:"chunks"`
	FormatCategory   ingest.FormatCategory    `json:"formatCategory"`
	PageCount        int                      `json:"pageCount"`
	OCRApplied       bool                     `json:"ocrApplied"`
	ProcessingTimeMs int64                    `json:"processingTimeMs"`
	Metrics          *callbackMetricsPayload  `json:"metrics,omitempty"`
}

type callbackChunkPayload struct {
	Content   string           `json:"content"`
	Index     int              `json:"index"`
	Embedding []float32        `json:"embedding"`
	Metadata  callbackChunkMeta `json:"metadata"`
}

type callbackChunkMeta struct {
	CharStart    *int              `json:"charStart,omitempty"`
	CharEnd      *int              `json:"charEnd,omitempty"`
	Heading      *string           `json:"heading,omitempty"`
	Location     *ingest.Location  `json:"location,omitempty"`
	Breadcrumbs  []string          `json:"breadcrumbs,omitempty"`
	TokenCount   int               `json:"tokenCount,omitempty"`
	QualityScore *float64          `json:"qualityScore,omitempty"`
	QualityFlags []string          `json:"qualityFlags,omitempty"`
	ChunkType    *string           `json:"chunkType,omitempty"`
	Completeness *string           `json:"completeness,omitempty"`
	HasTitle     bool              `json:"hasTitle,omitempty"`
}

type callbackMetricsPayload struct {
	ConversionTimeMs  int64          `json:"conversionTimeMs"`
	ChunkingTimeMs    int64          `json:"chunkingTimeMs"`
	EmbeddingTimeMs   int64          `json:"embeddingTimeMs"`
	TotalTimeMs       int64          `json:"totalTimeMs"`
	StartedAt         time.Time      `json:"startedAt"`
	CompletedAt       time.Time      `json:"completedAt"`
	RawSizeBytes      int64          `json:"rawSizeBytes"`
	MarkdownSizeChars int64          `json:"markdownSizeChars"`
	TotalChunks       int            `json:"totalChunks"`
	AvgChunkSize      float64        `json:"avgChunkSize"`
	OversizedChunks   int            `json:"oversizedChunks"`
	AvgQualityScore   float64        `json:"avgQualityScore"`
	QualityFlags      map[string]int `json:"qualityFlags"`
	TotalTokens       int64          `json:"totalTokens"`
}

type callbackErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p callbackPayload) toCallbackInput() ingest.CallbackInput {
	in := ingest.CallbackInput{DocumentID: p.DocumentID, Success: p.Success}
	if p.Error != nil {
		in.Error = &ingest.CallbackError{Code: p.Error.Code, Message: p.Error.Message}
	}
	if p.Result != nil {
		chunks := make([]ingest.ChunkInput, 0, len(p.Result.Chunks))
		for _, c := range p.Result.Chunks {
			chunks = append(chunks, ingest.ChunkInput{
				Content:      c.Content,
				Index:        c.Index,
				Embedding:    c.Embedding,
				CharStart:    c.Metadata.CharStart,
				CharEnd:      c.Metadata.CharEnd,
				Heading:      c.Metadata.Heading,
				Location:     c.Metadata.Location,
				Breadcrumbs:  c.Metadata.Breadcrumbs,
				TokenCount:   c.Metadata.TokenCount,
				QualityScore: c.Metadata.QualityScore,
				QualityFlags: c.Metadata.QualityFlags,
				ChunkType:    c.Metadata.ChunkType,
				Completeness: c.Metadata.Completeness,
				HasTitle:     c.Metadata.HasTitle,
			})
		}
		result := &ingest.CallbackResult{
			ProcessedContent: p.Result.ProcessedContent,
			Chunks:           chunks,
			FormatCategory:   p.Result.FormatCategory,
			PageCount:        p.Result.PageCount,
			OCRApplied:       p.Result.OCRApplied,
			ProcessingTimeMs: p.Result.ProcessingTimeMs,
		}
		if p.Result.Metrics != nil {
			m := p.Result.Metrics
			result.Metrics = &ingest.CallbackMetrics{
				ConversionTimeMs:  m.ConversionTimeMs,
				ChunkingTimeMs:    m.ChunkingTimeMs,
				EmbeddingTimeMs:   m.EmbeddingTimeMs,
				TotalTimeMs:       m.TotalTimeMs,
				StartedAt:         m.StartedAt,
				CompletedAt:       m.CompletedAt,
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
		in.Result = result
	}
	return in
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
