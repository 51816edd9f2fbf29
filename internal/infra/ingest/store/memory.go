package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/namtroi/ragbase/internal/domain/ingest"
	apperrors "github.com/namtroi/ragbase/pkg/errors"
	"github.com/namtroi/ragbase/pkg/util"
)

// Memory is an in-process Store used when no Postgres DSN is configured,
// grounded on the teacher's repo/memory.go fallback pattern (the teacher's
// O(n^2) bubble sort there is not imitated; sort.Slice replaces it).
type Memory struct {
	mu       sync.RWMutex
	docs     map[uuid.UUID]ingest.Document
	hashKey  map[string]uuid.UUID // "hash|source" -> documentID
	chunks   map[uuid.UUID][]ingest.Chunk
	metrics  map[uuid.UUID]ingest.ProcessingMetrics
	profiles map[uuid.UUID]ingest.ProcessingProfile
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[uuid.UUID]ingest.Document),
		hashKey:  make(map[string]uuid.UUID),
		chunks:   make(map[uuid.UUID][]ingest.Chunk),
		metrics:  make(map[uuid.UUID]ingest.ProcessingMetrics),
		profiles: make(map[uuid.UUID]ingest.ProcessingProfile),
	}
}

func hashSourceKey(hash string, source ingest.DocumentSource) string {
	return hash + "|" + string(source)
}

func (m *Memory) CreateDocument(_ context.Context, doc ingest.Document) (ingest.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hashSourceKey(doc.ContentHash, doc.Source)
	if _, exists := m.hashKey[key]; exists {
		return ingest.Document{}, apperrors.Wrap("DUPLICATE_FILE", "a document with this content already exists", nil)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := util.NowUTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = doc
	m.hashKey[key] = doc.ID
	return doc, nil
}

func (m *Memory) UpdateDocumentStatus(_ context.Context, id uuid.UUID, from []ingest.DocumentStatus, to ingest.DocumentStatus, fields ingest.DocumentStatusFields) (ingest.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ingest.Document{}, apperrors.Wrap("document_not_found", "document not found", nil)
	}
	if !statusAllowed(doc.Status, from) {
		return ingest.Document{}, apperrors.Wrap("cas_mismatch", fmt.Sprintf("document %s is in status %s, expected one of %v", id, doc.Status, from), nil)
	}
	doc.Status = to
	if fields.ProcessedContent != nil {
		doc.ProcessedContent = fields.ProcessedContent
	}
	if fields.FailReason != nil {
		doc.FailReason = fields.FailReason
	}
	if fields.FormatCategory != nil {
		doc.FormatCategory = fields.FormatCategory
	}
	if fields.IsActive != nil {
		doc.IsActive = *fields.IsActive
	}
	doc.RetryCount += fields.RetryCountDelta
	doc.UpdatedAt = util.NowUTC()
	m.docs[id] = doc
	return doc, nil
}

func statusAllowed(current ingest.DocumentStatus, from []ingest.DocumentStatus) bool {
	if len(from) == 0 {
		return true
	}
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func (m *Memory) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []ingest.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return apperrors.Wrap("document_not_found", "document not found", nil)
	}
	replacement := make([]ingest.Chunk, len(chunks))
	copy(replacement, chunks)
	for i := range replacement {
		replacement[i].DocumentID = documentID
		if replacement[i].ID == uuid.Nil {
			replacement[i].ID = uuid.New()
		}
	}
	m.chunks[documentID] = replacement
	return nil
}

func (m *Memory) DeleteDocumentCascade(_ context.Context, id uuid.UUID) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, apperrors.Wrap("document_not_found", "document not found", nil)
	}
	delete(m.chunks, id)
	delete(m.docs, id)
	delete(m.metrics, id)
	delete(m.hashKey, hashSourceKey(doc.ContentHash, doc.Source))
	return doc.StoragePath, nil
}

func (m *Memory) DeleteProfileCascade(_ context.Context, profileID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range m.docs {
		if doc.SnapshotProfileID == profileID {
			delete(m.chunks, id)
			delete(m.metrics, id)
			delete(m.hashKey, hashSourceKey(doc.ContentHash, doc.Source))
			delete(m.docs, id)
		}
	}
	delete(m.profiles, profileID)
	return nil
}

func (m *Memory) ListDocuments(_ context.Context, filter ingest.DocumentFilter, sortBy ingest.Sort, page ingest.Page) ([]ingest.Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ingest.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	sortDocuments(out, sortBy)

	total := len(out)
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func matchesFilter(doc ingest.Document, f ingest.DocumentFilter) bool {
	if f.Status != nil && doc.Status != *f.Status {
		return false
	}
	if f.IsActive != nil && doc.IsActive != *f.IsActive {
		return false
	}
	if f.ConnectionState != nil && doc.ConnectionState != *f.ConnectionState {
		return false
	}
	if f.Source != nil && doc.Source != *f.Source {
		return false
	}
	if f.Format != nil && doc.Format != *f.Format {
		return false
	}
	if f.FormatCategory != nil && (doc.FormatCategory == nil || *doc.FormatCategory != *f.FormatCategory) {
		return false
	}
	if f.Search != nil && *f.Search != "" && !strings.Contains(strings.ToLower(doc.Filename), strings.ToLower(*f.Search)) {
		return false
	}
	return true
}

func sortDocuments(docs []ingest.Document, s ingest.Sort) {
	field := s.Field
	if field == "" {
		field = "createdAt"
	}
	sort.Slice(docs, func(i, j int) bool {
		var less bool
		switch field {
		case "filename":
			less = docs[i].Filename < docs[j].Filename
		case "fileSize":
			less = docs[i].ByteSize < docs[j].ByteSize
		default:
			less = docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		if s.Desc {
			return !less
		}
		return less
	})
}

func (m *Memory) GetDocument(_ context.Context, id uuid.UUID) (ingest.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[ingest.DocumentStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[ingest.DocumentStatus]int)
	for _, doc := range m.docs {
		out[doc.Status]++
	}
	return out, nil
}

func (m *Memory) VectorSearch(_ context.Context, queryVec []float32, queryText string, topK int, mode ingest.SearchMode, alpha float64, filters ingest.SearchFilters) ([]ingest.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]ingest.SearchResult, 0)
	for docID, chunks := range m.chunks {
		doc, ok := m.docs[docID]
		if !ok || doc.Status != ingest.DocumentCompleted || !doc.IsActive {
			continue
		}
		for _, chunk := range chunks {
			if !chunkMatchesFilters(chunk, filters) {
				continue
			}
			vScore := cosineSimilarity(queryVec, chunk.Embedding)
			var score float64
			var vPtr, kPtr *float64
			switch mode {
			case ingest.SearchHybrid:
				kScore := keywordScore(chunk.Content, queryText)
				score = alpha*vScore + (1-alpha)*kScore
				vPtr, kPtr = &vScore, &kScore
			default:
				score = vScore
				vPtr = &vScore
			}
			results = append(results, ingest.SearchResult{
				ChunkID:      chunk.ID,
				DocumentID:   docID,
				Content:      chunk.Content,
				Metadata:     map[string]any{"index": chunk.Index, "breadcrumbs": chunk.Breadcrumbs},
				Score:        score,
				VectorScore:  vPtr,
				KeywordScore: kPtr,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func chunkMatchesFilters(c ingest.Chunk, f ingest.SearchFilters) bool {
	if f.MinQualityScore != nil && c.QualityScore < *f.MinQualityScore {
		return false
	}
	if len(f.ChunkTypes) > 0 {
		if c.ChunkType == nil {
			return false
		}
		found := false
		for _, t := range f.ChunkTypes {
			if t == *c.ChunkType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range f.BreadcrumbsContain {
		found := false
		for _, have := range c.Breadcrumbs {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var wordSplitter = regexp.MustCompile(`[a-zA-Z0-9]+`)

// keywordScore is a simple term-overlap ratio standing in for Postgres'
// ts_rank when running the hybrid-mode query against the in-memory store.
func keywordScore(content, query string) float64 {
	queryTerms := wordSplitter.FindAllString(strings.ToLower(query), -1)
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := make(map[string]bool)
	for _, w := range wordSplitter.FindAllString(strings.ToLower(content), -1) {
		contentTerms[w] = true
	}
	hits := 0
	for _, t := range queryTerms {
		if contentTerms[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		magA += float64(a[i] * a[i])
		magB += float64(b[i] * b[i])
	}
	den := math.Sqrt(magA) * math.Sqrt(magB)
	if den == 0 {
		return 0
	}
	return dot / den
}

func (m *Memory) UpsertMetrics(_ context.Context, metrics ingest.ProcessingMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metrics.DocumentID] = metrics
	return nil
}

// --- Profile sub-surface ---

func (m *Memory) CreateProfile(_ context.Context, p ingest.ProcessingProfile) (ingest.ProcessingProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.Name == p.Name {
			return ingest.ProcessingProfile{}, apperrors.Wrap("duplicate_profile_name", "a profile with this name already exists", nil)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := util.NowUTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = p
	return p, nil
}

func (m *Memory) GetProfile(_ context.Context, id uuid.UUID) (ingest.ProcessingProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *Memory) GetProfileByName(_ context.Context, name string) (ingest.ProcessingProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Name == name {
			return p, true, nil
		}
	}
	return ingest.ProcessingProfile{}, false, nil
}

func (m *Memory) GetActiveProfile(_ context.Context) (ingest.ProcessingProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.IsActive {
			return p, true, nil
		}
	}
	return ingest.ProcessingProfile{}, false, nil
}

func (m *Memory) ListProfiles(_ context.Context, includeArchived bool) ([]ingest.ProcessingProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ingest.ProcessingProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if !includeArchived && p.IsArchived {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActivateProfile(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.profiles[id]
	if !ok {
		return apperrors.Wrap("profile_not_found", "profile not found", nil)
	}
	if target.IsArchived {
		return apperrors.Wrap("invalid_status", "cannot activate an archived profile", nil)
	}
	for pid, p := range m.profiles {
		if p.IsActive {
			p.IsActive = false
			m.profiles[pid] = p
		}
	}
	target.IsActive = true
	target.UpdatedAt = util.NowUTC()
	m.profiles[id] = target
	return nil
}

func (m *Memory) SetArchived(_ context.Context, id uuid.UUID, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return apperrors.Wrap("profile_not_found", "profile not found", nil)
	}
	if archived && (p.IsDefault || p.IsActive) {
		return apperrors.Wrap("invalid_status", "cannot archive the default or active profile", nil)
	}
	if !archived && !p.IsArchived {
		return apperrors.Wrap("invalid_status", "profile is not archived", nil)
	}
	p.IsArchived = archived
	p.UpdatedAt = util.NowUTC()
	m.profiles[id] = p
	return nil
}

func (m *Memory) CountDocumentsForProfile(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, doc := range m.docs {
		if doc.SnapshotProfileID == id {
			n++
		}
	}
	return n, nil
}

// --- Analytics sub-surface ---

func (m *Memory) AnalyticsOverview(_ context.Context) (ingest.AnalyticsOverview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	overview := ingest.AnalyticsOverview{ByStatus: make(map[ingest.DocumentStatus]int)}
	for _, doc := range m.docs {
		overview.TotalDocuments++
		overview.ByStatus[doc.Status]++
	}
	for _, chunks := range m.chunks {
		overview.TotalChunks += len(chunks)
	}
	return overview, nil
}

func (m *Memory) AnalyticsProcessing(_ context.Context) (ingest.ProcessingAverages, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sums ingest.ProcessingAverages
	n := len(m.metrics)
	if n == 0 {
		return sums, nil
	}
	var conv, chunking, embed, total, queue time.Duration
	for _, mt := range m.metrics {
		conv += time.Duration(mt.ConversionTimeMs) * time.Millisecond
		chunking += time.Duration(mt.ChunkingTimeMs) * time.Millisecond
		embed += time.Duration(mt.EmbeddingTimeMs) * time.Millisecond
		total += time.Duration(mt.TotalTimeMs) * time.Millisecond
		queue += time.Duration(mt.QueueTimeMs) * time.Millisecond
	}
	return ingest.ProcessingAverages{
		AvgConversionMs: conv / time.Duration(n),
		AvgChunkingMs:   chunking / time.Duration(n),
		AvgEmbeddingMs:  embed / time.Duration(n),
		AvgTotalMs:      total / time.Duration(n),
		AvgQueueMs:      queue / time.Duration(n),
	}, nil
}

func (m *Memory) AnalyticsQuality(_ context.Context) (ingest.QualityAverages, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := ingest.QualityAverages{FlagCounts: make(map[string]int)}
	var total float64
	var count, oversized, chunkTotal int
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			total += c.QualityScore
			count++
			for _, flag := range c.QualityFlags {
				out.FlagCounts[flag]++
			}
			if c.TokenCount > 512 {
				oversized++
			}
			chunkTotal++
		}
	}
	if count > 0 {
		out.AvgQualityScore = total / float64(count)
	}
	if chunkTotal > 0 {
		out.OversizedRate = float64(oversized) / float64(chunkTotal)
	}
	return out, nil
}

func (m *Memory) AnalyticsFormatDistribution(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, doc := range m.docs {
		out[doc.Format]++
	}
	return out, nil
}

func (m *Memory) ListChunksForDocument(_ context.Context, documentID uuid.UUID) ([]ingest.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := m.chunks[documentID]
	out := make([]ingest.Chunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

var _ ingest.Store = (*Memory)(nil)
