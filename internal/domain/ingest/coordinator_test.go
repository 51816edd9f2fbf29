package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]Document
	hashKey  map[string]uuid.UUID
	chunks   map[uuid.UUID][]Chunk
	metrics  map[uuid.UUID]ProcessingMetrics
	profiles map[uuid.UUID]ProcessingProfile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[uuid.UUID]Document),
		hashKey:  make(map[string]uuid.UUID),
		chunks:   make(map[uuid.UUID][]Chunk),
		metrics:  make(map[uuid.UUID]ProcessingMetrics),
		profiles: make(map[uuid.UUID]ProcessingProfile),
	}
}

func (s *fakeStore) CreateDocument(_ context.Context, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.ContentHash + "|" + string(doc.Source)
	if _, exists := s.hashKey[key]; exists {
		return Document{}, apperrors.Wrap("DUPLICATE_FILE", "a document with this content already exists", nil)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	s.docs[doc.ID] = doc
	s.hashKey[key] = doc.ID
	return doc, nil
}

func (s *fakeStore) UpdateDocumentStatus(_ context.Context, id uuid.UUID, from []DocumentStatus, to DocumentStatus, fields DocumentStatusFields) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, apperrors.Wrap("document_not_found", "document not found", nil)
	}
	if len(from) > 0 {
		allowed := false
		for _, f := range from {
			if f == doc.Status {
				allowed = true
				break
			}
		}
		if !allowed {
			return Document{}, apperrors.Wrap("cas_mismatch", "status mismatch", nil)
		}
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
	s.docs[id] = doc
	return doc, nil
}

func (s *fakeStore) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return apperrors.Wrap("document_not_found", "document not found", nil)
	}
	s.chunks[documentID] = chunks
	return nil
}

func (s *fakeStore) DeleteDocumentCascade(_ context.Context, id uuid.UUID) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, apperrors.Wrap("document_not_found", "document not found", nil)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	delete(s.metrics, id)
	delete(s.hashKey, doc.ContentHash+"|"+string(doc.Source))
	return doc.StoragePath, nil
}

func (s *fakeStore) DeleteProfileCascade(_ context.Context, profileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profileID)
	return nil
}

func (s *fakeStore) ListDocuments(_ context.Context, _ DocumentFilter, _ Sort, _ Page) ([]Document, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok, nil
}

func (s *fakeStore) CountByStatus(_ context.Context) (map[DocumentStatus]int, error) { return nil, nil }

func (s *fakeStore) VectorSearch(_ context.Context, _ []float32, _ string, _ int, _ SearchMode, _ float64, _ SearchFilters) ([]SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) UpsertMetrics(_ context.Context, m ProcessingMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.DocumentID] = m
	return nil
}

func (s *fakeStore) CreateProfile(_ context.Context, p ProcessingProfile) (ProcessingProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.profiles[p.ID] = p
	return p, nil
}

func (s *fakeStore) GetProfile(_ context.Context, id uuid.UUID) (ProcessingProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	return p, ok, nil
}

func (s *fakeStore) GetProfileByName(_ context.Context, _ string) (ProcessingProfile, bool, error) {
	return ProcessingProfile{}, false, nil
}

func (s *fakeStore) GetActiveProfile(_ context.Context) (ProcessingProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.IsActive {
			return p, true, nil
		}
	}
	return ProcessingProfile{}, false, nil
}

func (s *fakeStore) ListProfiles(_ context.Context, _ bool) ([]ProcessingProfile, error) { return nil, nil }
func (s *fakeStore) ActivateProfile(_ context.Context, _ uuid.UUID) error                { return nil }
func (s *fakeStore) SetArchived(_ context.Context, _ uuid.UUID, _ bool) error            { return nil }
func (s *fakeStore) CountDocumentsForProfile(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, doc := range s.docs {
		if doc.SnapshotProfileID == id {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) AnalyticsOverview(_ context.Context) (AnalyticsOverview, error) {
	return AnalyticsOverview{}, nil
}
func (s *fakeStore) AnalyticsProcessing(_ context.Context) (ProcessingAverages, error) {
	return ProcessingAverages{}, nil
}
func (s *fakeStore) AnalyticsQuality(_ context.Context) (QualityAverages, error) {
	return QualityAverages{}, nil
}
func (s *fakeStore) AnalyticsFormatDistribution(_ context.Context) (map[string]int, error) {
	return nil, nil
}
func (s *fakeStore) ListChunksForDocument(_ context.Context, documentID uuid.UUID) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[documentID], nil
}

var _ Store = (*fakeStore)(nil)

type fakeBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *fakeBus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}
func (b *fakeBus) Subscribe() (uuid.UUID, <-chan Event, func()) {
	return uuid.New(), make(chan Event), func() {}
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}
func (q *fakeQueue) SetHandler(_ JobHandler) {}
func (q *fakeQueue) Close() error            { return nil }

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{blobs: make(map[string][]byte)} }

func (b *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	return key, nil
}
func (b *fakeBlobs) Get(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	if !ok {
		return nil, apperrors.Wrap("not_found", "blob not found", nil)
	}
	return data, nil
}
func (b *fakeBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, path)
	return nil
}

type fakeChunker struct{ err error }

func (c *fakeChunker) Chunk(_ context.Context, content string, _ map[string]any) ([]ChunkInput, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []ChunkInput{{Content: content, Index: 0}}, nil
}

type fakeEmbedder struct{ err error }

func (e *fakeEmbedder) Dimension() int { return 4 }
func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}

type fakeConverter struct{ err error }

func (c *fakeConverter) Convert(_ context.Context, _ string, data []byte) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return string(data), nil
}

// --- test harness ---

type harness struct {
	store       *fakeStore
	bus         *fakeBus
	queue       *fakeQueue
	blobs       *fakeBlobs
	chunker     *fakeChunker
	embedder    *fakeEmbedder
	converter   *fakeConverter
	profileID   uuid.UUID
	coordinator *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	profile := ProcessingProfile{ID: uuid.New(), Name: "default", IsDefault: true, IsActive: true, QualityParams: DefaultQualityParams()}
	store.profiles[profile.ID] = profile

	bus := &fakeBus{}
	queue := &fakeQueue{}
	blobs := newFakeBlobs()
	chunker := &fakeChunker{}
	embedder := &fakeEmbedder{}
	converter := &fakeConverter{}
	registry := NewProfileRegistry(store, bus, 0, testLogger())

	cfg := DefaultCoordinatorConfig()
	coord := NewCoordinator(cfg, store, bus, queue, blobs, chunker, embedder, converter, registry, testLogger())
	return &harness{store: store, bus: bus, queue: queue, blobs: blobs, chunker: chunker, embedder: embedder, converter: converter, profileID: profile.ID, coordinator: coord}
}

func TestUploadFastLaneHappyPath(t *testing.T) {
	h := newHarness(t)
	content := []byte("this is plenty of real content to pass the quality gate easily")

	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "notes.md", Content: content, MIME: "text/markdown", Format: "MD"})
	require.NoError(t, err)
	require.Equal(t, DocumentCompleted, doc.Status)
	require.NotNil(t, doc.ProcessedContent)
	require.Equal(t, string(content), *doc.ProcessedContent)
	require.Empty(t, h.queue.jobs, "fast-lane documents must never reach the heavy-lane queue")

	chunks, _ := h.store.ListChunksForDocument(context.Background(), doc.ID)
	require.Len(t, chunks, 1)
}

func TestUploadHeavyLaneEnqueuesAndLeavesDocumentProcessing(t *testing.T) {
	h := newHarness(t)
	content := []byte("%PDF-1.4 fake pdf bytes")

	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: content, MIME: "application/pdf", Format: "PDF"})
	require.NoError(t, err)
	require.Equal(t, DocumentProcessing, doc.Status)
	require.Len(t, h.queue.jobs, 1)
	require.Equal(t, doc.ID, h.queue.jobs[0].DocumentID)
}

func TestUploadDuplicateContentIsRejected(t *testing.T) {
	h := newHarness(t)
	content := []byte("identical bytes across both uploads for dedup testing")

	_, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "a.md", Content: content, Format: "MD"})
	require.NoError(t, err)

	_, err = h.coordinator.Upload(context.Background(), UploadRequest{Filename: "b.md", Content: content, Format: "MD"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "DUPLICATE_FILE"))
}

func TestUploadRejectsDisallowedFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "x.exe", Content: []byte("data"), Format: "EXE"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_FORMAT"))
}

func TestUploadRejectsOversizedManualFile(t *testing.T) {
	h := newHarness(t)
	h.coordinator.cfg.MaxManualBytes = 4
	_, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "big.md", Content: []byte("more than four bytes"), Format: "MD"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "FILE_TOO_LARGE"))
}

func TestUploadFastLaneRejectedByQualityGate(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "short.txt", Content: []byte("hi"), Format: "TXT"})
	require.NoError(t, err)
	require.Equal(t, DocumentFailed, doc.Status)
	require.NotNil(t, doc.FailReason)
	require.Equal(t, "TEXT_TOO_SHORT", *doc.FailReason)
}

func TestApplyCallbackIsIdempotent(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: []byte("%PDF-1.4 stand-in heavy lane bytes"), Format: "PDF"})
	require.NoError(t, err)

	in := CallbackInput{
		DocumentID: doc.ID,
		Success:    true,
		Result: &CallbackResult{
			ProcessedContent: "a sufficiently long converted markdown body for the quality gate",
			Chunks:           []ChunkInput{{Content: "chunk one", Index: 0}, {Content: "chunk two", Index: 1}},
			FormatCategory:   FormatDocument,
		},
	}
	require.NoError(t, h.coordinator.ApplyCallback(context.Background(), in))
	first, _, _ := h.store.GetDocument(context.Background(), doc.ID)
	require.Equal(t, DocumentCompleted, first.Status)
	chunksAfterFirst, _ := h.store.ListChunksForDocument(context.Background(), doc.ID)
	require.Len(t, chunksAfterFirst, 2)

	// A redelivered callback must not error and must not duplicate chunks.
	require.NoError(t, h.coordinator.ApplyCallback(context.Background(), in))
	second, _, _ := h.store.GetDocument(context.Background(), doc.ID)
	require.Equal(t, DocumentCompleted, second.Status)
	chunksAfterSecond, _ := h.store.ListChunksForDocument(context.Background(), doc.ID)
	require.Len(t, chunksAfterSecond, 2)
}

func TestApplyCallbackFailureTransitionsToFailed(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: []byte("%PDF-1.4 bytes"), Format: "PDF"})
	require.NoError(t, err)

	err = h.coordinator.ApplyCallback(context.Background(), CallbackInput{
		DocumentID: doc.ID,
		Success:    false,
		Error:      &CallbackError{Code: "CORRUPT_FILE", Message: "could not parse"},
	})
	require.NoError(t, err)

	failed, _, _ := h.store.GetDocument(context.Background(), doc.ID)
	require.Equal(t, DocumentFailed, failed.Status)
	require.Equal(t, "CORRUPT_FILE", *failed.FailReason)
}

func TestSetAvailabilityRejectsNonCompletedDocument(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: []byte("%PDF-1.4 bytes"), Format: "PDF"})
	require.NoError(t, err)
	require.Equal(t, DocumentProcessing, doc.Status)

	_, err = h.coordinator.SetAvailability(context.Background(), doc.ID, false)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestDeleteRejectsWhileProcessing(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: []byte("%PDF-1.4 bytes"), Format: "PDF"})
	require.NoError(t, err)

	err = h.coordinator.Delete(context.Background(), doc.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestRetryReDispatchesFailedDocument(t *testing.T) {
	h := newHarness(t)
	doc, err := h.coordinator.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Content: []byte("%PDF-1.4 bytes"), Format: "PDF"})
	require.NoError(t, err)
	require.NoError(t, h.coordinator.ApplyCallback(context.Background(), CallbackInput{
		DocumentID: doc.ID,
		Success:    false,
		Error:      &CallbackError{Code: "CONVERSION_FAILED", Message: "boom"},
	}))

	retried, err := h.coordinator.Retry(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, DocumentProcessing, retried.Status)
	require.Equal(t, 1, retried.RetryCount)
	require.Len(t, h.queue.jobs, 2, "retry re-enqueues a second heavy-lane job")
}

func TestBulkDeleteRespectsCap(t *testing.T) {
	h := newHarness(t)
	h.coordinator.cfg.BulkDeleteCap = 1
	_, _, err := h.coordinator.BulkDelete(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))
}
