package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/namtroi/ragbase/internal/domain/ingest"
	"github.com/namtroi/ragbase/internal/infra/config"
	"github.com/namtroi/ragbase/internal/infra/ingest/blobstore"
	"github.com/namtroi/ragbase/internal/infra/ingest/chunker"
	"github.com/namtroi/ragbase/internal/infra/ingest/converter"
	"github.com/namtroi/ragbase/internal/infra/ingest/embedder"
	"github.com/namtroi/ragbase/internal/infra/ingest/eventbus"
	"github.com/namtroi/ragbase/internal/infra/ingest/jobqueue"
	"github.com/namtroi/ragbase/internal/infra/ingest/store"
)

const testAPIKey = "test-api-key"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRouterUnderTest assembles the full ingestion stack against in-memory
// infra (store, eventbus, queue, blobstore, fast-lane chunker/embedder/
// converter) so the router tests exercise real wiring rather than stubs,
// grounded on the teacher's newRouterUnderTest helper shape.
func newRouterUnderTest(t *testing.T, overrides ...func(*config.Config)) *http.Server {
	t.Helper()
	logger := newTestLogger()

	memStore := store.NewMemory()
	bus := eventbus.New(0, logger)
	blobs := blobstore.NewMemory()
	queue := jobqueue.NewMemoryQueue(jobqueue.Config{Concurrency: 1}, logger)

	profiles := ingest.NewProfileRegistry(memStore, bus, 20, logger)
	defaultProfile, err := profiles.Create(context.Background(), ingest.ProcessingProfile{
		Name:                "default",
		QualityParams:       ingest.DefaultQualityParams(),
		EmbeddingDescriptor: "deterministic-test",
		IsDefault:           true,
	})
	require.NoError(t, err)
	require.NoError(t, profiles.Activate(context.Background(), defaultProfile.ID))

	coordinator := ingest.NewCoordinator(
		ingest.DefaultCoordinatorConfig(), memStore, bus, queue, blobs,
		chunker.NewHeading(200), embedder.NewDeterministic(8), converter.New(), profiles, logger,
	)
	search := ingest.NewSearchGateway(ingest.DefaultSearchConfig(), memStore, embedder.NewDeterministic(8), logger)

	handler := NewIngestHandler(coordinator, profiles, search, memStore, bus, logger)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Address:      ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			RateLimit:    config.RateLimitConfig{Enabled: false},
			Retry:        config.RetryConfig{Enabled: false},
		},
		Ingestion: config.IngestionConfig{
			APIKey:            testAPIKey,
			CallbackBodyCapMB: 100,
		},
	}
	for _, override := range overrides {
		override(cfg)
	}
	return NewRouter(cfg, handler)
}

func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestRouter_HealthNoAuthRequired(t *testing.T) {
	server := newRouterUnderTest(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_APIKeyRequired(t *testing.T) {
	server := newRouterUnderTest(t)
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_FastLaneUploadThenQuery(t *testing.T) {
	server := newRouterUnderTest(t)

	body, contentType := multipartUpload(t, "hello.md", "# Hello\n\nWorld paragraph sufficient to pass the quality gate.")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created documentDTO
	require.NoError(t, decodeJSON(rec.Body.Bytes(), &created))
	require.Equal(t, ingest.DocumentCompleted, created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/api/documents/"+created.ID.String(), nil)
	getReq.Header.Set("X-API-Key", testAPIKey)
	getRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	queryReq := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(`{"query":"world"}`))
	queryReq.Header.Set("Content-Type", "application/json")
	queryReq.Header.Set("X-API-Key", testAPIKey)
	queryRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(queryRec, queryReq)
	require.Equal(t, http.StatusOK, queryRec.Code)
}

func TestRouter_QualityGateRejection(t *testing.T) {
	server := newRouterUnderTest(t)

	body, contentType := multipartUpload(t, "short.txt", "hi")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created documentDTO
	require.NoError(t, decodeJSON(rec.Body.Bytes(), &created))
	require.Equal(t, ingest.DocumentFailed, created.Status)
}

func TestRouter_CORSPreflight(t *testing.T) {
	server := newRouterUnderTest(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimitExceeded(t *testing.T) {
	server := newRouterUnderTest(t, func(cfg *config.Config) {
		cfg.HTTP.RateLimit.Enabled = true
		cfg.HTTP.RateLimit.RequestsPerMinute = 1
		cfg.HTTP.RateLimit.Burst = 1
	})

	first := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	first.Header.Set("X-API-Key", testAPIKey)
	firstRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusOK, firstRec.Code)

	second := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	second.Header.Set("X-API-Key", testAPIKey)
	secondRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(secondRec, second)
	require.Equal(t, http.StatusTooManyRequests, secondRec.Code)
}

func TestRouter_CallbackRequiresNoAuth(t *testing.T) {
	server := newRouterUnderTest(t)

	body, contentType := multipartUpload(t, "heavy.pdf", "%PDF-1.4 placeholder")
	uploadReq := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	uploadReq.Header.Set("Content-Type", contentType)
	uploadReq.Header.Set("X-API-Key", testAPIKey)
	uploadRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(uploadRec, uploadReq)
	require.Equal(t, http.StatusCreated, uploadRec.Code)

	var created documentDTO
	require.NoError(t, decodeJSON(uploadRec.Body.Bytes(), &created))
	require.Equal(t, ingest.DocumentPending, created.Status)

	callback := `{"documentId":"` + created.ID.String() + `","success":true,"result":{"processedContent":"body","chunks":[{"content":"a chunk of sufficient length to pass quality gate","index":0,"embedding":[0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8]}],"formatCategory":"DOCUMENT"}}`
	cbReq := httptest.NewRequest(http.MethodPost, "/internal/callback", bytes.NewBufferString(callback))
	cbReq.Header.Set("Content-Type", "application/json")
	cbRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(cbRec, cbReq)
	require.Equal(t, http.StatusOK, cbRec.Code)
}
