package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

type searchStubStore struct {
	*fakeStore
	hybridErr     error
	hybridCalls   int
	semanticCalls int
	results       []SearchResult
}

func (s *searchStubStore) VectorSearch(ctx context.Context, vec []float32, text string, topK int, mode SearchMode, alpha float64, filters SearchFilters) ([]SearchResult, error) {
	if mode == SearchHybrid {
		s.hybridCalls++
		if s.hybridErr != nil {
			return nil, s.hybridErr
		}
		return s.results, nil
	}
	s.semanticCalls++
	return s.results, nil
}

func newSearchStubStore() *searchStubStore {
	return &searchStubStore{fakeStore: newFakeStore()}
}

func floatPtr(v float64) *float64 { return &v }

func TestQueryValidatesBeforeTouchingCollaborators(t *testing.T) {
	store := newSearchStubStore()
	gateway := NewSearchGateway(DefaultSearchConfig(), store, &fakeEmbedder{}, testLogger())

	_, err := gateway.Query(context.Background(), QueryRequest{Query: ""})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))

	_, err = gateway.Query(context.Background(), QueryRequest{Query: "ok", TopK: 500})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))

	_, err = gateway.Query(context.Background(), QueryRequest{Query: "ok", Mode: "bogus"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))

	_, err = gateway.Query(context.Background(), QueryRequest{Query: "ok", Alpha: floatPtr(2)})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "VALIDATION_ERROR"))

	require.Equal(t, 0, store.hybridCalls+store.semanticCalls, "no store call should happen until validation passes")
}

func TestQueryAppliesDefaultsWhenUnset(t *testing.T) {
	store := newSearchStubStore()
	store.results = []SearchResult{{Content: "hit"}}
	gateway := NewSearchGateway(DefaultSearchConfig(), store, &fakeEmbedder{}, testLogger())

	resp, err := gateway.Query(context.Background(), QueryRequest{Query: "hello"})
	require.NoError(t, err)
	require.Equal(t, SearchSemantic, resp.Mode)
	require.Equal(t, DefaultSearchConfig().DefaultAlpha, resp.Alpha)
	require.Len(t, resp.Results, 1)
}

func TestQueryFallsBackToSemanticWhenHybridStoreFails(t *testing.T) {
	store := newSearchStubStore()
	store.hybridErr = errors.New("fts index down")
	store.results = []SearchResult{{Content: "fallback hit"}}
	gateway := NewSearchGateway(DefaultSearchConfig(), store, &fakeEmbedder{}, testLogger())

	resp, err := gateway.Query(context.Background(), QueryRequest{Query: "hello", Mode: SearchHybrid})
	require.NoError(t, err)
	require.Equal(t, SearchSemantic, resp.Mode)
	require.Equal(t, 1, store.hybridCalls)
	require.Equal(t, 1, store.semanticCalls)
	require.Len(t, resp.Results, 1)
}

func TestQueryReturnsSearchUnavailableWhenEmbeddingFails(t *testing.T) {
	store := newSearchStubStore()
	gateway := NewSearchGateway(DefaultSearchConfig(), store, &fakeEmbedder{err: errors.New("embedding outage")}, testLogger())

	_, err := gateway.Query(context.Background(), QueryRequest{Query: "hello"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "SEARCH_UNAVAILABLE"))
}

func TestQueryReturnsSearchUnavailableWhenSemanticStoreFails(t *testing.T) {
	// semantic mode has no fallback: a store failure must surface directly.
	failing := &alwaysFailingStore{fakeStore: newFakeStore()}
	gateway := NewSearchGateway(DefaultSearchConfig(), failing, &fakeEmbedder{}, testLogger())

	_, err := gateway.Query(context.Background(), QueryRequest{Query: "hello"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "SEARCH_UNAVAILABLE"))
}

type alwaysFailingStore struct {
	*fakeStore
}

func (s *alwaysFailingStore) VectorSearch(_ context.Context, _ []float32, _ string, _ int, _ SearchMode, _ float64, _ SearchFilters) ([]SearchResult, error) {
	return nil, errors.New("index unavailable")
}
