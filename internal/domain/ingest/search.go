package ingest

import (
	"context"
	"log/slog"
	"unicode/utf8"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

// SearchConfig bounds query inputs (spec.md §4.6).
type SearchConfig struct {
	DefaultTopK int
	DefaultAlpha float64
}

// DefaultSearchConfig matches spec.md §4.6's stated defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{DefaultTopK: 5, DefaultAlpha: 0.7}
}

// SearchGateway converts query text to a vector, applies visibility filters,
// and executes semantic/hybrid retrieval against the Store (spec.md §4.6).
type SearchGateway struct {
	cfg      SearchConfig
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewSearchGateway constructs a SearchGateway.
func NewSearchGateway(cfg SearchConfig, store Store, embedder Embedder, logger *slog.Logger) *SearchGateway {
	return &SearchGateway{cfg: cfg, store: store, embedder: embedder, logger: logger.With("component", "ingest.search")}
}

// QueryRequest is the inbound search request (spec.md §6 POST /api/query).
type QueryRequest struct {
	Query   string
	TopK    int
	Mode    SearchMode
	Alpha   *float64
	Filters SearchFilters
}

// QueryResponse is the outbound search result set.
type QueryResponse struct {
	Results []SearchResult
	Mode    SearchMode
	Alpha   float64
}

// Query validates input, embeds the query text, and retrieves results
// (spec.md §4.6). Input validation errors precede availability checks.
func (g *SearchGateway) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if n := utf8.RuneCountInString(req.Query); n == 0 || n > 1000 {
		return QueryResponse{}, apperrors.Wrap("VALIDATION_ERROR", "query must be between 1 and 1000 characters", nil)
	}
	topK := req.TopK
	if topK == 0 {
		topK = g.cfg.DefaultTopK
	}
	if topK < 1 || topK > 100 {
		return QueryResponse{}, apperrors.Wrap("VALIDATION_ERROR", "topK must be in [1,100]", nil)
	}
	mode := req.Mode
	if mode == "" {
		mode = SearchSemantic
	}
	if mode != SearchSemantic && mode != SearchHybrid {
		return QueryResponse{}, apperrors.Wrap("VALIDATION_ERROR", "mode must be semantic or hybrid", nil)
	}
	alpha := g.cfg.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return QueryResponse{}, apperrors.Wrap("VALIDATION_ERROR", "alpha must be in [0,1]", nil)
	}

	vectors, err := g.embedder.Embed(ctx, []string{req.Query})
	if err != nil || len(vectors) == 0 {
		return QueryResponse{}, apperrors.Wrap("SEARCH_UNAVAILABLE", "embedding service unavailable", err)
	}

	results, err := g.store.VectorSearch(ctx, vectors[0], req.Query, topK, mode, alpha, req.Filters)
	if err != nil {
		if mode == SearchHybrid {
			g.logger.Warn("hybrid search unavailable, falling back to semantic", "error", err)
			results, err = g.store.VectorSearch(ctx, vectors[0], req.Query, topK, SearchSemantic, alpha, req.Filters)
			if err == nil {
				return QueryResponse{Results: results, Mode: SearchSemantic, Alpha: alpha}, nil
			}
		}
		return QueryResponse{}, apperrors.Wrap("SEARCH_UNAVAILABLE", "vector index unavailable", err)
	}
	return QueryResponse{Results: results, Mode: mode, Alpha: alpha}, nil
}
