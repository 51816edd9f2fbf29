// Package store implements the Store port of spec.md §4.1: transactional
// persistence of documents, chunks, profiles and metrics, plus vector and
// hybrid search. Grounded on internal/infra/uploadask/repo/postgres.go's
// pgx.Batch insert and pgvector distance query idiom, here with the <=>
// cosine-distance operator.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/namtroi/ragbase/internal/domain/ingest"
	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) CreateDocument(ctx context.Context, doc ingest.Document) (ingest.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (
			id, filename, mime, byte_size, format, content_hash, source,
			storage_path, retry_count, is_active, connection_state,
			snapshot_profile_id, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,false,$9,$10,$11,NOW(),NOW())
		RETURNING created_at, updated_at
	`, doc.ID, doc.Filename, doc.MIME, doc.ByteSize, doc.Format, doc.ContentHash, doc.Source,
		doc.StoragePath, doc.ConnectionState, doc.SnapshotProfileID, doc.Status)

	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ingest.Document{}, apperrors.Wrap("DUPLICATE_FILE", "a document with this content already exists", err)
		}
		return ingest.Document{}, apperrors.Wrap("store_unavailable", "failed to create document", err)
	}
	return doc, nil
}

func (s *Postgres) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, from []ingest.DocumentStatus, to ingest.DocumentStatus, fields ingest.DocumentStatusFields) (ingest.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ingest.Document{}, apperrors.Wrap("store_unavailable", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE documents
		SET status = $1, updated_at = NOW(), retry_count = retry_count + $2
	`
	args := []any{to, fields.RetryCountDelta}
	pos := 3
	if fields.ProcessedContent != nil {
		query += fmt.Sprintf(", processed_content = $%d", pos)
		args = append(args, *fields.ProcessedContent)
		pos++
	}
	if fields.FailReason != nil {
		query += fmt.Sprintf(", fail_reason = $%d", pos)
		args = append(args, *fields.FailReason)
		pos++
	}
	if fields.FormatCategory != nil {
		query += fmt.Sprintf(", format_category = $%d", pos)
		args = append(args, *fields.FormatCategory)
		pos++
	}
	if fields.IsActive != nil {
		query += fmt.Sprintf(", is_active = $%d", pos)
		args = append(args, *fields.IsActive)
		pos++
	}
	query += fmt.Sprintf(" WHERE id = $%d", pos)
	args = append(args, id)
	pos++
	if len(from) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", pos)
		args = append(args, from)
	}
	query += " RETURNING id"

	var returnedID uuid.UUID
	if err := tx.QueryRow(ctx, query, args...).Scan(&returnedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Document{}, apperrors.Wrap("cas_mismatch", "document is not in an expected status or does not exist", nil)
		}
		return ingest.Document{}, apperrors.Wrap("store_unavailable", "failed to update document status", err)
	}

	doc, err := s.getDocumentTx(ctx, tx, id)
	if err != nil {
		return ingest.Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ingest.Document{}, apperrors.Wrap("store_unavailable", "failed to commit", err)
	}
	return doc, nil
}

func (s *Postgres) getDocumentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (ingest.Document, error) {
	row := tx.QueryRow(ctx, documentSelectColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return ingest.Document{}, apperrors.Wrap("store_unavailable", "failed to reload document", err)
	}
	return doc, nil
}

func (s *Postgres) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []ingest.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to clear existing chunks", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO chunks (
				id, document_id, chunk_index, content, embedding, char_start, char_end,
				heading, breadcrumbs, quality_score, quality_flags, chunk_type,
				completeness, has_title, token_count, search_vector
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, to_tsvector('english', $4))
		`, c.ID, documentID, c.Index, c.Content, pgvector.NewVector(c.Embedding), c.CharStart, c.CharEnd,
			c.Heading, c.Breadcrumbs, c.QualityScore, c.QualityFlags, c.ChunkType, c.Completeness, c.HasTitle, c.TokenCount)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return apperrors.Wrap("store_unavailable", "failed to insert chunks", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to commit chunk replacement", err)
	}
	return nil
}

func (s *Postgres) DeleteDocumentCascade(ctx context.Context, id uuid.UUID) (*string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var path *string
	if err := tx.QueryRow(ctx, `SELECT storage_path FROM documents WHERE id = $1`, id).Scan(&path); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap("document_not_found", "document not found", nil)
		}
		return nil, apperrors.Wrap("store_unavailable", "failed to look up document", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to delete chunks", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM processing_metrics WHERE document_id = $1`, id); err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to delete metrics", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to delete document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to commit", err)
	}
	return path, nil
}

func (s *Postgres) DeleteProfileCascade(ctx context.Context, profileID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE snapshot_profile_id = $1)
	`, profileID); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to delete dependent chunks", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM processing_metrics WHERE document_id IN (SELECT id FROM documents WHERE snapshot_profile_id = $1)
	`, profileID); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to delete dependent metrics", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE snapshot_profile_id = $1`, profileID); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to delete dependent documents", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM processing_profiles WHERE id = $1`, profileID); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to delete profile", err)
	}
	return tx.Commit(ctx)
}

const documentSelectColumns = `
	SELECT id, filename, mime, byte_size, format, content_hash, source, storage_path,
	       processed_content, fail_reason, retry_count, is_active, connection_state,
	       snapshot_profile_id, status, format_category, created_at, updated_at`

func scanDocument(row pgx.Row) (ingest.Document, error) {
	var doc ingest.Document
	var formatCategory *ingest.FormatCategory
	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MIME, &doc.ByteSize, &doc.Format, &doc.ContentHash, &doc.Source, &doc.StoragePath,
		&doc.ProcessedContent, &doc.FailReason, &doc.RetryCount, &doc.IsActive, &doc.ConnectionState,
		&doc.SnapshotProfileID, &doc.Status, &formatCategory, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return ingest.Document{}, err
	}
	doc.FormatCategory = formatCategory
	return doc, nil
}

func (s *Postgres) ListDocuments(ctx context.Context, filter ingest.DocumentFilter, sortBy ingest.Sort, page ingest.Page) ([]ingest.Document, int, error) {
	query := documentSelectColumns + ` FROM documents WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM documents WHERE 1=1`
	var args []any
	pos := 1

	add := func(clause string, val any) {
		query += fmt.Sprintf(" AND %s $%d", clause, pos)
		countQuery += fmt.Sprintf(" AND %s $%d", clause, pos)
		args = append(args, val)
		pos++
	}
	if filter.Status != nil {
		add("status =", *filter.Status)
	}
	if filter.IsActive != nil {
		add("is_active =", *filter.IsActive)
	}
	if filter.ConnectionState != nil {
		add("connection_state =", *filter.ConnectionState)
	}
	if filter.Source != nil {
		add("source =", *filter.Source)
	}
	if filter.Format != nil {
		add("format =", *filter.Format)
	}
	if filter.FormatCategory != nil {
		add("format_category =", *filter.FormatCategory)
	}
	if filter.Search != nil && *filter.Search != "" {
		add("filename ILIKE", "%"+*filter.Search+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap("store_unavailable", "failed to count documents", err)
	}

	query += " ORDER BY " + sortColumn(sortBy)
	limit, offset := pageBounds(page)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", pos, pos+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap("store_unavailable", "failed to list documents", err)
	}
	defer rows.Close()

	docs := make([]ingest.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap("store_unavailable", "failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func sortColumn(s ingest.Sort) string {
	col := "created_at"
	switch s.Field {
	case "filename":
		col = "filename"
	case "fileSize":
		col = "byte_size"
	}
	if s.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func pageBounds(p ingest.Page) (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = 20
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Postgres) GetDocument(ctx context.Context, id uuid.UUID) (ingest.Document, bool, error) {
	row := s.pool.QueryRow(ctx, documentSelectColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Document{}, false, nil
		}
		return ingest.Document{}, false, apperrors.Wrap("store_unavailable", "failed to get document", err)
	}
	return doc, true, nil
}

func (s *Postgres) CountByStatus(ctx context.Context) (map[ingest.DocumentStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to count by status", err)
	}
	defer rows.Close()
	out := make(map[ingest.DocumentStatus]int)
	for rows.Next() {
		var status ingest.DocumentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

// VectorSearch implements semantic and hybrid retrieval (spec.md §4.6). The
// visibility predicate (status=COMPLETED AND isActive=true) is always
// applied. Hybrid mode blends the pgvector distance score with a
// ts_rank keyword score isolated behind raw SQL, per spec.md §9's
// "Raw SQL for vector columns" note generalized to full-text ranking.
func (s *Postgres) VectorSearch(ctx context.Context, queryVec []float32, queryText string, topK int, mode ingest.SearchMode, alpha float64, filters ingest.SearchFilters) ([]ingest.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec := pgvector.NewVector(queryVec)

	selectExpr := `(1.0 - (c.embedding <=> $1)) AS vector_score, NULL::float8 AS keyword_score`
	orderExpr := `c.embedding <=> $1`
	args := []any{vec}
	pos := 2

	if mode == ingest.SearchHybrid {
		selectExpr = `(1.0 - (c.embedding <=> $1)) AS vector_score, ts_rank(c.search_vector, plainto_tsquery('english', $2)) AS keyword_score`
		orderExpr = fmt.Sprintf("($%d * (1.0 - (c.embedding <=> $1)) + (1 - $%d) * ts_rank(c.search_vector, plainto_tsquery('english', $2)))", pos+1, pos+1)
		args = append(args, queryText, alpha)
		pos += 2
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.content, c.breadcrumbs, c.chunk_index, %s
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'COMPLETED' AND d.is_active = true
	`, selectExpr)

	if len(filters.BreadcrumbsContain) > 0 {
		query += fmt.Sprintf(" AND c.breadcrumbs @> $%d", pos)
		args = append(args, filters.BreadcrumbsContain)
		pos++
	}
	if filters.MinQualityScore != nil {
		query += fmt.Sprintf(" AND c.quality_score >= $%d", pos)
		args = append(args, *filters.MinQualityScore)
		pos++
	}
	if len(filters.ChunkTypes) > 0 {
		query += fmt.Sprintf(" AND c.chunk_type = ANY($%d)", pos)
		args = append(args, filters.ChunkTypes)
		pos++
	}

	if mode == ingest.SearchHybrid {
		query += fmt.Sprintf(" ORDER BY %s DESC", orderExpr)
	} else {
		query += fmt.Sprintf(" ORDER BY %s ASC", orderExpr)
	}
	query += fmt.Sprintf(" LIMIT $%d", pos)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "vector search failed", err)
	}
	defer rows.Close()

	results := make([]ingest.SearchResult, 0, topK)
	for rows.Next() {
		var (
			r           ingest.SearchResult
			breadcrumbs []string
			index       int
			vScore      float64
			kScore      *float64
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &breadcrumbs, &index, &vScore, &kScore); err != nil {
			return nil, apperrors.Wrap("store_unavailable", "failed to scan search result", err)
		}
		r.Metadata = map[string]any{"index": index, "breadcrumbs": breadcrumbs}
		r.VectorScore = &vScore
		if mode == ingest.SearchHybrid && kScore != nil {
			keyword := *kScore
			r.KeywordScore = &keyword
			r.Score = alpha*vScore + (1-alpha)*keyword
		} else {
			r.Score = vScore
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Postgres) UpsertMetrics(ctx context.Context, m ingest.ProcessingMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_metrics (
			document_id, conversion_time_ms, chunking_time_ms, embedding_time_ms, total_time_ms,
			queue_time_ms, user_wait_ms, raw_size_bytes, markdown_size_chars, total_chunks,
			avg_chunk_size, oversized_chunks, avg_quality_score, total_tokens
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (document_id) DO UPDATE SET
			conversion_time_ms = EXCLUDED.conversion_time_ms,
			chunking_time_ms = EXCLUDED.chunking_time_ms,
			embedding_time_ms = EXCLUDED.embedding_time_ms,
			total_time_ms = EXCLUDED.total_time_ms,
			queue_time_ms = EXCLUDED.queue_time_ms,
			user_wait_ms = EXCLUDED.user_wait_ms,
			raw_size_bytes = EXCLUDED.raw_size_bytes,
			markdown_size_chars = EXCLUDED.markdown_size_chars,
			total_chunks = EXCLUDED.total_chunks,
			avg_chunk_size = EXCLUDED.avg_chunk_size,
			oversized_chunks = EXCLUDED.oversized_chunks,
			avg_quality_score = EXCLUDED.avg_quality_score,
			total_tokens = EXCLUDED.total_tokens
	`, m.DocumentID, m.ConversionTimeMs, m.ChunkingTimeMs, m.EmbeddingTimeMs, m.TotalTimeMs,
		m.QueueTimeMs, m.UserWaitMs, m.RawSizeBytes, m.MarkdownSizeChars, m.TotalChunks,
		m.AvgChunkSize, m.OversizedChunks, m.AvgQualityScore, m.TotalTokens)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to upsert metrics", err)
	}
	return nil
}

const profileSelectColumns = `
	SELECT id, name, conversion_params, chunking_params, quality_min_length, quality_max_noise_ratio,
	       embedding_descriptor, is_default, is_active, is_archived, created_at, updated_at`

func scanProfile(row pgx.Row) (ingest.ProcessingProfile, error) {
	var p ingest.ProcessingProfile
	if err := row.Scan(
		&p.ID, &p.Name, &p.ConversionParams, &p.ChunkingParams, &p.QualityParams.MinLength, &p.QualityParams.MaxNoiseRatio,
		&p.EmbeddingDescriptor, &p.IsDefault, &p.IsActive, &p.IsArchived, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return ingest.ProcessingProfile{}, err
	}
	return p, nil
}

func (s *Postgres) CreateProfile(ctx context.Context, p ingest.ProcessingProfile) (ingest.ProcessingProfile, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO processing_profiles (
			id, name, conversion_params, chunking_params, quality_min_length, quality_max_noise_ratio,
			embedding_descriptor, is_default, is_active, is_archived, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,NOW(),NOW())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.ConversionParams, p.ChunkingParams, p.QualityParams.MinLength, p.QualityParams.MaxNoiseRatio,
		p.EmbeddingDescriptor, p.IsDefault, p.IsActive)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ingest.ProcessingProfile{}, apperrors.Wrap("duplicate_profile_name", "a profile with this name already exists", err)
		}
		return ingest.ProcessingProfile{}, apperrors.Wrap("store_unavailable", "failed to create profile", err)
	}
	return p, nil
}

func (s *Postgres) GetProfile(ctx context.Context, id uuid.UUID) (ingest.ProcessingProfile, bool, error) {
	row := s.pool.QueryRow(ctx, profileSelectColumns+` FROM processing_profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.ProcessingProfile{}, false, nil
		}
		return ingest.ProcessingProfile{}, false, apperrors.Wrap("store_unavailable", "failed to get profile", err)
	}
	return p, true, nil
}

func (s *Postgres) GetProfileByName(ctx context.Context, name string) (ingest.ProcessingProfile, bool, error) {
	row := s.pool.QueryRow(ctx, profileSelectColumns+` FROM processing_profiles WHERE name = $1`, name)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.ProcessingProfile{}, false, nil
		}
		return ingest.ProcessingProfile{}, false, apperrors.Wrap("store_unavailable", "failed to get profile by name", err)
	}
	return p, true, nil
}

func (s *Postgres) GetActiveProfile(ctx context.Context) (ingest.ProcessingProfile, bool, error) {
	row := s.pool.QueryRow(ctx, profileSelectColumns+` FROM processing_profiles WHERE is_active = true LIMIT 1`)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.ProcessingProfile{}, false, nil
		}
		return ingest.ProcessingProfile{}, false, apperrors.Wrap("store_unavailable", "failed to get active profile", err)
	}
	return p, true, nil
}

func (s *Postgres) ListProfiles(ctx context.Context, includeArchived bool) ([]ingest.ProcessingProfile, error) {
	query := profileSelectColumns + ` FROM processing_profiles`
	if !includeArchived {
		query += ` WHERE is_archived = false`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to list profiles", err)
	}
	defer rows.Close()
	var profiles []ingest.ProcessingProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// ActivateProfile clears is_active on every profile then sets it on id,
// mirroring the "single active profile" invariant of spec.md §4.4.
func (s *Postgres) ActivateProfile(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE processing_profiles SET is_active = false, updated_at = NOW() WHERE is_active = true`); err != nil {
		return apperrors.Wrap("store_unavailable", "failed to clear active profile", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE processing_profiles SET is_active = true, updated_at = NOW() WHERE id = $1 AND is_archived = false`, id)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to activate profile", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap("profile_not_found", "profile does not exist or is archived", nil)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE processing_profiles SET is_archived = $1, updated_at = NOW() WHERE id = $2`, archived, id)
	if err != nil {
		return apperrors.Wrap("store_unavailable", "failed to set profile archived state", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrap("profile_not_found", "profile does not exist", nil)
	}
	return nil
}

func (s *Postgres) CountDocumentsForProfile(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE snapshot_profile_id = $1`, id).Scan(&count); err != nil {
		return 0, apperrors.Wrap("store_unavailable", "failed to count documents for profile", err)
	}
	return count, nil
}

func (s *Postgres) AnalyticsOverview(ctx context.Context) (ingest.AnalyticsOverview, error) {
	byStatus, err := s.CountByStatus(ctx)
	if err != nil {
		return ingest.AnalyticsOverview{}, err
	}
	total := 0
	for _, c := range byStatus {
		total += c
	}
	var totalChunks int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&totalChunks); err != nil {
		return ingest.AnalyticsOverview{}, apperrors.Wrap("store_unavailable", "failed to count chunks", err)
	}
	return ingest.AnalyticsOverview{TotalDocuments: total, ByStatus: byStatus, TotalChunks: totalChunks}, nil
}

func (s *Postgres) AnalyticsProcessing(ctx context.Context) (ingest.ProcessingAverages, error) {
	var avgConv, avgChunk, avgEmbed, avgTotal, avgQueue float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(conversion_time_ms),0), COALESCE(AVG(chunking_time_ms),0),
		       COALESCE(AVG(embedding_time_ms),0), COALESCE(AVG(total_time_ms),0), COALESCE(AVG(queue_time_ms),0)
		FROM processing_metrics
	`).Scan(&avgConv, &avgChunk, &avgEmbed, &avgTotal, &avgQueue)
	if err != nil {
		return ingest.ProcessingAverages{}, apperrors.Wrap("store_unavailable", "failed to aggregate processing averages", err)
	}
	ms := func(v float64) time.Duration { return time.Duration(v) * time.Millisecond }
	return ingest.ProcessingAverages{
		AvgConversionMs: ms(avgConv),
		AvgChunkingMs:   ms(avgChunk),
		AvgEmbeddingMs:  ms(avgEmbed),
		AvgTotalMs:      ms(avgTotal),
		AvgQueueMs:      ms(avgQueue),
	}, nil
}

func (s *Postgres) AnalyticsQuality(ctx context.Context) (ingest.QualityAverages, error) {
	var avgScore float64
	var total, oversized int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(quality_score),0), COUNT(*),
		       COUNT(*) FILTER (WHERE array_length(quality_flags, 1) > 0 AND 'oversized' = ANY(quality_flags))
		FROM chunks
	`).Scan(&avgScore, &total, &oversized)
	if err != nil {
		return ingest.QualityAverages{}, apperrors.Wrap("store_unavailable", "failed to aggregate quality averages", err)
	}
	flagRows, err := s.pool.Query(ctx, `SELECT unnest(quality_flags) AS flag, COUNT(*) FROM chunks GROUP BY flag`)
	if err != nil {
		return ingest.QualityAverages{}, apperrors.Wrap("store_unavailable", "failed to aggregate quality flags", err)
	}
	defer flagRows.Close()
	flagCounts := make(map[string]int)
	for flagRows.Next() {
		var flag string
		var count int
		if err := flagRows.Scan(&flag, &count); err != nil {
			return ingest.QualityAverages{}, err
		}
		flagCounts[flag] = count
	}
	rate := 0.0
	if total > 0 {
		rate = float64(oversized) / float64(total)
	}
	return ingest.QualityAverages{AvgQualityScore: avgScore, FlagCounts: flagCounts, OversizedRate: rate}, nil
}

func (s *Postgres) AnalyticsFormatDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT format, COUNT(*) FROM documents GROUP BY format`)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to aggregate format distribution", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var format string
		var count int
		if err := rows.Scan(&format, &count); err != nil {
			return nil, err
		}
		out[format] = count
	}
	return out, rows.Err()
}

func (s *Postgres) ListChunksForDocument(ctx context.Context, documentID uuid.UUID) ([]ingest.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, char_start, char_end, heading,
		       breadcrumbs, quality_score, quality_flags, chunk_type, completeness, has_title, token_count
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC
	`, documentID)
	if err != nil {
		return nil, apperrors.Wrap("store_unavailable", "failed to list chunks", err)
	}
	defer rows.Close()
	var chunks []ingest.Chunk
	for rows.Next() {
		var c ingest.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.CharStart, &c.CharEnd, &c.Heading,
			&c.Breadcrumbs, &c.QualityScore, &c.QualityFlags, &c.ChunkType, &c.Completeness, &c.HasTitle, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 23505") || strings.Contains(err.Error(), "duplicate key")
}

var _ ingest.Store = (*Postgres)(nil)
