// Package vectorstore implements the partitioned pgvector-backed vector
// store (spec.md §4.5): one list-partitioned table per source, each
// partition carrying its own HNSW cosine index, with dimension-safe
// schema evolution and delete-then-insert atomic writes.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

var sourceNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// sqlExecutor is the subset of pgx.Tx that schema bookkeeping needs; kept
// narrow so dimension-mismatch handling can be exercised with a fake in
// tests instead of a live connection. Any pgx.Tx satisfies it.
type sqlExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config configures a Store.
type Config struct {
	DatabaseURL    string
	Dimensions     int
	ViewName       string
	DropOnMismatch bool
}

// Store is a PostgreSQL + pgvector VectorStore backend.
type Store struct {
	cfg    Config
	logger *slog.Logger

	poolMu sync.Mutex
	pool   *pgxpool.Pool

	schemaMu      sync.Mutex
	schemaEnsured bool

	partitionMu     sync.Mutex
	knownPartitions map[string]struct{}
}

var _ backend.VectorStore = (*Store)(nil)

// New constructs a Store. dimensions must be a positive integer.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dimensions < 1 {
		return nil, fmt.Errorf("vectorstore: dimensions must be a positive integer, got %d", cfg.Dimensions)
	}
	return &Store{
		cfg:             cfg,
		logger:          logger,
		knownPartitions: make(map[string]struct{}),
	}, nil
}

func (s *Store) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	if s.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("vectorstore: DATABASE_URL is not configured")
	}
	poolCfg, err := pgxpool.ParseConfig(s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse DATABASE_URL: %w", err)
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pool: %w", err)
	}
	s.pool = pool
	return pool, nil
}

func (s *Store) getExistingDimensions(ctx context.Context, tx sqlExecutor) (int, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = 'document_chunks'
		  AND n.nspname = current_schema()
		  AND a.attname = 'embedding'
		  AND a.attnum > 0
	`)
	var typmod int
	if err := row.Scan(&typmod); err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return typmod, true, nil
}

// handleDimensionMismatch implements the three-case resolution of
// spec.md §4.5: empty table auto-recreates, non-empty table recreates only
// with the opt-in flag, otherwise returns the actionable error whose text
// the S6 scenario asserts on verbatim.
func (s *Store) handleDimensionMismatch(ctx context.Context, tx sqlExecutor, existingDims int) error {
	var count int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM document_chunks").Scan(&count); err != nil {
		return err
	}

	if count == 0 {
		s.logger.Warn("embedding dimension mismatch on empty table, dropping and recreating",
			"existing_dims", existingDims, "configured_dims", s.cfg.Dimensions)
		if _, err := tx.Exec(ctx, "DROP TABLE document_chunks CASCADE"); err != nil {
			return err
		}
		s.partitionMu.Lock()
		s.knownPartitions = make(map[string]struct{})
		s.partitionMu.Unlock()
		return nil
	}

	if s.cfg.DropOnMismatch {
		s.logger.Warn("embedding dimension mismatch, PGVECTOR_DROP_ON_MISMATCH=true, dropping rows",
			"existing_dims", existingDims, "configured_dims", s.cfg.Dimensions, "rows", count)
		if _, err := tx.Exec(ctx, "DROP TABLE document_chunks CASCADE"); err != nil {
			return err
		}
		s.partitionMu.Lock()
		s.knownPartitions = make(map[string]struct{})
		s.partitionMu.Unlock()
		return nil
	}

	return fmt.Errorf(
		"embedding dimension mismatch: existing table has vector(%d), but configured dimensions is %d. "+
			"The table contains %d row(s) which are incompatible with the new model. "+
			"To drop all data and recreate, set the environment variable PGVECTOR_DROP_ON_MISMATCH=true and restart.",
		existingDims, s.cfg.Dimensions, count,
	)
}

// EnsureReady creates the vector extension and parent table if absent,
// detecting and resolving embedding-dimension mismatches. Idempotent and
// thread-safe; safe to call before every ingest.
func (s *Store) EnsureReady(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaEnsured {
		return nil
	}

	pool, err := s.getPool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("vectorstore: create extension: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("vectorstore: create extension: %w", err)
	}

	existingDims, exists, err := s.getExistingDimensions(ctx, tx)
	if err != nil {
		return fmt.Errorf("vectorstore: inspect existing schema: %w", err)
	}
	if exists && existingDims != s.cfg.Dimensions {
		if err := s.handleDimensionMismatch(ctx, tx, existingDims); err != nil {
			return err
		}
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
		id BIGSERIAL,
		source TEXT NOT NULL,
		filename TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding vector(%d),
		metadata JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (source, id)
	) PARTITION BY LIST (source)`, s.cfg.Dimensions)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("vectorstore: create parent table: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_document_chunks_metadata
		ON document_chunks USING GIN (metadata)
	`); err != nil {
		return fmt.Errorf("vectorstore: create metadata index: %w", err)
	}

	if s.cfg.ViewName != "" {
		if err := s.createCompatibilityView(ctx, tx); err != nil {
			return fmt.Errorf("vectorstore: create compatibility view: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.schemaEnsured = true
	s.logger.Debug("schema ensured")
	return nil
}

// createCompatibilityView exposes a view whose rows carry a deterministic
// UUID derived from (source, filename, chunk_index, id), source renamed to
// namespace, and metadata merged with {"text": content} — for an external
// RAG consumer expecting that shape (spec.md §4.5).
func (s *Store) createCompatibilityView(ctx context.Context, tx pgx.Tx) error {
	if !sourceNameRE.MatchString(s.cfg.ViewName) {
		return fmt.Errorf("vectorstore: invalid view name %q", s.cfg.ViewName)
	}
	viewSQL := fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT
			uuid_generate_v5(
				'6ba7b810-9dad-11d1-80b4-00c04fd430c8'::uuid,
				source || ':' || filename || ':' || chunk_index::text || ':' || id::text
			) AS id,
			source AS namespace,
			embedding,
			metadata || jsonb_build_object('text', content) AS metadata
		FROM document_chunks
	`, pgQuoteIdent(s.cfg.ViewName))
	_, err := tx.Exec(ctx, viewSQL)
	return err
}

func pgQuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ensurePartition creates the partition and its HNSW index for a source if
// not already known, serialized under partitionMu with known-partition
// memoization.
func (s *Store) ensurePartition(ctx context.Context, tx pgx.Tx, source string) error {
	s.partitionMu.Lock()
	_, known := s.knownPartitions[source]
	s.partitionMu.Unlock()
	if known {
		return nil
	}

	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()
	if _, known := s.knownPartitions[source]; known {
		return nil
	}

	if !sourceNameRE.MatchString(source) {
		return domain.NewValidationError("source", source, domain.ErrInvalidSourceName)
	}

	safeSource := strings.ReplaceAll(source, "-", "_")
	partitionName := fmt.Sprintf("document_chunks_%s", safeSource)
	indexName := fmt.Sprintf("idx_%s_embedding_hnsw", safeSource)

	var exists bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_tables WHERE tablename = $1 AND schemaname = current_schema())",
		partitionName,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		createPartitionSQL := fmt.Sprintf(
			"CREATE TABLE %s PARTITION OF document_chunks FOR VALUES IN (%s)",
			pgQuoteIdent(partitionName), pgQuoteLiteral(source),
		)
		if _, err := tx.Exec(ctx, createPartitionSQL); err != nil {
			return err
		}
		s.logger.Info("created partition", "source", source)
	}

	indexSQL := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)",
		pgQuoteIdent(indexName), pgQuoteIdent(partitionName),
	)
	if _, err := tx.Exec(ctx, indexSQL); err != nil {
		return err
	}

	s.knownPartitions[source] = struct{}{}
	return nil
}

func pgQuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Store replaces a document's chunks atomically: inside a transaction
// with a savepoint, delete all rows for (source, filename), then
// batch-insert the new chunks; any error rolls back to the savepoint so
// the delete is undone.
func (s *Store) Store(ctx context.Context, source, filename string, chunks []domain.Chunk, embeddings [][]float32, documentID string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("vectorstore: chunk count (%d) and embedding count (%d) disagree", len(chunks), len(embeddings))
	}

	if err := s.EnsureReady(ctx); err != nil {
		return 0, err
	}

	pool, err := s.getPool(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := s.ensurePartition(ctx, tx, source); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, "SAVEPOINT store_chunks_sp"); err != nil {
		return 0, err
	}

	if err := s.storeWithSavepoint(ctx, tx, source, filename, chunks, embeddings, documentID); err != nil {
		_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT store_chunks_sp")
		return 0, err
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT store_chunks_sp"); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debug("stored chunks", "source", source, "filename", filename, "count", len(chunks))
	return len(chunks), nil
}

func (s *Store) storeWithSavepoint(ctx context.Context, tx pgx.Tx, source, filename string, chunks []domain.Chunk, embeddings [][]float32, documentID string) error {
	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE source = $1 AND filename = $2", source, filename); err != nil {
		return err
	}

	for i, c := range chunks {
		if c.Content == "" {
			return fmt.Errorf("vectorstore: chunk %d missing required field(s): content", i)
		}
		if embeddings[i] == nil {
			return fmt.Errorf("vectorstore: chunk %d missing required field(s): embedding", i)
		}

		meta := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		if documentID != "" {
			meta["document_id"] = documentID
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		idx := c.Index
		if idx == 0 {
			if v, ok := c.Metadata["chunk_index"].(int); ok {
				idx = v
			} else {
				idx = i
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO document_chunks (source, filename, chunk_index, content, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		`, source, filename, idx, c.Content, pgvector.NewVector(embeddings[i]), metaJSON)
		if err != nil {
			return err
		}
	}

	return nil
}

// Delete removes all rows for (source, filename).
func (s *Store) Delete(ctx context.Context, source, filename string) (int, error) {
	pool, err := s.getPool(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, "DELETE FROM document_chunks WHERE source = $1 AND filename = $2", source, filename)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Search returns hits ordered by cosine distance ascending (score =
// 1 - distance), optionally filtered by source whitelist and JSONB
// containment.
func (s *Store) Search(ctx context.Context, queryVec []float32, sources []string, metaFilter map[string]any, limit int) ([]domain.SearchHit, error) {
	if limit < 1 || limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 1000, got %d", domain.ErrLimitOutOfRange, limit)
	}

	pool, err := s.getPool(ctx)
	if err != nil {
		return nil, err
	}

	var conditions []string
	args := []any{pgvector.NewVector(queryVec)}

	if len(sources) > 0 {
		args = append(args, sources)
		conditions = append(conditions, fmt.Sprintf("source = ANY($%d)", len(args)))
	}
	if len(metaFilter) > 0 {
		metaJSON, err := json.Marshal(metaFilter)
		if err != nil {
			return nil, err
		}
		args = append(args, metaJSON)
		conditions = append(conditions, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, pgvector.NewVector(queryVec), limit)
	queryIdx := len(args) - 1
	limitIdx := len(args)

	query := fmt.Sprintf(`
		SELECT source, filename, chunk_index, content, metadata,
		       1 - (embedding <=> $%d) AS score
		FROM document_chunks
		%s
		ORDER BY embedding <=> $%d
		LIMIT $%d
	`, queryIdx, where, queryIdx, limitIdx)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var h domain.SearchHit
		var metaJSON []byte
		if err := rows.Scan(&h.Source, &h.Filename, &h.ChunkIndex, &h.Content, &metaJSON, &h.Score); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &h.Metadata); err != nil {
				return nil, err
			}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetSources lists all sources with their chunk counts.
func (s *Store) GetSources(ctx context.Context) ([]backend.SourceStat, error) {
	pool, err := s.getPool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, "SELECT source, COUNT(*) FROM document_chunks GROUP BY source ORDER BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backend.SourceStat
	for rows.Next() {
		var s backend.SourceStat
		if err := rows.Scan(&s.Source, &s.ChunkCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetFilenames returns the distinct filenames indexed under source, sorted
// by filename.
func (s *Store) GetFilenames(ctx context.Context, source string) ([]string, error) {
	pool, err := s.getPool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, "SELECT DISTINCT filename FROM document_chunks WHERE source = $1 ORDER BY filename", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		out = append(out, filename)
	}
	return out, rows.Err()
}

// GetStats returns overall chunk/document/source counts.
func (s *Store) GetStats(ctx context.Context) (backend.StoreStats, error) {
	pool, err := s.getPool(ctx)
	if err != nil {
		return backend.StoreStats{}, err
	}
	var stats backend.StoreStats
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM document_chunks").Scan(&stats.TotalChunks); err != nil {
		return backend.StoreStats{}, err
	}
	if err := pool.QueryRow(ctx, "SELECT COUNT(DISTINCT (source, filename)) FROM document_chunks").Scan(&stats.TotalDocuments); err != nil {
		return backend.StoreStats{}, err
	}
	if err := pool.QueryRow(ctx, "SELECT COUNT(DISTINCT source) FROM document_chunks").Scan(&stats.TotalSources); err != nil {
		return backend.StoreStats{}, err
	}
	return stats, nil
}

// GetDocumentChunks returns all chunks for (source, filename) ordered by
// chunk_index.
func (s *Store) GetDocumentChunks(ctx context.Context, source, filename string) ([]domain.Chunk, error) {
	pool, err := s.getPool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT chunk_index, content, metadata
		FROM document_chunks
		WHERE source = $1 AND filename = $2
		ORDER BY chunk_index
	`, source, filename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var metaJSON []byte
		if err := rows.Scan(&c.Index, &c.Content, &metaJSON); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the connection pool; safe to call even if never opened.
func (s *Store) Close() error {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
		s.schemaEnsured = false
		s.knownPartitions = make(map[string]struct{})
	}
	return nil
}
