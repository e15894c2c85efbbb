// Package rag implements the vector-flavor RAG capability (spec.md §4.6):
// chunk, optionally enrich chunks with LLM-generated situating context,
// embed, and store — composing internal/chunk, internal/embedclient,
// internal/enrich and internal/vectorstore behind the single backend.RAG
// contract the pipeline consumes.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/chunk"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/enrich"
)

// Backend is the vector-store-backed RAG adapter.
type Backend struct {
	chunker      chunk.Strategy
	embedder     backend.Embedder
	store        backend.VectorStore
	enricher     *enrich.Service // nil disables contextual enrichment
	enrichWindow int
	logger       *slog.Logger
}

var _ backend.RAG = (*Backend)(nil)

// Config configures a Backend.
type Config struct {
	Chunker      chunk.Strategy
	Embedder     backend.Embedder
	Store        backend.VectorStore
	Enricher     *enrich.Service // optional; nil skips contextual enrichment
	EnrichWindow int             // neighbor-chunk window for long documents
}

// New constructs a Backend from its already-configured collaborators.
func New(cfg Config, logger *slog.Logger) *Backend {
	window := cfg.EnrichWindow
	if window <= 0 {
		window = 2
	}
	return &Backend{
		chunker:      cfg.Chunker,
		embedder:     cfg.Embedder,
		store:        cfg.Store,
		enricher:     cfg.Enricher,
		enrichWindow: window,
		logger:       logger,
	}
}

func (b *Backend) Name() string { return "vector" }

func (b *Backend) IsConfigured() bool {
	return b.chunker != nil && b.embedder != nil && b.store != nil && b.embedder.IsConfigured()
}

func (b *Backend) IsAvailable(ctx context.Context) bool {
	return b.IsConfigured() && b.embedder.TestConnection(ctx)
}

func (b *Backend) TestConnection(ctx context.Context) bool {
	return b.IsAvailable(ctx)
}

// Ingest reads contentPath, chunks it, optionally enriches each chunk with
// LLM-generated context used only for embedding, embeds, and stores.
// metadata must carry "source" (the partition key) and "filename"; both
// default to collectionID / the file's base name when absent.
func (b *Backend) Ingest(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) (domain.RAGResult, error) {
	if !b.IsConfigured() {
		return domain.NewRAGFailure("RAG backend not configured", b.Name())
	}

	raw, err := os.ReadFile(contentPath)
	if err != nil {
		return domain.NewRAGFailure(fmt.Sprintf("failed to read content: %s", err), b.Name())
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return domain.NewRAGFailure("document content is empty", b.Name())
	}

	source, _ := metadata["source"].(string)
	if source == "" {
		source = collectionID
	}
	if source == "" {
		return domain.NewRAGFailure("no source/collection provided for ingestion", b.Name())
	}
	filename, _ := metadata["filename"].(string)
	if filename == "" {
		filename = filepath.Base(contentPath)
	}

	chunks, err := b.chunker.Chunk(ctx, text, metadata)
	if err != nil {
		return domain.NewRAGFailure(fmt.Sprintf("chunking failed: %s", err), b.Name())
	}
	if len(chunks) == 0 {
		return domain.NewRAGFailure("chunking produced no chunks", b.Name())
	}

	embedInputs := make([]string, len(chunks))
	for i, c := range chunks {
		embedInputs[i] = c.Content
	}

	if b.enricher != nil {
		enriched := b.enricher.EnrichChunks(ctx, chunks, text, b.enrichWindow)
		if len(enriched) != len(chunks) {
			return domain.NewRAGFailure("contextual enrichment returned a mismatched chunk count", b.Name())
		}
		embedInputs = enriched
	}

	embedResult, err := b.embedder.Embed(ctx, embedInputs)
	if err != nil {
		return domain.NewRAGFailure(fmt.Sprintf("embedding failed: %s", err), b.Name())
	}
	if len(embedResult.Embeddings) != len(chunks) {
		return domain.NewRAGFailure("embedding service returned a mismatched vector count", b.Name())
	}

	if err := b.store.EnsureReady(ctx); err != nil {
		return domain.NewRAGFailure(fmt.Sprintf("vector store not ready: %s", err), b.Name())
	}

	documentID, _ := metadata["document_id"].(string)

	// Raw chunk content is always what gets persisted; embedInputs (which
	// may be enriched) only ever influenced the vectors above.
	n, err := b.store.Store(ctx, source, filename, chunks, embedResult.Embeddings, documentID)
	if err != nil {
		return domain.NewRAGFailure(fmt.Sprintf("vector store write failed: %s", err), b.Name())
	}

	b.logger.Info("document indexed for RAG", "source", source, "filename", filename, "chunks", n)
	id := documentID
	if id == "" {
		id = filename
	}
	return domain.NewRAGSuccess(id, source, b.Name())
}

// ListDocuments lists distinct filenames indexed under a source.
func (b *Backend) ListDocuments(ctx context.Context, collectionID string) ([]string, error) {
	return b.store.GetFilenames(ctx, collectionID)
}
