// Package backend defines the capability contracts the pipeline consumes.
// The pipeline talks only to these six interfaces; concrete
// implementations are reached exclusively through the registry
// (internal/registry) and cached by the service container
// (internal/container).
package backend

import (
	"context"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

// Parser converts a source document into canonical markdown plus any
// metadata it can extract along the way.
type Parser interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	SupportedExtensions() []string
	Parse(ctx context.Context, path string, contextMetadata map[string]any) (domain.ParserResult, error)
}

// Archive uploads an artifact to a long-term document store and verifies
// it landed.
type Archive interface {
	Name() string
	IsConfigured() bool
	IsAvailable(ctx context.Context) bool
	Archive(ctx context.Context, path, title string, created, correspondent string, tags []string, metadata map[string]any) (domain.ArchiveResult, error)
	Verify(ctx context.Context, documentID string, timeout int) bool
}

// RAG ingests canonical text into a retrieval index.
type RAG interface {
	Name() string
	IsConfigured() bool
	IsAvailable(ctx context.Context) bool
	TestConnection(ctx context.Context) bool
	Ingest(ctx context.Context, contentPath string, metadata map[string]any, collectionID string) (domain.RAGResult, error)
	ListDocuments(ctx context.Context, collectionID string) ([]string, error)
}

// VectorStore persists chunk embeddings into a partitioned vector table.
type VectorStore interface {
	EnsureReady(ctx context.Context) error
	Store(ctx context.Context, source, filename string, chunks []domain.Chunk, embeddings [][]float32, documentID string) (int, error)
	Delete(ctx context.Context, source, filename string) (int, error)
	Search(ctx context.Context, queryVec []float32, sources []string, metaFilter map[string]any, limit int) ([]domain.SearchHit, error)
	GetSources(ctx context.Context) ([]SourceStat, error)
	GetFilenames(ctx context.Context, source string) ([]string, error)
	GetStats(ctx context.Context) (StoreStats, error)
	GetDocumentChunks(ctx context.Context, source, filename string) ([]domain.Chunk, error)
	Close() error
}

// SourceStat is one row of VectorStore.GetSources.
type SourceStat struct {
	Source     string
	ChunkCount int
}

// StoreStats is the aggregate summary from VectorStore.GetStats.
type StoreStats struct {
	TotalChunks    int
	TotalDocuments int
	TotalSources   int
}

// EmbedResult is the output of Embedder.Embed.
type EmbedResult struct {
	Embeddings [][]float32
	Model      string
	Dims       int
}

// Embedder turns text into vectors.
type Embedder interface {
	Name() string
	IsConfigured() bool
	TestConnection(ctx context.Context) bool
	Embed(ctx context.Context, texts []string) (EmbedResult, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResult is the output of LLM.Chat.
type ChatResult struct {
	Content      string
	Model        string
	FinishReason string
}

// ChatOptions configures one LLM.Chat call.
type ChatOptions struct {
	ResponseFormatJSON bool
	MaxTokens          int
}

// LLM turns a message list into a completion.
type LLM interface {
	Name() string
	IsConfigured() bool
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (ChatResult, error)
}
