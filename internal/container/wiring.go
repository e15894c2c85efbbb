package container

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/WessleyAI/wessley-mvp/internal/archive"
	"github.com/WessleyAI/wessley-mvp/internal/chunk"
	"github.com/WessleyAI/wessley-mvp/internal/embedclient"
	"github.com/WessleyAI/wessley-mvp/internal/enrich"
	"github.com/WessleyAI/wessley-mvp/internal/llmclient"
	"github.com/WessleyAI/wessley-mvp/internal/parser"
	"github.com/WessleyAI/wessley-mvp/internal/rag"
	"github.com/WessleyAI/wessley-mvp/internal/registry"
	"github.com/WessleyAI/wessley-mvp/internal/vectorstore"
)

// RegisterDefaultFactories installs the factories backing every backend
// name this module ships a concrete implementation for. Names the spec
// recognizes but that have no implementation here (tika, office parsers)
// are left to the caller to register via
// registry.RegisterUnimplemented, or to wire once those parser backends
// land.
func RegisterDefaultFactories(reg *registry.Registry) {
	reg.Register(registry.KindEmbedder, "ollama", embedderFactory("ollama"))
	reg.Register(registry.KindEmbedder, "openai", embedderFactory("openai"))
	reg.Register(registry.KindEmbedder, "api", embedderFactory("api"))

	reg.Register(registry.KindLLM, "ollama", llmFactory("ollama"))
	reg.Register(registry.KindLLM, "openai", llmFactory("openai"))
	reg.Register(registry.KindLLM, "api", llmFactory("api"))

	reg.Register(registry.KindParser, "docling_serve", parserFactory)

	reg.Register(registry.KindVectorStore, "pgvector", vectorStoreFactory)

	reg.Register(registry.KindArchive, "paperless", archiveFactory)

	reg.Register(registry.KindRAG, "vector", ragFactory)
}

func asContainer(raw any) (*Container, error) {
	c, ok := raw.(*Container)
	if !ok {
		return nil, fmt.Errorf("factory received a non-container value")
	}
	return c, nil
}

func embedderFactory(flavor string) registry.Factory {
	return func(raw any) (any, error) {
		c, err := asContainer(raw)
		if err != nil {
			return nil, err
		}
		cfg := c.Config()
		return embedclient.New(embedclient.Config{
			Backend:       flavor,
			Model:         cfg.EmbeddingModel,
			URL:           cfg.EmbeddingURL,
			APIKey:        cfg.EmbeddingAPIKey,
			Dimensions:    cfg.EmbeddingDims,
			Timeout:       cfg.EmbeddingTimeout,
			RatePerSecond: cfg.EmbeddingRateLimit,
		})
	}
}

func llmFactory(flavor string) registry.Factory {
	return func(raw any) (any, error) {
		c, err := asContainer(raw)
		if err != nil {
			return nil, err
		}
		cfg := c.Config()
		return llmclient.New(llmclient.Config{
			Backend:       flavor,
			Model:         cfg.LLMModel,
			URL:           cfg.LLMURL,
			APIKey:        cfg.LLMAPIKey,
			Timeout:       cfg.LLMTimeout,
			RatePerSecond: cfg.LLMRateLimit,
		})
	}
}

func parserFactory(raw any) (any, error) {
	c, err := asContainer(raw)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()
	return parser.NewDoclingParser(cfg.DoclingServeURL, cfg.DoclingServeTimeout), nil
}

func vectorStoreFactory(raw any) (any, error) {
	c, err := asContainer(raw)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()
	return vectorstore.New(vectorstore.Config{
		DatabaseURL:    cfg.DatabaseURL,
		Dimensions:     cfg.EmbeddingDims,
		ViewName:       cfg.ViewName,
		DropOnMismatch: cfg.PGVectorDropOnMismatch,
	}, c.Logger())
}

func archiveFactory(raw any) (any, error) {
	c, err := asContainer(raw)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()

	var pending archive.PendingCache
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err == nil {
			pending = archive.NewRedisCache(goredis.NewClient(opts), time.Hour)
		} else {
			c.Logger().Warn("invalid REDIS_URL, falling back to in-process pending cache", "error", err)
		}
	}

	return archive.New(archive.Config{
		URL:     cfg.PaperlessURL,
		Token:   cfg.PaperlessToken,
		Timeout: time.Duration(cfg.VerifyDocumentTimeout) * time.Second,
		Pending: pending,
	}, c.Logger()), nil
}

func ragFactory(raw any) (any, error) {
	c, err := asContainer(raw)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()

	store, err := c.VectorStore()
	if err != nil {
		return nil, err
	}
	embedder, err := c.Embedder()
	if err != nil {
		return nil, err
	}

	chunker, err := chunk.New("fixed", cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens, cfg.DoclingServeURL, cfg.DoclingServeTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.DoclingServeURL != "" {
		chunker, err = chunk.New("hybrid", cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens, cfg.DoclingServeURL, cfg.DoclingServeTimeout)
		if err != nil {
			return nil, err
		}
	}

	var enricher *enrich.Service
	if cfg.ContextualEnrichment {
		llm, err := c.LLM()
		if err != nil {
			return nil, err
		}
		enricher = enrich.New(llm, 0, c.Logger())
	}

	return rag.New(rag.Config{
		Chunker:  chunker,
		Embedder: embedder,
		Store:    store,
		Enricher: enricher,
	}, c.Logger()), nil
}
