// Package container implements the lazy, thread-safe service container
// (spec.md §4.3): one cached instance per backend kind, built on first use
// from the effective settings (settings override, else config default) and
// discarded on ResetServices so a later call rebuilds against fresh
// settings.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/config"
	"github.com/WessleyAI/wessley-mvp/internal/registry"
	"github.com/WessleyAI/wessley-mvp/internal/settings"
)

// Container lazily resolves and caches one instance of each backend kind.
// All accessor methods are safe for concurrent use.
type Container struct {
	cfg      config.Config
	settings *settings.Store
	registry *registry.Registry
	logger   *slog.Logger

	parserMu sync.Mutex
	parsers  map[string]backend.Parser

	archiveMu  sync.Mutex
	archiveSvc backend.Archive

	ragMu  sync.Mutex
	ragSvc backend.RAG

	vectorMu    sync.Mutex
	vectorStore backend.VectorStore

	embedderMu sync.Mutex
	embedder   backend.Embedder

	llmMu sync.Mutex
	llm   backend.LLM
}

// New constructs a Container. reg must already have factories registered
// for every backend name the effective settings can resolve to.
func New(cfg config.Config, store *settings.Store, reg *registry.Registry, logger *slog.Logger) *Container {
	return &Container{
		cfg:      cfg,
		settings: store,
		registry: reg,
		logger:   logger,
		parsers:  make(map[string]backend.Parser),
	}
}

// Config exposes the container's baked-in config, for callers (factories)
// that need it without re-reading the environment.
func (c *Container) Config() config.Config { return c.cfg }

// Logger exposes the container's logger, for factories that build
// backends needing one.
func (c *Container) Logger() *slog.Logger { return c.logger }

// Parser resolves and caches a Parser. configDefault is the caller's
// config-level choice (the pipeline passes its configured parser backend
// for every format it routes to a parser); a non-empty settings.Pipeline.ParserBackend override still takes
// precedence, per spec.md §4.3's effective-value resolution.
func (c *Container) Parser(ctx context.Context, configDefault string) (backend.Parser, error) {
	s := c.settings.Load()
	name := settings.EffectiveBackend(s.Pipeline.ParserBackend, configDefault)

	c.parserMu.Lock()
	defer c.parserMu.Unlock()

	if p, ok := c.parsers[name]; ok {
		return p, nil
	}

	raw, err := c.registry.Create(registry.KindParser, name, c)
	if err != nil {
		return nil, err
	}
	p, ok := raw.(backend.Parser)
	if !ok {
		return nil, fmt.Errorf("parser backend %q did not produce a backend.Parser", name)
	}
	if !p.IsAvailable(ctx) {
		return nil, fmt.Errorf("parser backend %q is not available", name)
	}
	c.parsers[name] = p
	return p, nil
}

// Archive resolves and caches the configured Archive backend.
func (c *Container) Archive(ctx context.Context) (backend.Archive, error) {
	c.archiveMu.Lock()
	defer c.archiveMu.Unlock()

	if c.archiveSvc != nil {
		return c.archiveSvc, nil
	}

	s := c.settings.Load()
	name := settings.EffectiveBackend(s.Pipeline.ArchiveBackend, c.cfg.ArchiveBackend)

	raw, err := c.registry.Create(registry.KindArchive, name, c)
	if err != nil {
		return nil, err
	}
	a, ok := raw.(backend.Archive)
	if !ok {
		return nil, fmt.Errorf("archive backend %q did not produce a backend.Archive", name)
	}
	if !a.IsAvailable(ctx) {
		return nil, fmt.Errorf("archive backend %q is not available", name)
	}
	c.archiveSvc = a
	return a, nil
}

// RAG resolves and caches the configured RAG backend.
func (c *Container) RAG(ctx context.Context) (backend.RAG, error) {
	c.ragMu.Lock()
	defer c.ragMu.Unlock()

	if c.ragSvc != nil {
		return c.ragSvc, nil
	}

	s := c.settings.Load()
	name := settings.EffectiveBackend(s.Pipeline.RAGBackend, c.cfg.RAGBackend)

	raw, err := c.registry.Create(registry.KindRAG, name, c)
	if err != nil {
		return nil, err
	}
	r, ok := raw.(backend.RAG)
	if !ok {
		return nil, fmt.Errorf("rag backend %q did not produce a backend.RAG", name)
	}
	if !r.IsAvailable(ctx) {
		return nil, fmt.Errorf("rag backend %q is not available", name)
	}
	c.ragSvc = r
	return r, nil
}

// VectorStore resolves and caches the vector store backend. It is kept
// distinct from RAG because internal/rag composes a VectorStore rather
// than being one; the "vector" RAG factory calls this to get its store.
func (c *Container) VectorStore() (backend.VectorStore, error) {
	c.vectorMu.Lock()
	defer c.vectorMu.Unlock()

	if c.vectorStore != nil {
		return c.vectorStore, nil
	}

	raw, err := c.registry.Create(registry.KindVectorStore, "pgvector", c)
	if err != nil {
		return nil, err
	}
	vs, ok := raw.(backend.VectorStore)
	if !ok {
		return nil, fmt.Errorf("vectorstore backend did not produce a backend.VectorStore")
	}
	c.vectorStore = vs
	return vs, nil
}

// Embedder resolves and caches the configured Embedder backend.
func (c *Container) Embedder() (backend.Embedder, error) {
	c.embedderMu.Lock()
	defer c.embedderMu.Unlock()

	if c.embedder != nil {
		return c.embedder, nil
	}

	name := c.cfg.EmbeddingBackend

	raw, err := c.registry.Create(registry.KindEmbedder, name, c)
	if err != nil {
		return nil, err
	}
	e, ok := raw.(backend.Embedder)
	if !ok {
		return nil, fmt.Errorf("embedder backend %q did not produce a backend.Embedder", name)
	}
	if !e.IsConfigured() {
		return nil, fmt.Errorf("embedder backend %q is not configured", name)
	}
	c.embedder = e
	return e, nil
}

// LLM resolves and caches the configured LLM backend.
func (c *Container) LLM() (backend.LLM, error) {
	c.llmMu.Lock()
	defer c.llmMu.Unlock()

	if c.llm != nil {
		return c.llm, nil
	}

	name := c.cfg.LLMBackend

	raw, err := c.registry.Create(registry.KindLLM, name, c)
	if err != nil {
		return nil, err
	}
	l, ok := raw.(backend.LLM)
	if !ok {
		return nil, fmt.Errorf("llm backend %q did not produce a backend.LLM", name)
	}
	if !l.IsConfigured() {
		return nil, fmt.Errorf("llm backend %q is not configured", name)
	}
	c.llm = l
	return l, nil
}

// ResetServices drops every cached backend instance, closing the vector
// store's pool first since it owns real connections. The next accessor
// call rebuilds from (possibly changed) settings.
func (c *Container) ResetServices(ctx context.Context) {
	c.vectorMu.Lock()
	if c.vectorStore != nil {
		_ = c.vectorStore.Close()
		c.vectorStore = nil
	}
	c.vectorMu.Unlock()

	c.archiveMu.Lock()
	c.archiveSvc = nil
	c.archiveMu.Unlock()

	c.ragMu.Lock()
	c.ragSvc = nil
	c.ragMu.Unlock()

	c.embedderMu.Lock()
	c.embedder = nil
	c.embedderMu.Unlock()

	c.llmMu.Lock()
	c.llm = nil
	c.llmMu.Unlock()

	c.parserMu.Lock()
	c.parsers = make(map[string]backend.Parser)
	c.parserMu.Unlock()
}
