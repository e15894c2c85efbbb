package container

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/config"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/registry"
	"github.com/WessleyAI/wessley-mvp/internal/settings"
)

type fakeParser struct {
	name      string
	available bool
}

func (p *fakeParser) Name() string                      { return p.name }
func (p *fakeParser) IsAvailable(_ context.Context) bool { return p.available }
func (p *fakeParser) SupportedExtensions() []string      { return []string{".pdf"} }
func (p *fakeParser) Parse(_ context.Context, _ string, _ map[string]any) (domain.ParserResult, error) {
	return domain.NewParserSuccess("out.md", p.name, nil)
}

type fakeArchive struct{ configured bool }

func (a *fakeArchive) Name() string                       { return "fake" }
func (a *fakeArchive) IsConfigured() bool                 { return a.configured }
func (a *fakeArchive) IsAvailable(_ context.Context) bool { return a.configured }
func (a *fakeArchive) Archive(_ context.Context, _, _, _, _ string, _ []string, _ map[string]any) (domain.ArchiveResult, error) {
	return domain.NewArchiveSuccess("id", "", "fake")
}
func (a *fakeArchive) Verify(_ context.Context, _ string, _ int) bool { return true }

type fakeRAG struct{ available bool }

func (r *fakeRAG) Name() string                         { return "fake" }
func (r *fakeRAG) IsConfigured() bool                    { return r.available }
func (r *fakeRAG) IsAvailable(_ context.Context) bool    { return r.available }
func (r *fakeRAG) TestConnection(_ context.Context) bool { return r.available }
func (r *fakeRAG) Ingest(_ context.Context, _ string, _ map[string]any, _ string) (domain.RAGResult, error) {
	return domain.NewRAGSuccess("id", "source", "fake")
}
func (r *fakeRAG) ListDocuments(_ context.Context, _ string) ([]string, error) { return nil, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *settings.Store {
	t.Helper()
	return settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
}

func TestParserIsCachedByName(t *testing.T) {
	reg := registry.New()
	calls := 0
	reg.Register(registry.KindParser, "docling_serve", func(raw any) (any, error) {
		calls++
		return &fakeParser{name: "docling_serve", available: true}, nil
	})

	c := New(config.Config{}, testStore(t), reg, testLogger())
	ctx := context.Background()

	p1, err := c.Parser(ctx, "docling_serve")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := c.Parser(ctx, "docling_serve")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1 != p2 {
		t.Error("expected the same cached Parser instance on the second call")
	}
	if calls != 1 {
		t.Errorf("factory invoked %d times, want exactly 1", calls)
	}
}

func TestParserFailsWhenBackendNotAvailable(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.KindParser, "docling_serve", func(raw any) (any, error) {
		return &fakeParser{name: "docling_serve", available: false}, nil
	})
	c := New(config.Config{}, testStore(t), reg, testLogger())

	if _, err := c.Parser(context.Background(), "docling_serve"); err == nil {
		t.Error("expected an error when the resolved parser backend reports unavailable")
	}
}

func TestParserSettingsOverrideTakesPrecedenceOverConfigDefault(t *testing.T) {
	reg := registry.New()
	var builtName string
	build := func(name string) registry.Factory {
		return func(raw any) (any, error) {
			builtName = name
			return &fakeParser{name: name, available: true}, nil
		}
	}
	reg.Register(registry.KindParser, "docling_serve", build("docling_serve"))
	reg.Register(registry.KindParser, "unstructured", build("unstructured"))

	store := testStore(t)
	if err := store.Save(settings.File{Pipeline: settings.Pipeline{ParserBackend: "unstructured"}}); err != nil {
		t.Fatal(err)
	}

	c := New(config.Config{}, store, reg, testLogger())
	if _, err := c.Parser(context.Background(), "docling_serve"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builtName != "unstructured" {
		t.Errorf("built backend %q, want the settings override %q", builtName, "unstructured")
	}
}

func TestArchiveFailsWhenBackendNotConfigured(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.KindArchive, "paperless", func(raw any) (any, error) {
		return &fakeArchive{configured: false}, nil
	})
	c := New(config.Config{ArchiveBackend: "paperless"}, testStore(t), reg, testLogger())

	if _, err := c.Archive(context.Background()); err == nil {
		t.Error("expected an error when the resolved archive backend reports unconfigured")
	}
}

func TestArchiveSettingsOverrideTakesPrecedenceOverConfig(t *testing.T) {
	reg := registry.New()
	var builtName string
	build := func(name string) registry.Factory {
		return func(raw any) (any, error) {
			builtName = name
			return &fakeArchive{configured: true}, nil
		}
	}
	reg.Register(registry.KindArchive, "paperless", build("paperless"))
	reg.Register(registry.KindArchive, "other", build("other"))

	store := testStore(t)
	if err := store.Save(settings.File{Pipeline: settings.Pipeline{ArchiveBackend: "other", MetadataMergeStrategy: "smart"}}); err != nil {
		t.Fatal(err)
	}

	c := New(config.Config{ArchiveBackend: "paperless"}, store, reg, testLogger())
	if _, err := c.Archive(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builtName != "other" {
		t.Errorf("built backend %q, want the settings override %q", builtName, "other")
	}
}

func TestRAGFailsWhenBackendNotAvailable(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.KindRAG, "vector", func(raw any) (any, error) {
		return &fakeRAG{available: false}, nil
	})
	c := New(config.Config{RAGBackend: "vector"}, testStore(t), reg, testLogger())

	if _, err := c.RAG(context.Background()); err == nil {
		t.Error("expected an error when the resolved RAG backend reports unavailable")
	}
}

func TestRAGSettingsOverrideTakesPrecedenceOverConfig(t *testing.T) {
	reg := registry.New()
	var builtName string
	build := func(name string) registry.Factory {
		return func(raw any) (any, error) {
			builtName = name
			return &fakeRAG{available: true}, nil
		}
	}
	reg.Register(registry.KindRAG, "vector", build("vector"))
	reg.Register(registry.KindRAG, "llamaindex", build("llamaindex"))

	store := testStore(t)
	if err := store.Save(settings.File{Pipeline: settings.Pipeline{RAGBackend: "llamaindex"}}); err != nil {
		t.Fatal(err)
	}

	c := New(config.Config{RAGBackend: "vector"}, store, reg, testLogger())
	if _, err := c.RAG(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builtName != "llamaindex" {
		t.Errorf("built backend %q, want the settings override %q", builtName, "llamaindex")
	}
}

func TestResetServicesClearsCaches(t *testing.T) {
	reg := registry.New()
	calls := 0
	reg.Register(registry.KindArchive, "paperless", func(raw any) (any, error) {
		calls++
		return &fakeArchive{configured: true}, nil
	})
	c := New(config.Config{ArchiveBackend: "paperless"}, testStore(t), reg, testLogger())

	if _, err := c.Archive(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.ResetServices(context.Background())
	if _, err := c.Archive(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("factory invoked %d times across a reset, want 2", calls)
	}
}

var _ backend.Parser = (*fakeParser)(nil)
var _ backend.Archive = (*fakeArchive)(nil)
var _ backend.RAG = (*fakeRAG)(nil)
