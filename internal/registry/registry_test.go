package registry

import "testing"

func TestRegisterAndCreate(t *testing.T) {
	r := New()
	r.Register(KindEmbedder, "fake", func(c any) (any, error) { return "embedder-instance", nil })

	got, err := r.Create(KindEmbedder, "fake", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "embedder-instance" {
		t.Errorf("got %v, want embedder-instance", got)
	}
}

func TestCreateUnknownNameFails(t *testing.T) {
	r := New()
	if _, err := r.Create(KindParser, "nonexistent", nil); err == nil {
		t.Error("expected an error for an unregistered backend name")
	}
}

func TestRegisterUnimplementedAlwaysFails(t *testing.T) {
	r := New()
	r.RegisterUnimplemented(KindLLM, "future-backend")
	if !r.Has(KindLLM, "future-backend") {
		t.Fatal("expected Has to report true once registered, even unimplemented")
	}
	if _, err := r.Create(KindLLM, "future-backend", nil); err == nil {
		t.Error("expected RegisterUnimplemented's factory to always return an error")
	}
}

func TestRegisterOverwritesEarlierFactory(t *testing.T) {
	r := New()
	r.Register(KindArchive, "x", func(c any) (any, error) { return "first", nil })
	r.Register(KindArchive, "x", func(c any) (any, error) { return "second", nil })

	got, _ := r.Create(KindArchive, "x", nil)
	if got != "second" {
		t.Errorf("got %v, want the later registration to win", got)
	}
}

func TestNamesListsRegisteredBackendsForKind(t *testing.T) {
	r := New()
	r.Register(KindEmbedder, "ollama", func(c any) (any, error) { return nil, nil })
	r.Register(KindEmbedder, "openai", func(c any) (any, error) { return nil, nil })
	r.Register(KindLLM, "ollama", func(c any) (any, error) { return nil, nil })

	names := r.Names(KindEmbedder)
	if len(names) != 2 {
		t.Fatalf("Names(KindEmbedder) = %v, want 2 entries", names)
	}
}
