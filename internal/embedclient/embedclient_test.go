package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSelectsBackendByName(t *testing.T) {
	cases := map[string]string{
		"ollama": "ollama",
		"":       "ollama",
		"openai": "api",
		"api":    "api",
	}
	for backend, wantName := range cases {
		e, err := New(Config{Backend: backend, URL: "http://example.invalid", Model: "m"})
		if err != nil {
			t.Fatalf("New(%q): unexpected error: %v", backend, err)
		}
		if e.Name() != wantName {
			t.Errorf("New(%q).Name() = %q, want %q", backend, e.Name(), wantName)
		}
	}
}

func TestNewUnknownBackendFails(t *testing.T) {
	if _, err := New(Config{Backend: "carrier-pigeon"}); err == nil {
		t.Error("expected an error for an unrecognized embedding backend")
	}
}

func TestNewDefaultsBatchSize(t *testing.T) {
	e, err := New(Config{Backend: "ollama", URL: "http://x", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	oc := e.(*OllamaClient)
	if oc.cfg.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want default 32", oc.cfg.BatchSize)
	}
}

func TestOllamaClientIsConfigured(t *testing.T) {
	c := NewOllamaClient(Config{URL: "http://x", Model: "m"})
	if !c.IsConfigured() {
		t.Error("expected configured client with URL and model set")
	}
	empty := NewOllamaClient(Config{})
	if empty.IsConfigured() {
		t.Error("expected client with no URL/model to be unconfigured")
	}
}

func TestOllamaClientEmbedBatchesRequests(t *testing.T) {
	var requests int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2, 0.3})
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewOllamaClient(Config{URL: srv.URL, Model: "nomic-embed-text", BatchSize: 2, Timeout: 5})
	texts := []string{"a", "b", "c", "d", "e"}
	result, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embeddings) != 5 {
		t.Fatalf("got %d embeddings, want 5", len(result.Embeddings))
	}
	if requests != 3 {
		t.Errorf("made %d requests for batch size 2 over 5 items, want 3", requests)
	}
	if result.Dims != 3 {
		t.Errorf("Dims = %d, want 3", result.Dims)
	}
}

func TestOllamaClientEmbedEmptyTextsShortCircuits(t *testing.T) {
	c := NewOllamaClient(Config{URL: "http://example.invalid", Model: "m"})
	result, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embeddings) != 0 {
		t.Error("expected no embeddings for empty input without making any request")
	}
}

func TestOllamaClientEmbedErrorsWhenNotConfigured(t *testing.T) {
	c := NewOllamaClient(Config{})
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("expected an error embedding with an unconfigured client")
	}
}

func TestOllamaClientEmbedSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(Config{URL: srv.URL, Model: "m", Timeout: 5})
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("expected an error when the server returns a non-2xx status")
	}
}

func TestOpenAIClientIsConfigured(t *testing.T) {
	c := NewOpenAIClient(Config{URL: "http://x", Model: "text-embedding-3-small"})
	if !c.IsConfigured() {
		t.Error("expected configured client with URL and model set")
	}
	if NewOpenAIClient(Config{}).IsConfigured() {
		t.Error("expected client with no URL/model to be unconfigured")
	}
}
