package archive

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestArchiveNotConfigured(t *testing.T) {
	b := New(Config{}, testLogger())
	if b.IsConfigured() {
		t.Fatal("expected IsConfigured() false with no URL/token")
	}
	result, err := b.Archive(context.Background(), "does-not-matter", "title", "", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected failure result when not configured")
	}
}

func TestArchiveMissingFile(t *testing.T) {
	b := New(Config{URL: "http://example.invalid", Token: "tok"}, testLogger())
	result, err := b.Archive(context.Background(), "/no/such/file.pdf", "title", "", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected failure result for a nonexistent file")
	}
}

func TestArchiveSuccessStashesPendingMetadata(t *testing.T) {
	var gotTitle string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/post_document/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		gotTitle = r.FormValue("title")
		w.Write([]byte(`"task-123"`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New(Config{URL: srv.URL, Token: "tok"}, testLogger())
	result, err := b.Archive(context.Background(), path, "Owner's Manual", "", "", []string{"recall"}, map[string]any{"extra": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("result.Success = false, error = %q", result.Error)
	}
	if result.DocumentID != "task-123" {
		t.Errorf("DocumentID = %q, want task-123", result.DocumentID)
	}
	if gotTitle != "Owner's Manual" {
		t.Errorf("uploaded title = %q, want %q", gotTitle, "Owner's Manual")
	}

	if _, ok := b.pending.PopAndGet(context.Background(), "task-123"); !ok {
		t.Error("expected pending metadata to be stashed for task-123")
	}
}

func TestVerifySucceedsAndAppliesCustomFields(t *testing.T) {
	var patched int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		docID := 42
		resp := []taskStatusResponse{{Status: "SUCCESS", RelatedDocument: &docID}}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/documents/42/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&patched, 1)
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "custom_fields") {
			t.Errorf("PATCH body missing custom_fields: %s", body)
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(Config{URL: srv.URL, Token: "tok"}, testLogger())
	b.pending.Put(context.Background(), "task-123", map[string]any{"custom": "value"})

	ok := b.Verify(context.Background(), "task-123", 5)
	if !ok {
		t.Fatal("expected Verify to succeed")
	}
	if atomic.LoadInt32(&patched) != 1 {
		t.Error("expected custom fields PATCH to have been sent exactly once")
	}

	if _, hadPending := b.pending.PopAndGet(context.Background(), "task-123"); hadPending {
		t.Error("pending metadata should have been popped by Verify")
	}
}

func TestVerifyTimesOutWhenTaskNeverResolves(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]taskStatusResponse{{Status: "STARTED"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(Config{URL: srv.URL, Token: "tok"}, testLogger())

	start := time.Now()
	ok := b.Verify(context.Background(), "task-never", 1)
	if ok {
		t.Error("expected Verify to time out and return false")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Verify took implausibly long to time out")
	}
}

func TestNormalizeCreatedTrailingZ(t *testing.T) {
	got := normalizeCreated("2024-01-02T03:04:05Z", testLogger())
	want := "2024-01-02T03:04:05+00:00"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeCreatedInvalidReturnsEmpty(t *testing.T) {
	got := normalizeCreated("not-a-date", testLogger())
	if got != "" {
		t.Errorf("got %q, want empty string for unparseable date", got)
	}
}

func TestNormalizeCreatedEmptyPassesThrough(t *testing.T) {
	if got := normalizeCreated("", testLogger()); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
