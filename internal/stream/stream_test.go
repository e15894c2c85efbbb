package stream

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReconstructResolvesLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	item := Item{
		"title":      "Owner's Manual",
		"local_path": path,
		"tags":       []any{"recall", "engine"},
		"page_count": 12,
	}
	meta, gotPath, ok := reconstruct(item, testLogger())
	if !ok {
		t.Fatal("expected reconstruct to succeed")
	}
	if gotPath != path {
		t.Errorf("path = %q, want %q", gotPath, path)
	}
	if meta.Title != "Owner's Manual" {
		t.Errorf("Title = %q", meta.Title)
	}
	if len(meta.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", meta.Tags)
	}
	if meta.PageCount != 12 {
		t.Errorf("PageCount = %d, want 12", meta.PageCount)
	}
}

// TestReconstructPageCountFromJSON guards against encoding/json's
// float64-for-numbers decoding: items arriving over the wire (as
// cmd/ingest's readItems feeds them) carry page_count as float64, not int.
func TestReconstructPageCountFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var item Item
	payload := `{"title":"doc","local_path":` + strconv.Quote(path) + `,"page_count":12}`
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		t.Fatal(err)
	}
	meta, _, ok := reconstruct(item, testLogger())
	if !ok {
		t.Fatal("expected reconstruct to succeed")
	}
	if meta.PageCount != 12 {
		t.Errorf("PageCount = %d, want 12", meta.PageCount)
	}
}

func TestReconstructFallsBackToPDFPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	item := Item{"title": "doc", "pdf_path": path}
	_, gotPath, ok := reconstruct(item, testLogger())
	if !ok || gotPath != path {
		t.Errorf("reconstruct = (%q, %v), want (%q, true)", gotPath, ok, path)
	}
}

func TestReconstructMissingPathFails(t *testing.T) {
	item := Item{"title": "doc"}
	_, _, ok := reconstruct(item, testLogger())
	if ok {
		t.Error("expected reconstruct to fail when no path field is present")
	}
}

func TestReconstructNonexistentPathFails(t *testing.T) {
	item := Item{"title": "doc", "local_path": "/no/such/file.pdf"}
	_, _, ok := reconstruct(item, testLogger())
	if ok {
		t.Error("expected reconstruct to fail for a path that does not exist on disk")
	}
}

func TestTitleOfFallsBackToUnknown(t *testing.T) {
	if got := titleOf(Item{}); got != "Unknown" {
		t.Errorf("titleOf(empty) = %q, want Unknown", got)
	}
	if got := titleOf(Item{"title": "Recall Notice"}); got != "Recall Notice" {
		t.Errorf("titleOf = %q, want Recall Notice", got)
	}
}

func TestMergeOutcomeAggregatesCounters(t *testing.T) {
	result := &domain.PipelineResult{StepDurations: make(map[string]time.Duration)}
	anyFailed := false

	mergeOutcome(result, pipeline.DocumentOutcome{
		Parsed: true, Archived: true, Verified: true, RAGIndexed: true,
		StepDurations: map[string]time.Duration{"parse": time.Second},
	}, &anyFailed)

	if result.Parsed != 1 || result.Archived != 1 || result.Verified != 1 || result.RAGIndexed != 1 {
		t.Errorf("counters not all incremented: %+v", result)
	}
	if anyFailed {
		t.Error("anyFailed should remain false for a fully-succeeding outcome")
	}
	if result.StepDurations["parse"] != time.Second {
		t.Errorf("StepDurations[parse] = %v, want 1s", result.StepDurations["parse"])
	}
}

func TestMergeOutcomeMarksFailure(t *testing.T) {
	result := &domain.PipelineResult{StepDurations: make(map[string]time.Duration)}
	anyFailed := false

	mergeOutcome(result, pipeline.DocumentOutcome{
		Failed: true, ErrorTitle: "doc.pdf", ErrorMessage: "parse: boom",
		StepDurations: map[string]time.Duration{},
	}, &anyFailed)

	if !anyFailed {
		t.Error("anyFailed should be set true on a failed outcome")
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "doc.pdf: parse: boom" {
		t.Errorf("Errors = %v, want one entry %q", result.Errors, "doc.pdf: parse: boom")
	}
}
