package main

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/WessleyAI/wessley-mvp/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func drain(items <-chan stream.Item) []stream.Item {
	var out []stream.Item
	for item := range items {
		out = append(out, item)
	}
	return out
}

func TestReadItemsParsesNDJSON(t *testing.T) {
	input := strings.NewReader(`{"title":"Doc A","local_path":"/tmp/a.pdf"}
{"title":"Doc B","local_path":"/tmp/b.pdf"}
`)
	items, summary := readItems(input, "my-scraper", 0, testLogger())
	got := drain(items)

	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
	if summary.Scraped != 2 {
		t.Errorf("summary.Scraped = %d, want 2", summary.Scraped)
	}
	if summary.ScraperName != "my-scraper" {
		t.Errorf("summary.ScraperName = %q", summary.ScraperName)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("summary.Errors = %v, want none", summary.Errors)
	}
}

func TestReadItemsSkipsMalformedLines(t *testing.T) {
	input := strings.NewReader(`{"title":"Doc A"}
not valid json
{"title":"Doc B"}
`)
	items, summary := readItems(input, "scraper", 0, testLogger())
	got := drain(items)

	if len(got) != 2 {
		t.Fatalf("got %d items, want 2 (malformed line skipped)", len(got))
	}
	if summary.Scraped != 2 {
		t.Errorf("summary.Scraped = %d, want 2", summary.Scraped)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("summary.Errors = %v, want exactly one malformed-item error", summary.Errors)
	}
}

func TestReadItemsRespectsMaxItems(t *testing.T) {
	input := strings.NewReader(`{"title":"Doc A"}
{"title":"Doc B"}
{"title":"Doc C"}
`)
	items, summary := readItems(input, "scraper", 2, testLogger())
	got := drain(items)

	if len(got) != 2 {
		t.Fatalf("got %d items, want exactly 2 due to max_pages limit", len(got))
	}
	if summary.Scraped != 2 {
		t.Errorf("summary.Scraped = %d, want 2", summary.Scraped)
	}
}

func TestReadItemsSkipsBlankLines(t *testing.T) {
	input := strings.NewReader("\n\n{\"title\":\"Doc A\"}\n\n")
	items, summary := readItems(input, "scraper", 0, testLogger())
	got := drain(items)

	if len(got) != 1 {
		t.Fatalf("got %d items, want 1", len(got))
	}
	if summary.Scraped != 1 {
		t.Errorf("summary.Scraped = %d, want 1", summary.Scraped)
	}
}

func TestReadItemsEmptyInputProducesEmptySummary(t *testing.T) {
	items, summary := readItems(strings.NewReader(""), "scraper", 0, testLogger())
	got := drain(items)
	if len(got) != 0 {
		t.Errorf("got %d items, want 0", len(got))
	}
	if summary.Scraped != 0 {
		t.Errorf("summary.Scraped = %d, want 0", summary.Scraped)
	}
}
