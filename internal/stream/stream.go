// Package stream implements the streaming driver (spec.md §4.10): it
// consumes a lazy sequence of scraped items, reconstructs each into a
// domain.DocumentMetadata, and dispatches them one at a time to the
// pipeline orchestrator, aggregating a final domain.PipelineResult.
package stream

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/pipeline"
)

// knownFields is the set of Item keys the driver understands; anything
// else is dropped with a logged warning rather than silently carried
// through to DocumentMetadata.Extras.
var knownFields = map[string]bool{
	"title": true, "url": true, "filename": true, "local_path": true,
	"pdf_path": true, "organization": true, "tags": true, "document_type": true,
	"author": true, "page_count": true, "language": true, "description": true,
	"keywords": true, "image_url": true, "publication_date": true, "source": true,
}

// Item is one yielded unit from a scraper: a loosely-typed map carrying at
// minimum title, url, filename, and local_path or pdf_path.
type Item map[string]any

// ScraperSummary is the scraper's terminal return value, merged into the
// final PipelineResult (spec.md §4.10).
type ScraperSummary struct {
	ScraperName string
	Scraped     int
	Skipped     int
	Errors      []string
}

// Driver drains a scraper's item sequence through the orchestrator,
// strictly serially, applying an outward rate limit between dispatches.
type Driver struct {
	orchestrator *pipeline.Orchestrator
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// New constructs a Driver. ratePerSecond <= 0 disables throttling.
func New(o *pipeline.Orchestrator, ratePerSecond float64, logger *slog.Logger) *Driver {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Driver{orchestrator: o, limiter: limiter, logger: logger}
}

// Run drains items, dispatching each serially to the orchestrator, and
// merges summary (the scraper's terminal counters) into the result.
//
// summary is read only after items closes, so a producer goroutine that
// still mutates it while feeding the channel (as readItems does) is safe:
// the channel close happens-after the producer's last write.
func (d *Driver) Run(ctx context.Context, items <-chan Item, summary *ScraperSummary, opts pipeline.RunOptions) domain.PipelineResult {
	result := domain.PipelineResult{
		ScraperName:   summary.ScraperName,
		StepDurations: make(map[string]time.Duration),
		StartedAt:     timeNow(),
	}

	anyFailed := false

	for item := range items {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				break
			}
		}

		meta, path, ok := reconstruct(item, d.logger)
		if !ok {
			anyFailed = true
			result.Failed++
			result.AddError(titleOf(item), "missing or non-existent local path")
			continue
		}
		result.Downloaded++

		outcome := d.orchestrator.RunDocument(ctx, path, meta, opts)
		mergeOutcome(&result, outcome, &anyFailed)
	}

	result.Scraped = summary.Scraped
	for _, e := range summary.Errors {
		result.Errors = append(result.Errors, e)
	}

	result.CompletedAt = timeNow()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	switch {
	case summary.ScraperName == "" && summary.Scraped == 0 && len(summary.Errors) > 0:
		result.Status = domain.StatusFailed
	case anyFailed:
		result.Status = domain.StatusPartial
	default:
		result.Status = domain.StatusCompleted
	}

	return result
}

func mergeOutcome(result *domain.PipelineResult, outcome pipeline.DocumentOutcome, anyFailed *bool) {
	if outcome.Parsed {
		result.Parsed++
	}
	if outcome.Archived {
		result.Archived++
	}
	if outcome.Verified {
		result.Verified++
	}
	if outcome.RAGIndexed {
		result.RAGIndexed++
	}
	if outcome.Failed {
		result.Failed++
		*anyFailed = true
		result.AddError(outcome.ErrorTitle, outcome.ErrorMessage)
	} else if outcome.ErrorMessage != "" {
		// non-fatal step failure recorded but document still counted as
		// parsed+archived
		result.AddError(outcome.ErrorTitle, outcome.ErrorMessage)
	}
	for stage, d := range outcome.StepDurations {
		result.StepDurations[stage] += d
	}
}

func titleOf(item Item) string {
	if t, ok := item["title"].(string); ok && t != "" {
		return t
	}
	return "Unknown"
}

// reconstruct builds a DocumentMetadata and resolves the on-disk path from
// one scraper item, dropping unknown keys (logged) and returning ok=false
// when the path is missing or does not exist.
func reconstruct(item Item, logger *slog.Logger) (domain.DocumentMetadata, string, bool) {
	var dropped []string
	for k := range item {
		if !knownFields[k] {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) > 0 {
		logger.Warn("dropping unknown scraper item fields", "fields", dropped)
	}

	meta := domain.DocumentMetadata{
		Title:           stringField(item, "title"),
		URL:             stringField(item, "url"),
		Filename:        stringField(item, "filename"),
		Organization:    stringField(item, "organization"),
		DocumentType:    stringField(item, "document_type"),
		Author:          stringField(item, "author"),
		Language:        stringField(item, "language"),
		Description:     stringField(item, "description"),
		ImageURL:        stringField(item, "image_url"),
		PublicationDate: stringField(item, "publication_date"),
		Source:          stringField(item, "source"),
		Tags:            stringSliceField(item, "tags"),
		Keywords:        stringSliceField(item, "keywords"),
	}
	meta.PageCount = intField(item, "page_count")

	path := stringField(item, "local_path")
	if path == "" {
		path = stringField(item, "pdf_path")
	}
	if path == "" {
		return meta, "", false
	}
	if _, err := os.Stat(path); err != nil {
		return meta, "", false
	}

	return meta, path, true
}

func stringField(item Item, key string) string {
	if v, ok := item[key].(string); ok {
		return v
	}
	return ""
}

// intField accepts both a native int (direct Go construction, e.g. in
// tests) and the float64 encoding/json produces for numeric JSON values.
func intField(item Item, key string) int {
	switch v := item[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceField(item Item, key string) []string {
	v, ok := item[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// timeNow exists so tests can't accidentally rely on wall-clock ordering
// across a run boundary; kept as a thin wrapper rather than a package-level
// var to avoid a surprising global for such a small indirection.
func timeNow() time.Time { return time.Now() }
