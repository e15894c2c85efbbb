// Command ingest runs the document ingestion and RAG-indexing pipeline for
// one scraper invocation (spec.md §6 "Process CLI"): parse, enrich,
// archive, verify, and index every document a scraper yields. The scraper
// itself is an external collaborator; this process consumes its yielded
// items as newline-delimited JSON on stdin (or --input), each one an
// object with at minimum title, url, filename, and local_path or pdf_path.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-mvp/internal/config"
	"github.com/WessleyAI/wessley-mvp/internal/container"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/enrich"
	"github.com/WessleyAI/wessley-mvp/internal/pipeline"
	"github.com/WessleyAI/wessley-mvp/internal/registry"
	"github.com/WessleyAI/wessley-mvp/internal/settings"
	"github.com/WessleyAI/wessley-mvp/internal/stream"
	"github.com/WessleyAI/wessley-mvp/pkg/metrics"
)

var met = metrics.New()

var (
	mDocsTotal = func(status string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("wessley_ingest_docs_total", "status", status), "Documents processed, by terminal status")
	}
	mDocsParsed   = met.Counter("wessley_ingest_docs_parsed_total", "Documents successfully parsed")
	mDocsArchived = met.Counter("wessley_ingest_docs_archived_total", "Documents successfully archived")
	mDocsVerified = met.Counter("wessley_ingest_docs_verified_total", "Documents verified in archive")
	mDocsIndexed  = met.Counter("wessley_ingest_docs_rag_indexed_total", "Documents indexed for RAG")
	mRunDuration  = met.Histogram("wessley_ingest_run_duration_seconds", "Total run wall-clock time", nil)
	mStageDur     = func(stage string) *metrics.Histogram {
		return met.Histogram(metrics.WithLabels("wessley_ingest_stage_duration_seconds", "stage", stage), "Per-stage cumulative duration", nil)
	}
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		scraperName     = flag.String("scraper_name", "", "name of the scraper that produced this run's items")
		datasetID       = flag.String("dataset_id", "", "RAG collection/dataset id; also the default vector-store source")
		maxPages        = flag.Int("max_pages", 0, "maximum input items to process (0 = no limit)")
		uploadToArchive = flag.Bool("upload_to_archive", true, "upload documents to the archive backend")
		uploadToRAG     = flag.Bool("upload_to_rag", true, "index documents for RAG retrieval")
		settingsPath    = flag.String("settings_file", "settings.json", "path to the runtime settings file")
		inputPath       = flag.String("input", "", "newline-delimited JSON file of scraper items (default: stdin)")
		metricsPort     = flag.Int("metrics_port", 9091, "port to serve Prometheus-text metrics on")
		dispatchRate    = flag.Float64("dispatch_rate", 0, "max documents dispatched per second (0 = unthrottled)")
		useNATS         = flag.Bool("nats", false, "subscribe to NATS ("+stream.IngestSubject+") instead of reading stdin/--input")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort)

	cfg := config.FromEnv()
	store := settings.NewStore(*settingsPath)
	reg := registry.New()
	container.RegisterDefaultFactories(reg)
	c := container.New(cfg, store, reg, log)

	var tier1 *enrich.Service
	if llm, err := c.LLM(); err == nil {
		tier1 = enrich.New(llm, 0, log)
	} else {
		log.Warn("tier-1 LLM enrichment disabled", "error", err)
	}

	orch := pipeline.New(c, cfg, store, tier1, log)
	driver := stream.New(orch, *dispatchRate, log)

	opts := pipeline.RunOptions{
		UploadToArchive: *uploadToArchive,
		UploadToRAG:     *uploadToRAG,
		DatasetID:       *datasetID,
	}

	if *useNATS {
		return runNATS(ctx, log, cfg, driver, opts)
	}

	in := os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Error("failed to open input", "path", *inputPath, "error", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	items, summary := readItems(in, *scraperName, *maxPages, log)

	result := driver.Run(ctx, items, summary, opts)
	emitResult(log, result)

	mRunDuration.Observe(result.Duration.Seconds())
	mDocsParsed.Add(int64(result.Parsed))
	mDocsArchived.Add(int64(result.Archived))
	mDocsVerified.Add(int64(result.Verified))
	mDocsIndexed.Add(int64(result.RAGIndexed))
	mDocsTotal(string(result.Status)).Add(int64(result.Scraped))
	for stage, d := range result.StepDurations {
		mStageDur(stage).Observe(d.Seconds())
	}

	switch result.Status {
	case domain.StatusCompleted, domain.StatusPartial:
		return 0
	default:
		return 1
	}
}

// runNATS drives ingestion from NATS messages instead of stdin, blocking
// until the process receives an interrupt. Each message is processed
// independently (spec.md's Process CLI's single-run PipelineResult
// aggregation does not apply here), so only per-document outcomes are
// logged; failures are retried and eventually routed to the DLQ subject by
// stream.StartNATSConsumer.
func runNATS(ctx context.Context, log *slog.Logger, cfg config.Config, driver *stream.Driver, opts pipeline.RunOptions) int {
	if cfg.NATSURL == "" {
		log.Error("-nats requires NATS_URL to be set")
		return 1
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
		return 1
	}
	defer nc.Close()

	sub, err := stream.StartNATSConsumer(nc, driver, opts)
	if err != nil {
		log.Error("failed to subscribe to NATS ingest subject", "subject", stream.IngestSubject, "error", err)
		return 1
	}
	defer func() { _ = sub.Unsubscribe() }()

	log.Info("listening for ingest messages", "subject", stream.IngestSubject, "url", cfg.NATSURL)
	<-ctx.Done()
	log.Info("shutting down NATS consumer")
	return 0
}

// readItems decodes newline-delimited JSON objects from r into a channel,
// closing it once the input is exhausted or maxItems is reached. A
// malformed line is counted as a scraper-reported error rather than
// aborting the whole run.
func readItems(r io.Reader, scraperName string, maxItems int, log *slog.Logger) (<-chan stream.Item, *stream.ScraperSummary) {
	out := make(chan stream.Item)
	summary := &stream.ScraperSummary{ScraperName: scraperName}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	go func() {
		defer close(out)
		count := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var item stream.Item
			if err := json.Unmarshal(line, &item); err != nil {
				log.Warn("skipping malformed scraper item", "error", err)
				summary.Errors = append(summary.Errors, "malformed item: "+err.Error())
				continue
			}
			out <- item
			count++
			summary.Scraped++
			if maxItems > 0 && count >= maxItems {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			log.Error("reading scraper items failed", "error", err)
			summary.Errors = append(summary.Errors, "input read error: "+err.Error())
		}
	}()

	return out, summary
}

func emitResult(log *slog.Logger, result domain.PipelineResult) {
	log.Info("pipeline run complete",
		"status", result.Status,
		"scraper", result.ScraperName,
		"scraped", result.Scraped,
		"parsed", result.Parsed,
		"archived", result.Archived,
		"verified", result.Verified,
		"rag_indexed", result.RAGIndexed,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	for _, e := range result.Errors {
		log.Warn("document error", "detail", e)
	}
}
