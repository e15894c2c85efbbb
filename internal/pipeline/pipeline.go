// Package pipeline implements the central per-document state machine
// (spec.md §4.9): format routing, the ten ordered steps, fatal/non-fatal
// error classification, and run-level result aggregation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/wessley-mvp/internal/config"
	"github.com/WessleyAI/wessley-mvp/internal/container"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
	"github.com/WessleyAI/wessley-mvp/internal/enrich"
	"github.com/WessleyAI/wessley-mvp/internal/settings"
)

var tracer = otel.Tracer("internal/pipeline")

// withSpan wraps fn in a child span named "ingest."+stage, recording fn's
// error on the span before returning it.
func withSpan(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "ingest."+stage)
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// FatalError wraps an error that aborts the remaining archive-path steps
// for one document and counts it as failed (parser failure, archive
// failure). It mirrors the teacher's sentinel-wrapping ValidationError
// pattern applied to document-level outcomes instead of field validation.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %s", e.Stage, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// NonFatalError wraps an error that is logged and counted but does not
// stop the remaining steps (verify timeout, RAG ingest failure).
type NonFatalError struct {
	Stage string
	Err   error
}

func (e *NonFatalError) Error() string { return fmt.Sprintf("%s: %s", e.Stage, e.Err) }
func (e *NonFatalError) Unwrap() error { return e.Err }

// docType is the format-routing classification of an input document.
type docType string

const (
	docPDF      docType = "pdf"
	docMarkdown docType = "markdown"
	docHTML     docType = "html"
	docOffice   docType = "office"
	docOther    docType = "other"
)

func classify(path string) docType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return docPDF
	case ".md", ".markdown":
		return docMarkdown
	case ".html", ".htm":
		return docHTML
	case ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx":
		return docOffice
	default:
		return docOther
	}
}

// RunOptions toggles the archive and RAG upload steps for one run, and
// carries the RAG collection id (spec.md §6 Process CLI).
type RunOptions struct {
	UploadToArchive bool
	UploadToRAG     bool
	DatasetID       string
}

// DocumentOutcome is the result of running one document through the
// orchestrator; internal/stream aggregates these into a PipelineResult.
type DocumentOutcome struct {
	Title         string
	Parsed        bool
	Archived      bool
	Verified      bool
	RAGIndexed    bool
	Failed        bool
	ErrorTitle    string
	ErrorMessage  string
	StepDurations map[string]time.Duration
}

// Orchestrator runs one document at a time through the ten ordered steps.
type Orchestrator struct {
	container      *container.Container
	cfg            config.Config
	settingsStore  *settings.Store
	tika           *TikaClient
	renderer       *RendererClient
	tier1Enricher  *enrich.Service // nil disables Tier-1 LLM enrichment
	logger         *slog.Logger
}

// New constructs an Orchestrator. tier1Enricher may be nil to disable
// Tier-1 LLM metadata enrichment regardless of settings.
func New(c *container.Container, cfg config.Config, store *settings.Store, tier1Enricher *enrich.Service, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		container:     c,
		cfg:           cfg,
		settingsStore: store,
		tika:          NewTikaClient(cfg.TikaURL, cfg.TikaTimeout),
		renderer:      NewRendererClient(cfg.RendererURL, cfg.RendererTimeout),
		tier1Enricher: tier1Enricher,
		logger:        logger,
	}
}

// RunDocument executes the ten ordered steps for one document.
func (o *Orchestrator) RunDocument(ctx context.Context, path string, meta domain.DocumentMetadata, opts RunOptions) DocumentOutcome {
	ctx, span := tracer.Start(ctx, "ingest.document")
	defer span.End()

	title := meta.Title
	if title == "" {
		title = filepath.Base(path)
	}
	outcome := DocumentOutcome{Title: title, StepDurations: make(map[string]time.Duration)}

	s := o.settingsStore.Load()
	dt := classify(path)

	// Step 1: parse.
	contentPath, parserMeta, err := o.timedParse(ctx, dt, path, meta, &outcome)
	if err != nil {
		o.failFatal(&outcome, "parse", err)
		return outcome
	}

	// Step 2: optional Tika-style metadata fill (skip for office, already
	// Tika-extracted; skip when enrichment toggle is off).
	enrichmentOn := s.Pipeline.ContextualEnrichmentEnabled || o.cfg.ContextualEnrichment
	if dt != docOffice && enrichmentOn && o.tika.IsConfigured() {
		o.timed(ctx, "tika_metadata", &outcome, func() error {
			tikaMeta, err := o.tika.FetchMetadata(ctx, path)
			if err != nil {
				o.logger.Warn("tika metadata enrichment failed (non-fatal)", "error", err)
				return nil
			}
			fillMissing(parserMeta, tikaMeta)
			return nil
		})
	}

	// Step 3: optional Tier-1 LLM enrichment (fill-gaps only on title and
	// document_type; merge tags; write extra.llm_* fields).
	if enrichmentOn && o.tier1Enricher != nil {
		o.timed(ctx, "llm_enrichment", &outcome, func() error {
			o.applyTier1Enrichment(ctx, contentPath, parserMeta)
			return nil
		})
	}

	// Step 4: metadata merge.
	strategy := domain.MergeStrategy(settings.EffectiveBackend(s.Pipeline.MetadataMergeStrategy, o.cfg.MetadataMergeStrategy))
	merged, err := meta.MergeParserMetadata(parserMeta, strategy)
	if err != nil {
		o.failFatal(&outcome, "metadata_merge", err)
		return outcome
	}

	// Step 5: canonical filename.
	template := settings.EffectiveURL(s.Pipeline.FilenameTemplate, o.cfg.FilenameTemplate)
	if template == "" {
		template = domain.DefaultFilenameTemplate
	}
	canonicalName := domain.GenerateFilenameFromTemplate(merged, template)

	// Step 6: prepare archive file (format routing; renderer failure falls
	// back to the original file).
	archivePath := o.prepareArchiveFile(ctx, dt, path, contentPath, &outcome)

	if !opts.UploadToArchive {
		outcome.Parsed = true
		// Steps 7-8 are skipped; step 9 still runs, and step 10 deletes the
		// local files only after a successful RAG ingest.
		if opts.UploadToRAG {
			if ragErr := o.timedRAGIngest(ctx, contentPath, merged, opts.DatasetID, &outcome); ragErr != nil {
				o.logNonFatal(&outcome, "rag_ingest", ragErr)
			} else {
				outcome.RAGIndexed = true
				o.cleanup(contentPath, archivePath, path)
			}
		}
		return outcome
	}

	// Step 7: archive. Fatal on failure.
	archiveResult, err := o.timedArchive(ctx, archivePath, canonicalName, merged, &outcome)
	if err != nil {
		o.failFatal(&outcome, "archive", err)
		return outcome
	}
	if !archiveResult.Success {
		o.failFatal(&outcome, "archive", fmt.Errorf("%s", archiveResult.Error))
		return outcome
	}
	outcome.Parsed = true
	outcome.Archived = true

	// Step 8: verify. Non-fatal.
	verified := o.timedVerify(ctx, archiveResult.DocumentID, &outcome)
	outcome.Verified = verified
	if !verified {
		o.logNonFatal(&outcome, "verify", fmt.Errorf("verification timed out for document %s", archiveResult.DocumentID))
	}

	// Step 9: RAG ingest. Non-fatal.
	if opts.UploadToRAG {
		ragErr := o.timedRAGIngest(ctx, contentPath, merged, opts.DatasetID, &outcome)
		if ragErr != nil {
			o.logNonFatal(&outcome, "rag_ingest", ragErr)
		} else {
			outcome.RAGIndexed = true
		}
	}

	// Step 10: cleanup iff archive-verify succeeded, or Paperless-disabled
	// mode with successful RAG ingest.
	if (outcome.Archived && outcome.Verified) || (!opts.UploadToArchive && outcome.RAGIndexed) {
		o.cleanup(contentPath, archivePath, path)
	}

	return outcome
}

func (o *Orchestrator) timedParse(ctx context.Context, dt docType, path string, meta domain.DocumentMetadata, outcome *DocumentOutcome) (contentPath string, extractedMeta map[string]any, err error) {
	ctx, span := tracer.Start(ctx, "ingest.parse")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { outcome.StepDurations["parse"] = time.Since(start) }()

	switch dt {
	case docMarkdown:
		return path, map[string]any{}, nil
	case docOffice:
		if !o.tika.IsConfigured() {
			return "", nil, fmt.Errorf("office documents require a configured text-extraction server")
		}
		text, err := o.extractOfficeText(ctx, path)
		if err != nil {
			return "", nil, err
		}
		outPath := path + ".extracted.md"
		if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
			return "", nil, err
		}
		tikaMeta, err := o.tika.FetchMetadata(ctx, path)
		if err != nil {
			tikaMeta = map[string]any{}
		}
		return outPath, tikaMeta, nil
	default: // pdf, html, other
		s := o.settingsStore.Load()
		name := settings.EffectiveBackend(s.Pipeline.ParserBackend, o.cfg.ParserBackend)
		p, err := o.container.Parser(ctx, name)
		if err != nil {
			return "", nil, err
		}
		result, err := p.Parse(ctx, path, meta.ToMap())
		if err != nil {
			return "", nil, err
		}
		if !result.Success {
			return "", nil, fmt.Errorf("%s", result.Error)
		}
		return result.ContentPath, result.ExtractedMetadata, nil
	}
}

func (o *Orchestrator) extractOfficeText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	// Office extraction reuses the Tika instance's /tika text endpoint; the
	// adapter lives alongside FetchMetadata in tika.go since both speak to
	// the same server.
	return extractTikaText(ctx, o.tika, f)
}

func fillMissing(dst, src map[string]any) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

func (o *Orchestrator) prepareArchiveFile(ctx context.Context, dt docType, originalPath, contentPath string, outcome *DocumentOutcome) string {
	start := time.Now()
	defer func() { outcome.StepDurations["prepare_archive_file"] = time.Since(start) }()

	switch dt {
	case docPDF:
		return originalPath
	case docMarkdown:
		if !o.renderer.IsConfigured() {
			return originalPath
		}
		pdfPath, err := o.renderer.RenderToPDF(ctx, originalPath, "markdown")
		if err != nil {
			o.logger.Warn("markdown->pdf render failed, archiving original", "error", err)
			return originalPath
		}
		return pdfPath
	case docHTML:
		if !o.renderer.IsConfigured() {
			return originalPath
		}
		pdfPath, err := o.renderer.RenderToPDF(ctx, originalPath, "html")
		if err != nil {
			o.logger.Warn("html->pdf render failed, archiving original", "error", err)
			return originalPath
		}
		return pdfPath
	case docOffice:
		if !o.renderer.IsConfigured() {
			return originalPath
		}
		pdfPath, err := o.renderer.RenderToPDF(ctx, originalPath, "office")
		if err != nil {
			o.logger.Warn("office->pdf render failed, archiving original", "error", err)
			return originalPath
		}
		return pdfPath
	default:
		return originalPath
	}
}

func (o *Orchestrator) applyTier1Enrichment(ctx context.Context, contentPath string, parserMeta map[string]any) {
	raw, err := os.ReadFile(contentPath)
	if err != nil {
		o.logger.Warn("tier-1 enrichment: failed to read content", "error", err)
		return
	}
	tier1 := o.tier1Enricher.EnrichMetadata(ctx, string(raw))
	if tier1 == nil {
		return
	}

	if _, ok := parserMeta["title"]; !ok && tier1.Title != "" {
		parserMeta["title"] = tier1.Title
	}
	if _, ok := parserMeta["document_type"]; !ok && tier1.DocumentType != "" {
		parserMeta["document_type"] = tier1.DocumentType
	}

	existingTags, _ := parserMeta["tags"].([]string)
	parserMeta["tags"] = unionTagsCaseInsensitive(existingTags, tier1.SuggestedTags)

	extra, _ := parserMeta["extra"].(map[string]any)
	if extra == nil {
		extra = map[string]any{}
	}
	extra["llm_summary"] = tier1.Summary
	extra["llm_keywords"] = tier1.Keywords
	extra["llm_entities"] = tier1.Entities
	extra["llm_key_topics"] = tier1.KeyTopics
	parserMeta["extra"] = extra
}

func unionTagsCaseInsensitive(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, tag := range list {
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

func (o *Orchestrator) timedArchive(ctx context.Context, archivePath, title string, meta domain.DocumentMetadata, outcome *DocumentOutcome) (result domain.ArchiveResult, err error) {
	ctx, span := tracer.Start(ctx, "ingest.archive")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { outcome.StepDurations["archive"] = time.Since(start) }()

	a, err := o.container.Archive(ctx)
	if err != nil {
		return domain.ArchiveResult{}, err
	}
	result, err = a.Archive(ctx, archivePath, title, meta.PublicationDate, meta.Organization, meta.Tags, meta.Extras)
	return result, err
}

func (o *Orchestrator) timedVerify(ctx context.Context, documentID string, outcome *DocumentOutcome) bool {
	ctx, span := tracer.Start(ctx, "ingest.verify")
	defer span.End()

	start := time.Now()
	defer func() { outcome.StepDurations["verify"] = time.Since(start) }()

	a, err := o.container.Archive(ctx)
	if err != nil {
		return false
	}
	return a.Verify(ctx, documentID, o.cfg.VerifyDocumentTimeout)
}

func (o *Orchestrator) timedRAGIngest(ctx context.Context, contentPath string, meta domain.DocumentMetadata, datasetID string, outcome *DocumentOutcome) (err error) {
	ctx, span := tracer.Start(ctx, "ingest.rag_ingest")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { outcome.StepDurations["rag_ingest"] = time.Since(start) }()

	r, err := o.container.RAG(ctx)
	if err != nil {
		return err
	}
	ragMeta := meta.ToMap()
	ragMeta["source"] = datasetID
	ragMeta["filename"] = filepath.Base(contentPath)
	result, err := r.Ingest(ctx, contentPath, ragMeta, datasetID)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

func (o *Orchestrator) timed(ctx context.Context, stage string, outcome *DocumentOutcome, fn func() error) {
	start := time.Now()
	err := withSpan(ctx, stage, func(context.Context) error { return fn() })
	outcome.StepDurations[stage] = time.Since(start)
	if err != nil {
		o.logNonFatal(outcome, stage, err)
	}
}

func (o *Orchestrator) failFatal(outcome *DocumentOutcome, stage string, err error) {
	fe := &FatalError{Stage: stage, Err: err}
	o.logger.Error("document failed", "stage", stage, "title", outcome.Title, "error", err)
	outcome.Failed = true
	outcome.ErrorTitle = outcome.Title
	outcome.ErrorMessage = fe.Error()
}

func (o *Orchestrator) logNonFatal(outcome *DocumentOutcome, stage string, err error) {
	ne := &NonFatalError{Stage: stage, Err: err}
	o.logger.Warn("non-fatal step failure", "stage", stage, "title", outcome.Title, "error", err)
	if outcome.ErrorMessage == "" {
		outcome.ErrorTitle = outcome.Title
		outcome.ErrorMessage = ne.Error()
	}
}

// cleanup deletes the local working files. Failures are logged and
// ignored, per spec.md §4.9 step 10.
func (o *Orchestrator) cleanup(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("cleanup failed", "path", p, "error", err)
		}
		sidecar := p + ".json"
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("cleanup failed", "path", sidecar, "error", err)
		}
	}
}
