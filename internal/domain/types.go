package domain

import (
	"strings"
	"time"
)

// DocumentMetadata is the extensible record carried for one scraped
// artifact from discovery through archive/RAG ingestion. url and filename
// are always populated before ingestion; every other field may be filled
// later in the merge priority order parser -> enricher -> scraper default.
type DocumentMetadata struct {
	URL             string            `json:"url"`
	Title           string            `json:"title"`
	Filename        string            `json:"filename"`
	PublicationDate string            `json:"publication_date,omitempty"`
	Organization    string            `json:"organization,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	DocumentType    string            `json:"document_type,omitempty"`
	Author          string            `json:"author,omitempty"`
	PageCount       int               `json:"page_count,omitempty"`
	Language        string            `json:"language,omitempty"`
	Description     string            `json:"description,omitempty"`
	Keywords        []string          `json:"keywords,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	DocumentID      string            `json:"document_id,omitempty"`
	Source          string            `json:"source,omitempty"`
	Extras          map[string]any    `json:"extras,omitempty"`
}

// ToMap flattens the metadata into a plain map, suitable for JSONB storage
// or archive custom fields. Extras are merged in under their own keys.
func (d DocumentMetadata) ToMap() map[string]any {
	m := map[string]any{
		"url":              d.URL,
		"title":            d.Title,
		"filename":         d.Filename,
		"publication_date": d.PublicationDate,
		"organization":     d.Organization,
		"tags":             d.Tags,
		"document_type":    d.DocumentType,
		"author":           d.Author,
		"page_count":       d.PageCount,
		"language":         d.Language,
		"description":      d.Description,
		"keywords":         d.Keywords,
		"image_url":        d.ImageURL,
		"document_id":      d.DocumentID,
		"source":           d.Source,
	}
	for k, v := range d.Extras {
		m[k] = v
	}
	return m
}

// ParserResult is either a success carrying the converted content path and
// any metadata the parser extracted, or a failure carrying an error. The
// two variants are mutually exclusive.
type ParserResult struct {
	Success            bool
	ContentPath        string
	ExtractedMetadata  map[string]any
	ParserName         string
	Error              string
}

// NewParserSuccess constructs a successful ParserResult.
func NewParserSuccess(contentPath, parserName string, meta map[string]any) (ParserResult, error) {
	if strings.TrimSpace(contentPath) == "" {
		return ParserResult{}, ErrEmptyIdentifier
	}
	return ParserResult{Success: true, ContentPath: contentPath, ExtractedMetadata: meta, ParserName: parserName}, nil
}

// NewParserFailure constructs a failed ParserResult.
func NewParserFailure(errMsg, parserName string) (ParserResult, error) {
	if strings.TrimSpace(errMsg) == "" {
		return ParserResult{}, ErrMissingError
	}
	return ParserResult{Success: false, Error: errMsg, ParserName: parserName}, nil
}

// ArchiveResult is either a success carrying the archive's opaque document
// id, or a failure carrying an error.
type ArchiveResult struct {
	Success     bool
	DocumentID  string
	URL         string
	ArchiveName string
	Error       string
}

// NewArchiveSuccess constructs a successful ArchiveResult.
func NewArchiveSuccess(documentID, url, archiveName string) (ArchiveResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return ArchiveResult{}, ErrEmptyIdentifier
	}
	return ArchiveResult{Success: true, DocumentID: documentID, URL: url, ArchiveName: archiveName}, nil
}

// NewArchiveFailure constructs a failed ArchiveResult.
func NewArchiveFailure(errMsg, archiveName string) (ArchiveResult, error) {
	if strings.TrimSpace(errMsg) == "" {
		return ArchiveResult{}, ErrMissingError
	}
	return ArchiveResult{Success: false, Error: errMsg, ArchiveName: archiveName}, nil
}

// RAGResult is either a success carrying the RAG-side document/collection
// ids, or a failure carrying an error. rag_name is always non-empty.
type RAGResult struct {
	Success      bool
	DocumentID   string
	CollectionID string
	RAGName      string
	Error        string
}

// NewRAGSuccess constructs a successful RAGResult.
func NewRAGSuccess(documentID, collectionID, ragName string) (RAGResult, error) {
	if strings.TrimSpace(ragName) == "" {
		return RAGResult{}, ErrMissingError
	}
	if strings.TrimSpace(documentID) == "" {
		return RAGResult{}, ErrEmptyIdentifier
	}
	return RAGResult{Success: true, DocumentID: documentID, CollectionID: collectionID, RAGName: ragName}, nil
}

// NewRAGFailure constructs a failed RAGResult.
func NewRAGFailure(errMsg, ragName string) (RAGResult, error) {
	if strings.TrimSpace(ragName) == "" {
		return RAGResult{}, ErrMissingError
	}
	return RAGResult{Success: false, Error: errMsg, RAGName: ragName}, nil
}

// Chunk is an indexed subrange of a document's text. Metadata always
// carries chunk_index equal to Index; it may additionally carry
// heading_context, word_start, word_end, num_tokens, and any document-level
// keys the caller shallow-copied in.
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]any
}

// WithDocumentMetadata returns a copy of chunks with the given document-level
// metadata shallow-copied into each chunk's metadata map (the chunk's own
// metadata wins on key collision).
func WithDocumentMetadata(chunks []Chunk, docMeta map[string]any) []Chunk {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		merged := make(map[string]any, len(docMeta)+len(c.Metadata))
		for k, v := range docMeta {
			merged[k] = v
		}
		for k, v := range c.Metadata {
			merged[k] = v
		}
		c.Metadata = merged
		out[i] = c
	}
	return out
}

// VectorRow is one persisted chunk embedding row.
type VectorRow struct {
	Source       string
	Filename     string
	ChunkIndex   int
	Content      string
	Embedding    []float32
	MetadataJSON map[string]any
	CreatedAt    time.Time
}

// SearchHit is one result row from VectorStore.Search.
type SearchHit struct {
	Source     string
	Filename   string
	ChunkIndex int
	Content    string
	Metadata   map[string]any
	Score      float64
}

// PipelineStatus is the terminal status of one orchestrator run.
type PipelineStatus string

const (
	StatusCompleted PipelineStatus = "completed"
	StatusPartial   PipelineStatus = "partial"
	StatusFailed    PipelineStatus = "failed"
)

// PipelineResult aggregates counters and timings for one run.
type PipelineResult struct {
	Status         PipelineStatus
	ScraperName    string
	Scraped        int
	Downloaded     int
	Parsed         int
	Archived       int
	Verified       int
	RAGIndexed     int
	Failed         int
	Duration       time.Duration
	StepDurations  map[string]time.Duration
	StartedAt      time.Time
	CompletedAt    time.Time
	Errors         []string
}

// AddError appends a "<title>: <err>" entry, matching the reference
// implementation's error-string format used throughout S1-S6.
func (r *PipelineResult) AddError(title, errMsg string) {
	if title == "" {
		title = "Unknown"
	}
	r.Errors = append(r.Errors, title+": "+errMsg)
}
