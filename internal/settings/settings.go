// Package settings loads and saves the runtime settings file (spec.md §6):
// a JSON document layering overrides on top of internal/config's baked-in
// defaults. An empty string/zero value in a setting means "inherit from
// config".
package settings

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline holds the pipeline-wide overrides.
type Pipeline struct {
	MetadataMergeStrategy      string `json:"metadata_merge_strategy"`
	FilenameTemplate           string `json:"filename_template"`
	ParserBackend              string `json:"parser_backend"`
	ArchiveBackend             string `json:"archive_backend"`
	RAGBackend                 string `json:"rag_backend"`
	ContextualEnrichmentEnabled bool  `json:"contextual_enrichment_enabled"`
}

// ServiceOverride holds a per-service URL/timeout override.
type ServiceOverride struct {
	URL     string `json:"url"`
	Timeout int    `json:"timeout"`
}

// ScraperSettings holds per-scraper toggles.
type ScraperSettings struct {
	CloudflareEnabled bool   `json:"cloudflare_enabled"`
	IngestionMode     string `json:"ingestion_mode"`
	DatasetID         string `json:"dataset_id"`
	EmbeddingModel    string `json:"embedding_model"`
	ChunkMethod       string `json:"chunk_method"`
	PDFParser         string `json:"pdf_parser"`
	PipelineID        string `json:"pipeline_id"`
}

// File is the top-level JSON document schema.
type File struct {
	Pipeline Pipeline                   `json:"pipeline"`
	Services map[string]ServiceOverride `json:"services"`
	Scrapers map[string]ScraperSettings `json:"scrapers"`
}

// Default returns the baked-in defaults used whenever the file is absent
// or fails schema validation.
func Default() File {
	return File{
		Pipeline: Pipeline{MetadataMergeStrategy: "smart"},
		Services: map[string]ServiceOverride{},
		Scrapers: map[string]ScraperSettings{},
	}
}

// validMergeStrategies is the closed set accepted by pipeline.metadata_merge_strategy.
var validMergeStrategies = map[string]bool{"": true, "smart": true, "prefer_scraper": true, "prefer_parser": true}

// Validate checks the document against the settings schema. On failure the
// caller must fall back to Default() rather than use the partially-loaded
// document.
func (f File) Validate() error {
	if !validMergeStrategies[f.Pipeline.MetadataMergeStrategy] {
		return fmt.Errorf("settings: invalid pipeline.metadata_merge_strategy %q", f.Pipeline.MetadataMergeStrategy)
	}
	for name, ov := range f.Services {
		if ov.Timeout < 0 {
			return fmt.Errorf("settings: services.%s.timeout must be >= 0", name)
		}
	}
	return nil
}

// Store loads/saves the settings file from a fixed path, applying
// validate-on-load and validate-on-save semantics: a load failure falls
// back silently to Default(); a save failure never overwrites the file on
// disk.
type Store struct {
	path string
}

// NewStore creates a settings store rooted at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the settings file. On any error (missing file,
// malformed JSON, schema violation) it returns Default() and no error —
// matching the reference implementation's "validation failure loads
// baked-in defaults" contract; callers that need to know about the
// fallback should use LoadStrict.
func (s *Store) Load() File {
	f, err := s.LoadStrict()
	if err != nil {
		return Default()
	}
	return f
}

// LoadStrict reads and validates the settings file, returning the error
// instead of silently falling back.
func (s *Store) LoadStrict() (File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("settings: parse %s: %w", s.path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Save validates before writing; on validation failure it returns an error
// and leaves the on-disk file untouched.
func (s *Store) Save(f File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("settings: refusing to save invalid document: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// EffectiveURL resolves a service URL: the setting override if non-empty,
// else the config default.
func EffectiveURL(override, configDefault string) string {
	if override != "" {
		return override
	}
	return configDefault
}

// EffectiveTimeout resolves a service timeout: the setting override if
// greater than zero, else the config default.
func EffectiveTimeout(override, configDefault int) int {
	if override > 0 {
		return override
	}
	return configDefault
}

// EffectiveBackend resolves a backend name: the setting override if
// non-empty, else the config default (<KIND>_BACKEND).
func EffectiveBackend(override, configDefault string) string {
	if override != "" {
		return override
	}
	return configDefault
}
