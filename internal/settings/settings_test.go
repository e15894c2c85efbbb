package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	f := s.Load()
	if f.Pipeline.MetadataMergeStrategy != "smart" {
		t.Errorf("MetadataMergeStrategy = %q, want default smart", f.Pipeline.MetadataMergeStrategy)
	}
}

func TestLoadStrictMissingFileReturnsError(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := s.LoadStrict(); err == nil {
		t.Error("expected LoadStrict to surface the error for a missing file")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path)

	f := Default()
	f.Pipeline.ArchiveBackend = "paperless"
	f.Pipeline.FilenameTemplate = "{organization}_{title}"
	if err := s.Save(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Load()
	if got.Pipeline.ArchiveBackend != "paperless" {
		t.Errorf("ArchiveBackend = %q, want paperless", got.Pipeline.ArchiveBackend)
	}
	if got.Pipeline.FilenameTemplate != "{organization}_{title}" {
		t.Errorf("FilenameTemplate = %q", got.Pipeline.FilenameTemplate)
	}
}

func TestSaveRejectsInvalidMergeStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path)

	f := Default()
	f.Pipeline.MetadataMergeStrategy = "not-a-strategy"
	if err := s.Save(f); err == nil {
		t.Error("expected Save to reject an invalid metadata_merge_strategy")
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("expected no file to be written on a failed validation")
	}
}

func TestLoadFallsBackOnMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	f := s.Load()
	if f.Pipeline.MetadataMergeStrategy != "smart" {
		t.Errorf("expected Default() fallback for malformed JSON, got %+v", f)
	}
}

func TestLoadFallsBackOnSchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"pipeline":{"metadata_merge_strategy":"bogus"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	f := s.Load()
	if f.Pipeline.MetadataMergeStrategy != "smart" {
		t.Errorf("expected Default() fallback for schema violation, got %+v", f)
	}
}

func TestValidateRejectsNegativeServiceTimeout(t *testing.T) {
	f := Default()
	f.Services = map[string]ServiceOverride{"tika": {Timeout: -1}}
	if err := f.Validate(); err == nil {
		t.Error("expected Validate to reject a negative service timeout")
	}
}

func TestEffectiveURLPrefersOverride(t *testing.T) {
	if got := EffectiveURL("http://override", "http://default"); got != "http://override" {
		t.Errorf("got %q, want override", got)
	}
	if got := EffectiveURL("", "http://default"); got != "http://default" {
		t.Errorf("got %q, want default when override empty", got)
	}
}

func TestEffectiveTimeoutPrefersPositiveOverride(t *testing.T) {
	if got := EffectiveTimeout(30, 60); got != 30 {
		t.Errorf("got %d, want override 30", got)
	}
	if got := EffectiveTimeout(0, 60); got != 60 {
		t.Errorf("got %d, want default 60 when override is zero", got)
	}
	if got := EffectiveTimeout(-5, 60); got != 60 {
		t.Errorf("got %d, want default 60 when override is negative", got)
	}
}

func TestEffectiveBackendPrefersOverride(t *testing.T) {
	if got := EffectiveBackend("custom", "docling_serve"); got != "custom" {
		t.Errorf("got %q, want custom", got)
	}
	if got := EffectiveBackend("", "docling_serve"); got != "docling_serve" {
		t.Errorf("got %q, want default", got)
	}
}
