package domain

import (
	"regexp"
	"strings"
	"time"
)

// DefaultFilenameTemplate is used when the settings file leaves
// pipeline.filename_template empty ("inherit from config").
const DefaultFilenameTemplate = "{organization}_{title}_{date}"

var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GenerateFilenameFromTemplate renders the canonical archive title from
// merged metadata. Placeholders {title}, {organization}, {date},
// {document_type}, {source} are substituted; any remaining whitespace run
// becomes a single underscore and characters outside [A-Za-z0-9._-] are
// stripped, so the result is always a safe archive title/filename stem.
func GenerateFilenameFromTemplate(meta DocumentMetadata, template string) string {
	if template == "" {
		template = DefaultFilenameTemplate
	}

	date := meta.PublicationDate
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	replacer := strings.NewReplacer(
		"{title}", fallback(meta.Title, "untitled"),
		"{organization}", fallback(meta.Organization, "unknown"),
		"{date}", date,
		"{document_type}", fallback(meta.DocumentType, "document"),
		"{source}", fallback(meta.Source, "default"),
	)
	rendered := replacer.Replace(template)
	rendered = strings.Join(strings.Fields(rendered), "_")
	return filenameUnsafe.ReplaceAllString(rendered, "")
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
