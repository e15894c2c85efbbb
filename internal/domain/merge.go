package domain

import "strings"

// MergeStrategy selects the tie-break rule applied at each conflicting
// field during metadata merge.
type MergeStrategy string

const (
	MergeSmart         MergeStrategy = "smart"
	MergePreferScraper MergeStrategy = "prefer_scraper"
	MergePreferParser  MergeStrategy = "prefer_parser"
)

// MergeParserMetadata merges parser-extracted metadata into the receiver
// (scraper-provided) metadata per the configured strategy. smart is the
// default: for each scalar field, the non-empty/more-informative value
// wins; collections are unioned with case-insensitive dedup; extras are
// merged one top-level key at a time: a key already present in the
// scraper's extras keeps its value unless the strategy is prefer_parser,
// and nested maps are not merged recursively. prefer_scraper/prefer_parser
// make the named source win on
// any conflict, falling back to whichever side has a value when the other
// is empty.
func (d DocumentMetadata) MergeParserMetadata(parserMeta map[string]any, strategy MergeStrategy) (DocumentMetadata, error) {
	switch strategy {
	case MergeSmart, MergePreferScraper, MergePreferParser, "":
	default:
		return DocumentMetadata{}, ErrUnknownMergeStrategy
	}
	if strategy == "" {
		strategy = MergeSmart
	}

	out := d
	out.Title = mergeString(d.Title, stringAt(parserMeta, "title"), strategy)
	out.Author = mergeString(d.Author, stringAt(parserMeta, "author"), strategy)
	out.Organization = mergeString(d.Organization, stringAt(parserMeta, "organization"), strategy)
	out.Language = mergeString(d.Language, stringAt(parserMeta, "language"), strategy)
	out.Description = mergeString(d.Description, stringAt(parserMeta, "description"), strategy)
	out.DocumentType = mergeString(d.DocumentType, stringAt(parserMeta, "document_type"), strategy)
	out.PublicationDate = mergeString(d.PublicationDate, stringAt(parserMeta, "publication_date"), strategy)

	if pc, ok := parserMeta["page_count"].(int); ok && (d.PageCount == 0 || strategy == MergePreferParser) {
		out.PageCount = pc
	}

	out.Tags = unionCaseInsensitive(d.Tags, stringSliceAt(parserMeta, "tags"))
	out.Keywords = unionCaseInsensitive(d.Keywords, stringSliceAt(parserMeta, "keywords"))

	merged := make(map[string]any, len(d.Extras))
	for k, v := range d.Extras {
		merged[k] = v
	}
	if extras, ok := parserMeta["extras"].(map[string]any); ok {
		for k, v := range extras {
			if _, exists := merged[k]; !exists || strategy == MergePreferParser {
				merged[k] = v
			}
		}
	}
	out.Extras = merged

	return out, nil
}

// mergeString applies the field-level tie-break: smart prefers the
// non-empty, longer (more informative) value; prefer_scraper/prefer_parser
// make the named source win outright when both are non-empty.
func mergeString(scraperVal, parserVal string, strategy MergeStrategy) string {
	if scraperVal == "" {
		return parserVal
	}
	if parserVal == "" {
		return scraperVal
	}
	switch strategy {
	case MergePreferScraper:
		return scraperVal
	case MergePreferParser:
		return parserVal
	default: // smart
		if len(parserVal) > len(scraperVal) {
			return parserVal
		}
		return scraperVal
	}
}

func unionCaseInsensitive(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func stringAt(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceAt(m map[string]any, key string) []string {
	v, ok := m[key]
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
