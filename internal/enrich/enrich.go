// Package enrich implements the document enrichment service (spec.md
// §4.7): Tier-1 document-level structured metadata extraction, and
// Tier-2 per-chunk contextual "situating paragraph" generation.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

const tier1SystemPrompt = `You are a document analysis assistant. Given the full text of a document, extract structured metadata as JSON with these exact keys:

- "title": The document's title (string)
- "summary": A 2-3 sentence summary (string)
- "keywords": 5-10 relevant keywords (list of strings)
- "entities": Named entities — organizations, people, locations (list of strings)
- "suggested_tags": 3-7 category tags for filing (list of strings)
- "document_type": One of: report, policy, guideline, regulation, legislation, standard, manual, briefing, correspondence, media_release, submission, other (string)
- "key_topics": 3-5 main topics discussed (list of strings)

Respond with ONLY valid JSON, no markdown formatting or explanation.`

const tier2SystemPrompt = `You are a document analysis assistant. Given a chunk of text from a larger document, along with context about the document's structure and surrounding content, write a short 2-3 sentence paragraph that situates this chunk within the document.

Explain what section this chunk belongs to, what the document is about, and how this chunk relates to the broader content. This description will be prepended to the chunk to improve search retrieval.

Respond with ONLY the situating paragraph in plain text, no markdown formatting.`

// Service enriches documents and chunks with LLM-generated metadata.
type Service struct {
	llm       backend.LLM
	maxTokens int
	logger    *slog.Logger
}

// New constructs a Service. maxTokens bounds both the Tier-1 truncation
// and the Tier-2 short-document threshold (spec.md §4.7).
func New(llm backend.LLM, maxTokens int, logger *slog.Logger) *Service {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	return &Service{llm: llm, maxTokens: maxTokens, logger: logger}
}

// TierOneMetadata is the structured output of EnrichMetadata.
type TierOneMetadata struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	Entities       []string `json:"entities"`
	SuggestedTags  []string `json:"suggested_tags"`
	DocumentType   string   `json:"document_type"`
	KeyTopics      []string `json:"key_topics"`
}

// EnrichMetadata reads the document, truncates to ~max_tokens*4
// characters, and asks the LLM for structured JSON metadata. Returns nil
// (not an error) on any failure: empty document, malformed/non-object
// JSON, or an LLM call error — enrichment is always non-fatal.
func (s *Service) EnrichMetadata(ctx context.Context, text string) *TierOneMetadata {
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("empty document, skipping enrichment")
		return nil
	}

	charLimit := s.maxTokens * 4
	if len(text) > charLimit {
		text = text[:charLimit]
	}

	messages := []backend.ChatMessage{
		{Role: "system", Content: tier1SystemPrompt},
		{Role: "user", Content: text},
	}

	result, err := s.llm.Chat(ctx, messages, backend.ChatOptions{ResponseFormatJSON: true})
	if err != nil {
		s.logger.Warn("LLM enrichment failed (non-fatal)", "error", err)
		return nil
	}

	var meta TierOneMetadata
	if err := json.Unmarshal([]byte(result.Content), &meta); err != nil {
		s.logger.Warn("LLM returned invalid JSON", "error", err)
		return nil
	}

	return &meta
}

// extractOutline returns up to 50 Markdown heading lines as a document
// outline.
func extractOutline(text string) string {
	var headings []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			headings = append(headings, line)
			if len(headings) == 50 {
				break
			}
		}
	}
	return strings.Join(headings, "\n")
}

// buildChunkContext assembles the outline + symmetric neighbor window +
// current chunk context block used for long documents.
func buildChunkContext(chunkIdx int, chunkContent string, allChunks []domain.Chunk, outline string, window int) string {
	var parts []string
	parts = append(parts, "Document outline:\n"+outline+"\n")

	start := chunkIdx - window
	if start < 0 {
		start = 0
	}
	end := chunkIdx + window + 1
	if end > len(allChunks) {
		end = len(allChunks)
	}

	for i := start; i < end; i++ {
		if i == chunkIdx {
			continue
		}
		neighbor := allChunks[i].Content
		if len(neighbor) > 200 {
			neighbor = neighbor[:200]
		}
		label := "following"
		if i < chunkIdx {
			label = "preceding"
		}
		parts = append(parts, "["+label+" chunk "+strconv.Itoa(i)+"]: "+neighbor)
	}

	parts = append(parts, "\nCurrent chunk ("+strconv.Itoa(chunkIdx)+"):\n"+chunkContent)
	return strings.Join(parts, "\n\n")
}

// EnrichChunks returns one enriched string per chunk: a 2-3 sentence LLM
// situating paragraph prepended to the raw chunk content. Short documents
// (<= max_tokens*4 chars) pass the full text as context; long documents
// pass a heading outline plus a symmetric window of neighbor chunks. A
// per-chunk LLM failure falls back to that chunk's raw content. The output
// is used only for embedding — raw content is always what gets persisted.
func (s *Service) EnrichChunks(ctx context.Context, chunks []domain.Chunk, fullText string, window int) []string {
	if len(chunks) == 0 {
		return nil
	}

	outline := extractOutline(fullText)
	charLimit := s.maxTokens * 4
	isShort := len(fullText) <= charLimit

	enriched := make([]string, len(chunks))
	for i, c := range chunks {
		var context string
		if isShort {
			maxDocChars := charLimit - len(c.Content) - 500
			docText := fullText
			if maxDocChars > 0 && len(fullText) > maxDocChars {
				docText = fullText[:maxDocChars]
			}
			context = "Full document:\n" + docText + "\n\nCurrent chunk (" + strconv.Itoa(i) + "):\n" + c.Content
		} else {
			context = buildChunkContext(i, c.Content, chunks, outline, window)
		}

		messages := []backend.ChatMessage{
			{Role: "system", Content: tier2SystemPrompt},
			{Role: "user", Content: context},
		}

		result, err := s.llm.Chat(ctx, messages, backend.ChatOptions{})
		if err != nil {
			s.logger.Warn("chunk enrichment failed, using raw content", "chunk_index", i, "error", err)
			enriched[i] = c.Content
			continue
		}
		situating := strings.TrimSpace(result.Content)
		enriched[i] = situating + "\n\n" + c.Content
	}

	return enriched
}

