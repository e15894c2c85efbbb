package chunk

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

// ErrInvalidChunkParams is returned by NewFixedChunker when max_tokens or
// overlap_tokens violate 0 <= overlap < max_tokens, max_tokens >= 1.
var ErrInvalidChunkParams = errors.New("invalid chunker parameters")

// FixedChunker is a fixed-size word-boundary chunker with overlap. It
// detects Markdown headings (lines whose first non-whitespace character is
// '#') and attaches the most recent one as heading_context.
type FixedChunker struct {
	maxTokens     int
	overlapTokens int
}

// NewFixedChunker constructs a FixedChunker, validating parameter invariants.
func NewFixedChunker(maxTokens, overlapTokens int) (*FixedChunker, error) {
	if maxTokens < 1 {
		return nil, domain.NewValidationError("max_tokens", strconv.Itoa(maxTokens), ErrInvalidChunkParams)
	}
	if overlapTokens < 0 {
		return nil, domain.NewValidationError("overlap_tokens", strconv.Itoa(overlapTokens), ErrInvalidChunkParams)
	}
	if overlapTokens >= maxTokens {
		return nil, domain.NewValidationError("overlap_tokens", strconv.Itoa(overlapTokens), ErrInvalidChunkParams)
	}
	return &FixedChunker{maxTokens: maxTokens, overlapTokens: overlapTokens}, nil
}

func (c *FixedChunker) Name() string { return "fixed" }

// Chunk splits text on whitespace and slides a window of maxTokens words
// with step (maxTokens - overlapTokens), recording word_start, word_end,
// chunk_index, and heading_context per chunk.
func (c *FixedChunker) Chunk(_ context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	headingMap := buildHeadingMap(text)

	var chunks []domain.Chunk
	start := 0
	chunkIndex := 0

	for start < len(words) {
		end := start + c.maxTokens
		if end > len(words) {
			end = len(words)
		}
		content := strings.Join(words[start:end], " ")

		meta := make(map[string]any, len(metadata)+4)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = chunkIndex
		meta["word_start"] = start
		meta["word_end"] = end
		if h, ok := headingMap[start]; ok {
			meta["heading_context"] = h
		}

		chunks = append(chunks, domain.Chunk{Content: content, Index: chunkIndex, Metadata: meta})
		chunkIndex++

		step := c.maxTokens - c.overlapTokens
		start += step

		if end >= len(words) {
			break
		}
	}

	return chunks, nil
}

// buildHeadingMap assigns the most recent heading to every word position,
// matching the reference chunker's two-pass algorithm: first record the
// word position at which each heading line starts, then propagate each
// heading forward to every later word position until the next heading.
func buildHeadingMap(text string) map[int]string {
	headingStarts := make(map[int]string)
	wordPos := 0

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		lineWords := strings.Fields(line)

		if strings.HasPrefix(stripped, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(stripped, "#"))
			if heading != "" && len(lineWords) > 0 {
				headingStarts[wordPos] = heading
			}
		}
		wordPos += len(lineWords)
	}

	if len(headingStarts) == 0 {
		return headingStarts
	}

	sortedPositions := make([]int, 0, len(headingStarts))
	for p := range headingStarts {
		sortedPositions = append(sortedPositions, p)
	}
	sort.Ints(sortedPositions)

	totalWords := wordPos
	fullMap := make(map[int]string, totalWords)
	headingIdx := 0

	for pos := 0; pos < totalWords; pos++ {
		for headingIdx < len(sortedPositions)-1 && sortedPositions[headingIdx+1] <= pos {
			headingIdx++
		}
		if sortedPositions[headingIdx] <= pos {
			fullMap[pos] = headingStarts[sortedPositions[headingIdx]]
		}
	}

	return fullMap
}

