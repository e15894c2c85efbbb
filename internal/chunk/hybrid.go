package chunk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

// HybridChunker delegates to an external structure-aware chunking endpoint
// (docling-serve's hybrid chunker), falling back to a FixedChunker on any
// network error, non-2xx response, empty result, or malformed payload.
type HybridChunker struct {
	maxTokens int
	baseURL   string
	client    *http.Client
	fallback  *FixedChunker
}

// NewHybridChunker constructs a HybridChunker. baseURL == "" disables the
// remote call entirely and always falls back.
func NewHybridChunker(maxTokens int, baseURL string, timeoutSeconds int, fallback *FixedChunker) *HybridChunker {
	return &HybridChunker{
		maxTokens: maxTokens,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		fallback:  fallback,
	}
}

func (c *HybridChunker) Name() string { return "hybrid" }

type hybridChunkItem struct {
	Text       string   `json:"text"`
	RawText    string   `json:"raw_text"`
	Headings   []string `json:"headings"`
	NumTokens  int      `json:"num_tokens"`
	ChunkIndex int      `json:"chunk_index"`
}

type hybridChunkResponse struct {
	Chunks []hybridChunkItem `json:"chunks"`
}

func (c *HybridChunker) Chunk(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if c.baseURL != "" {
		chunks, err := c.chunkViaEndpoint(ctx, text, metadata)
		if err == nil {
			return chunks, nil
		}
	}
	return c.fallback.Chunk(ctx, text, metadata)
}

func (c *HybridChunker) chunkViaEndpoint(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	filename, _ := metadata["filename"].(string)
	if filename == "" {
		filename = "document.md"
	} else if !strings.HasSuffix(filename, ".md") {
		if idx := strings.LastIndex(filename, "."); idx >= 0 {
			filename = filename[:idx] + ".md"
		} else {
			filename = filename + ".md"
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("chunking_max_tokens", strconv.Itoa(c.maxTokens))
	q.Set("chunking_include_raw_text", "true")

	endpoint := fmt.Sprintf("%s/v1/chunk/hybrid/file?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chunk endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed hybridChunkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("malformed chunk response: %w", err)
	}
	if len(parsed.Chunks) == 0 {
		return nil, fmt.Errorf("chunk endpoint returned 0 chunks")
	}

	chunks := make([]domain.Chunk, 0, len(parsed.Chunks))
	for _, item := range parsed.Chunks {
		content := item.Text
		if content == "" {
			content = item.RawText
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		chunkIndex := item.ChunkIndex
		meta := make(map[string]any, len(metadata)+4)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = chunkIndex
		meta["num_tokens"] = item.NumTokens
		meta["chunker"] = "docling_hybrid"
		if len(item.Headings) > 0 {
			meta["heading_context"] = item.Headings[len(item.Headings)-1]
			meta["headings"] = item.Headings
		}

		chunks = append(chunks, domain.Chunk{Content: content, Index: chunkIndex, Metadata: meta})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk endpoint returned no non-empty chunks")
	}

	return chunks, nil
}
