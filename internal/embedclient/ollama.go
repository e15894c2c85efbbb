package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
)

// OllamaClient speaks Ollama's native embedding API: POST {url}/api/embed
// with {model, input: [texts]} -> {embeddings: [[floats]]}.
type OllamaClient struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

var _ backend.Embedder = (*OllamaClient)(nil)

func NewOllamaClient(cfg Config) *OllamaClient {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &OllamaClient{cfg: cfg, client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}, limiter: newLimiter(cfg.RatePerSecond)}
}

func (c *OllamaClient) Name() string { return "ollama" }

func (c *OllamaClient) IsConfigured() bool {
	return c.cfg.URL != "" && c.cfg.Model != ""
}

func (c *OllamaClient) TestConnection(ctx context.Context) bool {
	if !c.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) (backend.EmbedResult, error) {
	if !c.IsConfigured() {
		return backend.EmbedResult{}, fmt.Errorf("ollama embedding client not configured")
	}
	if len(texts) == 0 {
		return backend.EmbedResult{Model: c.cfg.Model, Dims: c.cfg.Dimensions}, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += c.cfg.BatchSize {
		end := i + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backend.EmbedResult{}, err
		}

		reqBody, err := json.Marshal(ollamaEmbedRequest{Model: c.cfg.Model, Input: batch})
		if err != nil {
			return backend.EmbedResult{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/embed", bytes.NewReader(reqBody))
		if err != nil {
			return backend.EmbedResult{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return backend.EmbedResult{}, err
		}
		var parsed ollamaEmbedResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backend.EmbedResult{}, fmt.Errorf("ollama embed request failed with status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return backend.EmbedResult{}, fmt.Errorf("unexpected ollama response format: %w", decodeErr)
		}
		if parsed.Embeddings == nil {
			return backend.EmbedResult{}, fmt.Errorf("unexpected ollama response format: missing 'embeddings' key")
		}
		all = append(all, parsed.Embeddings...)
	}

	dims := c.cfg.Dimensions
	if len(all) > 0 {
		dims = len(all[0])
	}
	return backend.EmbedResult{Embeddings: all, Model: c.cfg.Model, Dims: dims}, nil
}

func (c *OllamaClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOneViaEmbed(ctx, c, text)
}
