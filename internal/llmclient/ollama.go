package llmclient

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

// OllamaClient speaks Ollama's native chat API: POST {url}/api/chat with
// {model, messages, stream:false, format?:"json", options?:{num_predict}}
// -> {message:{content}, model, done_reason}.
type OllamaClient struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

var _ backend.LLM = (*OllamaClient)(nil)

func NewOllamaClient(cfg Config) *OllamaClient {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &OllamaClient{cfg: cfg, client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}, limiter: newLimiter(cfg.RatePerSecond)}
}

func (c *OllamaClient) Name() string          { return "ollama" }
func (c *OllamaClient) IsConfigured() bool    { return c.cfg.URL != "" && c.cfg.Model != "" }

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []backend.ChatMessage  `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]any         `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Model      string `json:"model"`
	DoneReason string `json:"done_reason"`
}

func (c *OllamaClient) Chat(ctx context.Context, messages []backend.ChatMessage, opts backend.ChatOptions) (backend.ChatResult, error) {
	if !c.IsConfigured() {
		return backend.ChatResult{}, fmt.Errorf("ollama LLM client not configured")
	}

	reqBody := ollamaChatRequest{Model: c.cfg.Model, Messages: messages, Stream: false}
	if opts.ResponseFormatJSON {
		reqBody.Format = "json"
	}
	if opts.MaxTokens > 0 {
		reqBody.Options = map[string]any{"num_predict": opts.MaxTokens}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return backend.ChatResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return backend.ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := waitLimiter(ctx, c.limiter); err != nil {
		return backend.ChatResult{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return backend.ChatResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backend.ChatResult{}, fmt.Errorf("ollama chat request failed with status %d", resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return backend.ChatResult{}, fmt.Errorf("malformed ollama chat response: %w", err)
	}

	return backend.ChatResult{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.DoneReason,
	}, nil
}
