package llmclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API: POST
// {url}/v1/chat/completions with {model, messages, response_format?,
// max_tokens?} -> {choices:[{message:{content}, finish_reason}], model}.
// Empty choices fails explicitly.
type OpenAIClient struct {
	cfg     Config
	client  *openai.Client
	limiter *rate.Limiter
}

var _ backend.LLM = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) *OpenAIClient {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		oaCfg.BaseURL = cfg.URL + "/v1"
	}
	return &OpenAIClient{cfg: cfg, client: openai.NewClientWithConfig(oaCfg), limiter: newLimiter(cfg.RatePerSecond)}
}

func (c *OpenAIClient) Name() string       { return "api" }
func (c *OpenAIClient) IsConfigured() bool { return c.cfg.URL != "" && c.cfg.Model != "" }

func (c *OpenAIClient) Chat(ctx context.Context, messages []backend.ChatMessage, opts backend.ChatOptions) (backend.ChatResult, error) {
	if !c.IsConfigured() {
		return backend.ChatResult{}, fmt.Errorf("API LLM client not configured")
	}

	oaMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		oaMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: oaMessages,
	}
	if opts.ResponseFormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	if err := waitLimiter(ctx, c.limiter); err != nil {
		return backend.ChatResult{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return backend.ChatResult{}, err
	}
	if len(resp.Choices) == 0 {
		return backend.ChatResult{}, fmt.Errorf("LLM response contained no choices")
	}

	return backend.ChatResult{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}
