package embedclient

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
)

// OpenAIClient speaks the OpenAI-compatible embeddings API: POST
// {url}/v1/embeddings with {model, input} and Authorization: Bearer <key>
// -> {data: [{embedding, index}, ...]}, re-sorted by index before use.
type OpenAIClient struct {
	cfg     Config
	client  *openai.Client
	limiter *rate.Limiter
}

var _ backend.Embedder = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) *OpenAIClient {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		oaCfg.BaseURL = cfg.URL + "/v1"
	}
	return &OpenAIClient{cfg: cfg, client: openai.NewClientWithConfig(oaCfg), limiter: newLimiter(cfg.RatePerSecond)}
}

func (c *OpenAIClient) Name() string { return "api" }

func (c *OpenAIClient) IsConfigured() bool {
	return c.cfg.URL != "" && c.cfg.Model != ""
}

func (c *OpenAIClient) TestConnection(ctx context.Context) bool {
	if !c.IsConfigured() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{"test"},
		Model: openai.EmbeddingModel(c.cfg.Model),
	})
	return err == nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) (backend.EmbedResult, error) {
	if !c.IsConfigured() {
		return backend.EmbedResult{}, fmt.Errorf("API embedding client not configured")
	}
	if len(texts) == 0 {
		return backend.EmbedResult{Model: c.cfg.Model, Dims: c.cfg.Dimensions}, nil
	}

	var all [][]float32
	batchSize := c.cfg.BatchSize

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backend.EmbedResult{}, err
		}
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: batch,
			Model: openai.EmbeddingModel(c.cfg.Model),
		})
		if err != nil {
			return backend.EmbedResult{}, err
		}
		if len(resp.Data) == 0 {
			return backend.EmbedResult{}, fmt.Errorf("unexpected API response format: missing 'data' key")
		}

		sorted := make([]openai.Embedding, len(resp.Data))
		copy(sorted, resp.Data)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

		for _, item := range sorted {
			all = append(all, item.Embedding)
		}
	}

	dims := c.cfg.Dimensions
	if len(all) > 0 {
		dims = len(all[0])
	}
	return backend.EmbedResult{Embeddings: all, Model: c.cfg.Model, Dims: dims}, nil
}

func (c *OpenAIClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOneViaEmbed(ctx, c, text)
}
