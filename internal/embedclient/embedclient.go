// Package embedclient implements the Embedder capability contract in its
// two wire flavors: Ollama-native and OpenAI-compatible (spec.md §6).
package embedclient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
)

// Config configures an embedding client of either flavor.
type Config struct {
	Backend       string // "ollama" or "openai"/"api"
	Model         string
	URL           string
	APIKey        string
	Dimensions    int
	Timeout       int
	BatchSize     int
	RatePerSecond float64 // outbound request throttle; <= 0 disables it
}

// newLimiter builds the outbound throttle shared by both client flavors,
// mirroring the stream.Driver dispatch throttle (internal/stream).
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// New builds an Embedder for the configured backend flavor.
func New(cfg Config) (backend.Embedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	switch cfg.Backend {
	case "ollama", "":
		return NewOllamaClient(cfg), nil
	case "openai", "api":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", cfg.Backend)
	}
}

func embedOneViaEmbed(ctx context.Context, e backend.Embedder, text string) ([]float32, error) {
	result, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding service returned no results for input text")
	}
	return result.Embeddings[0], nil
}
