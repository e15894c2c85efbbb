// Package llmclient implements the LLM capability contract in its two wire
// flavors: Ollama-native chat and OpenAI-compatible chat completions
// (spec.md §6).
package llmclient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
)

// Config configures an LLM client of either flavor.
type Config struct {
	Backend       string // "ollama" or "openai"/"api"
	Model         string
	URL           string
	APIKey        string
	Timeout       int
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

// New builds an LLM for the configured backend flavor.
func New(cfg Config) (backend.LLM, error) {
	switch cfg.Backend {
	case "ollama", "":
		return NewOllamaClient(cfg), nil
	case "openai", "api":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s", cfg.Backend)
	}
}
