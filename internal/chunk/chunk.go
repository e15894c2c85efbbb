// Package chunk splits document text into ordered, overlap-aware units
// with heading context. Two strategies share one contract: a fixed-size
// word-boundary chunker, and a structure-aware chunker that delegates to
// an external endpoint and falls back to the fixed strategy on any error.
package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

// ErrUnknownStrategy is returned by New for an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("unknown chunking strategy")

// Strategy produces an ordered chunk sequence from document text.
type Strategy interface {
	Name() string
	Chunk(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error)
}

// New builds a Strategy by name ("fixed" or "hybrid").
func New(strategyName string, maxTokens, overlapTokens int, doclingServeURL string, doclingServeTimeout int) (Strategy, error) {
	switch strategyName {
	case "fixed":
		return NewFixedChunker(maxTokens, overlapTokens)
	case "hybrid":
		fallback, err := NewFixedChunker(maxTokens, overlapTokens)
		if err != nil {
			return nil, err
		}
		return NewHybridChunker(maxTokens, doclingServeURL, doclingServeTimeout, fallback), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyName)
	}
}
