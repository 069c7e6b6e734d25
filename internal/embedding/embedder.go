// Package embedding turns text into fixed-dimension vectors through a pluggable provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDimensionMismatch is returned when a vector's length differs from the configured dimension.
// It is never retried or skipped.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, index-aligned. Items the provider
	// rejected as malformed are nil and reported through *PartialError.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// PartialError reports items of a batch that could not be embedded.
// The accompanying result slice is still valid for every other index.
type PartialError struct {
	Failed map[int]error
}

func (e *PartialError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("%d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("%d item(s) failed to embed: %s", len(idx), strings.Join(parts, "; "))
}

// CheckDimensions fails when the embedder's dimension differs from want.
func CheckDimensions(e Embedder, want int) error {
	if got := e.Dimensions(); got != want {
		return fmt.Errorf("%w: embedder produces %d, store expects %d", ErrDimensionMismatch, got, want)
	}
	return nil
}

func checkLen(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
