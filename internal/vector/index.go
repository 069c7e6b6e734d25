// Package vector stores per-block embeddings and answers guide-scoped nearest-neighbour queries.
package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/models"
)

// Store holds (guide, block, text, vector) rows.
type Store interface {
	// ReplaceGuide atomically swaps the guide's whole row set for records and returns the new count.
	ReplaceGuide(ctx context.Context, guideID string, records []*models.EmbeddingRecord) (int, error)
	// Search ranks the guide's rows by cosine similarity to query. topK <= 0 returns every row.
	Search(ctx context.Context, guideID string, query []float32, topK int) ([]*Result, error)
	DeleteGuide(ctx context.Context, guideID string) (int64, error)
	// Count returns the guide's row count, or every row when guideID is empty.
	Count(ctx context.Context, guideID string) (int, error)
	Dimensions() int
	Close() error
}

// Result is a single vector search hit. Score is 1 - cosine distance.
type Result struct {
	BlockID string
	Content string
	Score   float64
}

func validateRecords(guideID string, records []*models.EmbeddingRecord, dims int) error {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil {
			return fmt.Errorf("nil embedding record")
		}
		if r.GuideID != guideID {
			return fmt.Errorf("record %s belongs to guide %q, not %q", r.BlockID, r.GuideID, guideID)
		}
		if _, dup := seen[r.BlockID]; dup {
			return fmt.Errorf("duplicate block %s", r.BlockID)
		}
		seen[r.BlockID] = struct{}{}
		if len(r.Embedding) != dims {
			return fmt.Errorf("%w: block %s has %d, store expects %d", embedding.ErrDimensionMismatch, r.BlockID, len(r.Embedding), dims)
		}
	}
	return nil
}

func validateQuery(query []float32, dims int) error {
	if len(query) != dims {
		return fmt.Errorf("%w: query has %d, store expects %d", embedding.ErrDimensionMismatch, len(query), dims)
	}
	return nil
}
