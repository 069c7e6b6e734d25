package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/keyword"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/vector"
)

// Retriever runs hybrid retrieval over one guide's indexed blocks.
type Retriever struct {
	embedder     embedding.Embedder
	store        vector.Store
	policy       ScoringPolicy
	defaultLimit int
	maxLimit     int
}

// NewRetriever creates a retriever. defaultLimit applies when a caller passes limit <= 0;
// maxLimit caps host search requests (0 means no cap).
func NewRetriever(embedder embedding.Embedder, store vector.Store, policy ScoringPolicy, defaultLimit, maxLimit int) *Retriever {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &Retriever{
		embedder:     embedder,
		store:        store,
		policy:       policy,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Policy returns the scoring policy in use.
func (r *Retriever) Policy() ScoringPolicy {
	return r.policy
}

// Retrieve returns up to limit passages for query, best first.
func (r *Retriever) Retrieve(ctx context.Context, guideID, query string, limit int) ([]*models.RetrievedPassage, error) {
	passages, _, err := r.retrieve(ctx, guideID, query, limit)
	return passages, err
}

func (r *Retriever) retrieve(ctx context.Context, guideID, query string, limit int) ([]*models.RetrievedPassage, keyword.Set, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	keywords := keyword.ExtractKeywords(query)

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, keywords, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := r.store.Search(ctx, guideID, queryEmbedding, 0)
	if err != nil {
		return nil, keywords, fmt.Errorf("vector search: %w", err)
	}

	passages := Fuse(candidates, keywords, r.policy)
	if len(passages) > limit {
		passages = passages[:limit]
	}
	return passages, keywords, nil
}

// Explain runs retrieval for a host search request and reports the keyword set and timing.
func (r *Retriever) Explain(ctx context.Context, guideID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(r.defaultLimit, r.maxLimit); err != nil {
		return nil, err
	}
	passages, keywords, err := r.retrieve(ctx, guideID, query.Query, query.Limit)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     query.Query,
		Keywords:  keywords.Sorted(),
		Results:   passages,
		Total:     len(passages),
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}
