// Package indexer turns guide blocks into embedding records and keeps the vector store in sync.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/metrics"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/internal/textualize"
	"github.com/hyperjump/guidechat/internal/vector"
	"github.com/hyperjump/guidechat/pkg/utils"
	"go.uber.org/zap"
)

// Indexer embeds guide blocks into the vector store.
type Indexer struct {
	guides   storage.GuideStore
	embedder embedding.Embedder
	vectors  vector.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger

	locks *utils.KeyedMutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for indexing events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records reindex runs.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer over the given guide store, embedder and vector store.
func NewIndexer(guides storage.GuideStore, embedder embedding.Embedder, vectors vector.Store, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		guides:   guides,
		embedder: embedder,
		vectors:  vectors,
		locks:    utils.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Reindex loads the guide's visible blocks and rebuilds its embeddings.
// Runs for the same guide are serialized and each loads the block list under the lock,
// so a call made after a save always indexes the saved blocks. A started run is not
// cancelled with ctx.
func (idx *Indexer) Reindex(ctx context.Context, guideID string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	unlock, err := idx.locks.Lock(ctx, guideID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, err := idx.guides.GetGuide(ctx, guideID); err != nil {
		return 0, err
	}
	blocks, err := idx.guides.ListVisibleBlocks(ctx, guideID)
	if err != nil {
		return 0, fmt.Errorf("load blocks: %w", err)
	}
	return idx.run(ctx, guideID, blocks)
}

// ReindexBlocks replaces the guide's embeddings with one record per visible, non-empty block
// and returns the number written. Blocks the provider rejects are skipped. Any other embedding
// failure leaves the previous rows untouched.
func (idx *Indexer) ReindexBlocks(ctx context.Context, guideID string, blocks []*models.Block) (int, error) {
	ctx = context.WithoutCancel(ctx)
	unlock, err := idx.locks.Lock(ctx, guideID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return idx.run(ctx, guideID, blocks)
}

// run must be called with the guide's lock held.
func (idx *Indexer) run(ctx context.Context, guideID string, blocks []*models.Block) (int, error) {
	start := time.Now()
	n, err := idx.reindex(ctx, guideID, blocks)
	idx.metrics.Reindexed(time.Since(start), err)
	if err != nil {
		idx.logger.Warn("reindex failed", zap.String("guide_id", guideID), zap.Error(err))
		return 0, err
	}
	idx.logger.Info("guide reindexed",
		zap.String("guide_id", guideID),
		zap.Int("embeddings", n),
		zap.Duration("took", time.Since(start)))
	return n, nil
}

func (idx *Indexer) reindex(ctx context.Context, guideID string, blocks []*models.Block) (int, error) {
	var (
		texts    []string
		blockIDs []string
	)
	for _, b := range models.VisibleBlocks(blocks) {
		text := textualize.Textualize(b.Type, b.Content)
		if text == "" {
			idx.logger.Debug("indexer skipping empty block",
				zap.String("guide_id", guideID), zap.String("block_id", b.ID), zap.String("type", string(b.Type)))
			continue
		}
		texts = append(texts, text)
		blockIDs = append(blockIDs, b.ID)
	}
	if len(texts) == 0 {
		return idx.vectors.ReplaceGuide(ctx, guideID, nil)
	}

	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	var partial *embedding.PartialError
	if err != nil && !errors.As(err, &partial) {
		return 0, fmt.Errorf("embed blocks: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embed blocks: got %d vectors for %d texts", len(vecs), len(texts))
	}

	now := time.Now()
	records := make([]*models.EmbeddingRecord, 0, len(texts))
	for i, vec := range vecs {
		if vec == nil {
			fields := []zap.Field{zap.String("guide_id", guideID), zap.String("block_id", blockIDs[i])}
			if partial != nil {
				fields = append(fields, zap.Error(partial.Failed[i]))
			}
			idx.logger.Warn("block rejected by embedding provider", fields...)
			continue
		}
		records = append(records, &models.EmbeddingRecord{
			ID:        uuid.New().String(),
			GuideID:   guideID,
			BlockID:   blockIDs[i],
			Content:   texts[i],
			Embedding: vec,
			CreatedAt: now,
		})
	}
	return idx.vectors.ReplaceGuide(ctx, guideID, records)
}

// DeleteAll removes every embedding of the guide.
func (idx *Indexer) DeleteAll(ctx context.Context, guideID string) (int64, error) {
	unlock, err := idx.locks.Lock(ctx, guideID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n, err := idx.vectors.DeleteGuide(ctx, guideID)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	idx.logger.Debug("indexer deleted embeddings", zap.String("guide_id", guideID), zap.Int64("count", n))
	return n, nil
}
