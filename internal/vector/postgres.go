package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/guidechat/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps embeddings in a pgvector column and lets the database rank them.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresStore enables the vector extension and creates the embeddings table.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, dimensions int) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS guide_embeddings (
			id TEXT PRIMARY KEY,
			guide_id TEXT NOT NULL,
			block_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (guide_id, block_id)
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_guide_embeddings_guide ON guide_embeddings(guide_id)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create embeddings schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool, dimensions: dimensions}, nil
}

// ReplaceGuide deletes and re-inserts the guide's rows in one transaction.
func (s *PostgresStore) ReplaceGuide(ctx context.Context, guideID string, records []*models.EmbeddingRecord) (int, error) {
	if err := validateRecords(guideID, records, s.dimensions); err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM guide_embeddings WHERE guide_id = $1`, guideID); err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO guide_embeddings (id, guide_id, block_id, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.GuideID, r.BlockID, r.Content, pgvector.NewVector(r.Embedding), createdAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("insert embeddings: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Search ranks by cosine distance in the database. Score is 1 - distance.
func (s *PostgresStore) Search(ctx context.Context, guideID string, query []float32, topK int) ([]*Result, error) {
	if err := validateQuery(query, s.dimensions); err != nil {
		return nil, err
	}
	sql := `
		SELECT block_id, content, 1 - (embedding <=> $2) AS score
		FROM guide_embeddings
		WHERE guide_id = $1
		ORDER BY embedding <=> $2, block_id`
	args := []any{guideID, pgvector.NewVector(query)}
	if topK > 0 {
		sql += ` LIMIT $3`
		args = append(args, topK)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.BlockID, &r.Content, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteGuide removes every row of the guide.
func (s *PostgresStore) DeleteGuide(ctx context.Context, guideID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM guide_embeddings WHERE guide_id = $1`, guideID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of rows for guideID, or in total when guideID is empty.
func (s *PostgresStore) Count(ctx context.Context, guideID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM guide_embeddings WHERE $1 = '' OR guide_id = $1`, guideID).Scan(&n)
	return n, err
}

// Dimensions returns the vector dimension.
func (s *PostgresStore) Dimensions() int {
	return s.dimensions
}

// Close is a no-op; the pool is owned by its creator.
func (s *PostgresStore) Close() error {
	return nil
}
