package vector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/guidechat/internal/models"
)

// SQLiteStore keeps embeddings as little-endian float32 blobs and scores them in process.
// It shares the *sql.DB of the relational store; the caller owns the connection.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStore creates the embeddings table on db if needed.
func NewSQLiteStore(db *sql.DB, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS guide_embeddings (
		id TEXT PRIMARY KEY,
		guide_id TEXT NOT NULL,
		block_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (guide_id, block_id)
	);
	CREATE INDEX IF NOT EXISTS idx_guide_embeddings_guide ON guide_embeddings(guide_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create embeddings schema: %w", err)
	}
	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

// ReplaceGuide deletes and re-inserts the guide's rows in one transaction.
func (s *SQLiteStore) ReplaceGuide(ctx context.Context, guideID string, records []*models.EmbeddingRecord) (int, error) {
	if err := validateRecords(guideID, records, s.dimensions); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM guide_embeddings WHERE guide_id = ?`, guideID); err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO guide_embeddings (id, guide_id, block_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.GuideID, r.BlockID, r.Content, float32SliceToBytes(r.Embedding), createdAt); err != nil {
			return 0, fmt.Errorf("insert embedding %s: %w", r.BlockID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Search loads the guide's rows and ranks them by cosine similarity.
func (s *SQLiteStore) Search(ctx context.Context, guideID string, query []float32, topK int) ([]*Result, error) {
	if err := validateQuery(query, s.dimensions); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT block_id, content, embedding FROM guide_embeddings WHERE guide_id = ?`, guideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var blockID, content string
		var blob []byte
		if err := rows.Scan(&blockID, &content, &blob); err != nil {
			return nil, err
		}
		results = append(results, &Result{
			BlockID: blockID,
			Content: content,
			Score:   CosineSimilarity(query, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(results, topK), nil
}

// DeleteGuide removes every row of the guide.
func (s *SQLiteStore) DeleteGuide(ctx context.Context, guideID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guide_embeddings WHERE guide_id = ?`, guideID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of rows for guideID, or in total when guideID is empty.
func (s *SQLiteStore) Count(ctx context.Context, guideID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guide_embeddings WHERE ? = '' OR guide_id = ?`, guideID, guideID).Scan(&n)
	return n, err
}

// Dimensions returns the vector dimension.
func (s *SQLiteStore) Dimensions() int {
	return s.dimensions
}

// Close is a no-op; the database handle belongs to the relational store.
func (s *SQLiteStore) Close() error {
	return nil
}
