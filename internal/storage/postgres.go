package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/guidechat/internal/models"
)

// PostgresStorage implements Storage on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a pool for dsn and verifies connectivity.
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStorage wraps pool and creates the schema if missing. The pool is owned by the caller.
func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgresStorage, error) {
	s := &PostgresStorage{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS guides (
		id TEXT PRIMARY KEY,
		accommodation_name TEXT NOT NULL DEFAULT '',
		is_published BOOLEAN NOT NULL DEFAULT FALSE,
		ai_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		ai_instructions TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		source_mtime BIGINT NOT NULL DEFAULT 0,
		source_size BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_guides_source_path ON guides(source_path);

	CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL,
		guide_id TEXT NOT NULL REFERENCES guides(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		content JSONB NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		is_visible BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (guide_id, id)
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		guide_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_turns_guide_session ON conversation_turns(guide_id, session_id, seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const pgGuideColumns = `id, accommodation_name, is_published, ai_enabled, ai_instructions,
	source_path, source_mtime, source_size, created_at, updated_at`

// GetGuide returns a guide by ID.
func (s *PostgresStorage) GetGuide(ctx context.Context, id string) (*models.Guide, error) {
	g, err := scanGuide(s.pool.QueryRow(ctx, `SELECT `+pgGuideColumns+` FROM guides WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("guide %s: %w", id, ErrNotFound)
	}
	return g, err
}

// GetGuideBySource returns the guide imported from sourcePath.
func (s *PostgresStorage) GetGuideBySource(ctx context.Context, sourcePath string) (*models.Guide, error) {
	g, err := scanGuide(s.pool.QueryRow(ctx,
		`SELECT `+pgGuideColumns+` FROM guides WHERE source_path = $1 AND source_path <> '' LIMIT 1`, sourcePath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("guide from %s: %w", sourcePath, ErrNotFound)
	}
	return g, err
}

// ListVisibleBlocks returns a guide's visible blocks in display order.
func (s *PostgresStorage) ListVisibleBlocks(ctx context.Context, guideID string) ([]*models.Block, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, guide_id, type, content::text, sort_order, is_visible
		 FROM blocks WHERE guide_id = $1 AND is_visible
		 ORDER BY sort_order, id`, guideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		var b models.Block
		var blockType, content string
		if err := rows.Scan(&b.ID, &b.GuideID, &blockType, &content, &b.Order, &b.IsVisible); err != nil {
			return nil, err
		}
		b.Type = models.BlockType(blockType)
		b.Content = json.RawMessage(content)
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// SaveGuide upserts a guide and replaces its blocks in one transaction.
func (s *PostgresStorage) SaveGuide(ctx context.Context, guide *models.Guide, blocks []*models.Block) error {
	if err := guide.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if guide.CreatedAt.IsZero() {
		guide.CreatedAt = now
	}
	guide.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO guides (`+pgGuideColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   accommodation_name = EXCLUDED.accommodation_name,
		   is_published = EXCLUDED.is_published,
		   ai_enabled = EXCLUDED.ai_enabled,
		   ai_instructions = EXCLUDED.ai_instructions,
		   source_path = EXCLUDED.source_path,
		   source_mtime = EXCLUDED.source_mtime,
		   source_size = EXCLUDED.source_size,
		   updated_at = EXCLUDED.updated_at`,
		guide.ID, guide.AccommodationName, guide.IsPublished, guide.AIEnabled, guide.AIInstructions,
		guide.SourcePath, guide.SourceMtime, guide.SourceSize, guide.CreatedAt, guide.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert guide: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM blocks WHERE guide_id = $1`, guide.ID); err != nil {
		return fmt.Errorf("failed to clear blocks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, b := range blocks {
		b.GuideID = guide.ID
		batch.Queue(
			`INSERT INTO blocks (id, guide_id, type, content, sort_order, is_visible)
			 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
			b.ID, b.GuideID, string(b.Type), string(b.Content), b.Order, b.IsVisible,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert blocks: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// MarkSourceSynced stores the source mtime and size used to skip unchanged files.
func (s *PostgresStorage) MarkSourceSynced(ctx context.Context, id string, mtime, size int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE guides SET source_mtime = $2, source_size = $3 WHERE id = $1`, id, mtime, size)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGuide removes a guide; blocks cascade. Conversation turns are kept for audit.
func (s *PostgresStorage) DeleteGuide(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM guides WHERE id = $1`, id)
	return err
}

// CountGuides returns the number of guides.
func (s *PostgresStorage) CountGuides(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM guides`).Scan(&n)
	return n, err
}

// AppendTurn inserts a conversation turn.
func (s *PostgresStorage) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	metadataJSON, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, guide_id, session_id, role, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		turn.ID, turn.GuideID, turn.SessionID, string(turn.Role), turn.Content, string(metadataJSON), turn.CreatedAt,
	)
	return err
}

const pgTurnColumns = `id, guide_id, session_id, role, content, metadata::text, created_at`

func (s *PostgresStorage) queryTurns(ctx context.Context, query string, args ...any) ([]*models.ConversationTurn, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []*models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var role, metadataJSON string
		if err := rows.Scan(&t.ID, &t.GuideID, &t.SessionID, &role, &t.Content, &metadataJSON, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// RecentTurns returns the last n turns of a session, oldest first.
func (s *PostgresStorage) RecentTurns(ctx context.Context, guideID, sessionID string, n int) ([]*models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	turns, err := s.queryTurns(ctx,
		`SELECT `+pgTurnColumns+` FROM conversation_turns
		 WHERE guide_id = $1 AND session_id = $2
		 ORDER BY seq DESC LIMIT $3`, guideID, sessionID, n)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

// ListTurns returns one page of turns newest first and the total count.
func (s *PostgresStorage) ListTurns(ctx context.Context, f TurnFilter) ([]*models.ConversationTurn, int64, error) {
	// An empty session id matches every session of the guide.
	const where = `WHERE guide_id = $1 AND ($2 = '' OR session_id = $2)`
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_turns `+where, f.GuideID, f.SessionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	turns, err := s.queryTurns(ctx,
		`SELECT `+pgTurnColumns+` FROM conversation_turns `+where+`
		 ORDER BY seq DESC LIMIT $3 OFFSET $4`, f.GuideID, f.SessionID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}

// SessionTurns returns every turn of a session, oldest first.
func (s *PostgresStorage) SessionTurns(ctx context.Context, guideID, sessionID string) ([]*models.ConversationTurn, error) {
	return s.queryTurns(ctx,
		`SELECT `+pgTurnColumns+` FROM conversation_turns
		 WHERE guide_id = $1 AND session_id = $2
		 ORDER BY seq ASC`, guideID, sessionID)
}

// DeleteSession removes every turn of a session and returns the number deleted.
func (s *PostgresStorage) DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_turns WHERE guide_id = $1 AND session_id = $2`, guideID, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountTurns returns the number of stored turns.
func (s *PostgresStorage) CountTurns(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_turns`).Scan(&n)
	return n, err
}

// Close is a no-op; the pool is closed by its owner.
func (s *PostgresStorage) Close() error {
	return nil
}
