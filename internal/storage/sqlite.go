package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/guidechat/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS guides (
		id TEXT PRIMARY KEY,
		accommodation_name TEXT NOT NULL DEFAULT '',
		is_published INTEGER NOT NULL DEFAULT 0,
		ai_enabled INTEGER NOT NULL DEFAULT 0,
		ai_instructions TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		source_mtime INTEGER NOT NULL DEFAULT 0,
		source_size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_guides_source_path ON guides(source_path);

	CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL,
		guide_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		is_visible INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (guide_id, id)
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		guide_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_turns_guide_session ON conversation_turns(guide_id, session_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// DB returns the underlying handle so other SQLite-backed components can share the connection pool.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// GetGuide returns a guide by ID.
func (s *SQLiteStorage) GetGuide(ctx context.Context, id string) (*models.Guide, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, accommodation_name, is_published, ai_enabled, ai_instructions,
		        source_path, source_mtime, source_size, created_at, updated_at
		 FROM guides WHERE id = ?`, id)
	g, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guide %s: %w", id, ErrNotFound)
	}
	return g, err
}

// GetGuideBySource returns the guide imported from sourcePath.
func (s *SQLiteStorage) GetGuideBySource(ctx context.Context, sourcePath string) (*models.Guide, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, accommodation_name, is_published, ai_enabled, ai_instructions,
		        source_path, source_mtime, source_size, created_at, updated_at
		 FROM guides WHERE source_path = ? AND source_path != '' LIMIT 1`, sourcePath)
	g, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guide from %s: %w", sourcePath, ErrNotFound)
	}
	return g, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuide(row rowScanner) (*models.Guide, error) {
	var g models.Guide
	if err := row.Scan(&g.ID, &g.AccommodationName, &g.IsPublished, &g.AIEnabled, &g.AIInstructions,
		&g.SourcePath, &g.SourceMtime, &g.SourceSize, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListVisibleBlocks returns a guide's visible blocks in display order.
func (s *SQLiteStorage) ListVisibleBlocks(ctx context.Context, guideID string) ([]*models.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guide_id, type, content, sort_order, is_visible
		 FROM blocks WHERE guide_id = ? AND is_visible = 1
		 ORDER BY sort_order, id`, guideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		var b models.Block
		var content string
		if err := rows.Scan(&b.ID, &b.GuideID, &b.Type, &content, &b.Order, &b.IsVisible); err != nil {
			return nil, err
		}
		b.Content = json.RawMessage(content)
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// SaveGuide upserts a guide and replaces its blocks in one transaction.
func (s *SQLiteStorage) SaveGuide(ctx context.Context, guide *models.Guide, blocks []*models.Block) error {
	if err := guide.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if guide.CreatedAt.IsZero() {
		guide.CreatedAt = now
	}
	guide.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO guides (id, accommodation_name, is_published, ai_enabled, ai_instructions,
		                     source_path, source_mtime, source_size, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   accommodation_name = excluded.accommodation_name,
		   is_published = excluded.is_published,
		   ai_enabled = excluded.ai_enabled,
		   ai_instructions = excluded.ai_instructions,
		   source_path = excluded.source_path,
		   source_mtime = excluded.source_mtime,
		   source_size = excluded.source_size,
		   updated_at = excluded.updated_at`,
		guide.ID, guide.AccommodationName, guide.IsPublished, guide.AIEnabled, guide.AIInstructions,
		guide.SourcePath, guide.SourceMtime, guide.SourceSize, guide.CreatedAt, guide.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert guide: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE guide_id = ?`, guide.ID); err != nil {
		return fmt.Errorf("failed to clear blocks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO blocks (id, guide_id, type, content, sort_order, is_visible)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, b := range blocks {
		b.GuideID = guide.ID
		if _, err := stmt.ExecContext(ctx, b.ID, b.GuideID, string(b.Type), string(b.Content), b.Order, b.IsVisible); err != nil {
			return fmt.Errorf("failed to insert block %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// MarkSourceSynced stores the source mtime and size used to skip unchanged files.
func (s *SQLiteStorage) MarkSourceSynced(ctx context.Context, id string, mtime, size int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guides SET source_mtime = ?, source_size = ? WHERE id = ?`, mtime, size, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGuide removes a guide and its blocks. Conversation turns are kept for audit.
func (s *SQLiteStorage) DeleteGuide(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE guide_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guides WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountGuides returns the number of guides.
func (s *SQLiteStorage) CountGuides(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guides`).Scan(&n)
	return n, err
}

// AppendTurn inserts a conversation turn.
func (s *SQLiteStorage) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	metadataJSON, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, guide_id, session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.GuideID, turn.SessionID, string(turn.Role), turn.Content, string(metadataJSON), turn.CreatedAt,
	)
	return err
}

const turnColumns = `id, guide_id, session_id, role, content, metadata, created_at`

func scanTurn(row rowScanner) (*models.ConversationTurn, error) {
	var t models.ConversationTurn
	var metadataJSON sql.NullString
	if err := row.Scan(&t.ID, &t.GuideID, &t.SessionID, &t.Role, &t.Content, &metadataJSON, &t.CreatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLiteStorage) queryTurns(ctx context.Context, query string, args ...any) ([]*models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []*models.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// RecentTurns returns the last n turns of a session, oldest first.
func (s *SQLiteStorage) RecentTurns(ctx context.Context, guideID, sessionID string, n int) ([]*models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	turns, err := s.queryTurns(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns
		 WHERE guide_id = ? AND session_id = ?
		 ORDER BY seq DESC LIMIT ?`, guideID, sessionID, n)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

// ListTurns returns one page of turns newest first and the total count.
func (s *SQLiteStorage) ListTurns(ctx context.Context, f TurnFilter) ([]*models.ConversationTurn, int64, error) {
	where := `WHERE guide_id = ?`
	args := []any{f.GuideID}
	if f.SessionID != "" {
		where += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_turns `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	turns, err := s.queryTurns(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns `+where+`
		 ORDER BY seq DESC LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}

// SessionTurns returns every turn of a session, oldest first.
func (s *SQLiteStorage) SessionTurns(ctx context.Context, guideID, sessionID string) ([]*models.ConversationTurn, error) {
	return s.queryTurns(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns
		 WHERE guide_id = ? AND session_id = ?
		 ORDER BY seq ASC`, guideID, sessionID)
}

// DeleteSession removes every turn of a session and returns the number deleted.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE guide_id = ? AND session_id = ?`, guideID, sessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountTurns returns the number of stored turns.
func (s *SQLiteStorage) CountTurns(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_turns`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func reverseTurns(turns []*models.ConversationTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
