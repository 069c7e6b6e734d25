// Package storage defines the persistence interfaces for guides, blocks, and conversation turns.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/guidechat/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// GuideStore reads guides and their blocks. SaveGuide and DeleteGuide back the file importer.
type GuideStore interface {
	GetGuide(ctx context.Context, id string) (*models.Guide, error)
	GetGuideBySource(ctx context.Context, sourcePath string) (*models.Guide, error)
	ListVisibleBlocks(ctx context.Context, guideID string) ([]*models.Block, error)
	// SaveGuide upserts the guide and replaces its blocks in one transaction.
	SaveGuide(ctx context.Context, guide *models.Guide, blocks []*models.Block) error
	// MarkSourceSynced records the source file state once the guide's import has fully succeeded.
	MarkSourceSynced(ctx context.Context, id string, mtime, size int64) error
	DeleteGuide(ctx context.Context, id string) error
	CountGuides(ctx context.Context) (int64, error)
}

// TurnFilter selects turns for ListTurns. Empty SessionID matches every session of the guide.
type TurnFilter struct {
	GuideID   string
	SessionID string
	Offset    int
	Limit     int
}

// HistoryStore is the append-only conversation log.
type HistoryStore interface {
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error
	// RecentTurns returns the last n turns of a session, oldest first.
	RecentTurns(ctx context.Context, guideID, sessionID string, n int) ([]*models.ConversationTurn, error)
	// ListTurns returns one page of turns newest first, plus the total matching count.
	ListTurns(ctx context.Context, filter TurnFilter) ([]*models.ConversationTurn, int64, error)
	// SessionTurns returns every turn of a session, oldest first.
	SessionTurns(ctx context.Context, guideID, sessionID string) ([]*models.ConversationTurn, error)
	DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error)
	CountTurns(ctx context.Context) (int64, error)
}

// Storage is the full relational store.
type Storage interface {
	GuideStore
	HistoryStore
	Close() error
}
