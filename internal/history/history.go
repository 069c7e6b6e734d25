// Package history is the append-only conversation log for guide chat sessions.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service records and reads conversation turns.
type Service struct {
	store storage.HistoryStore
	now   func() time.Time
}

// NewService creates a history service over store.
func NewService(store storage.HistoryStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Append writes a new turn with a fresh id and timestamp.
func (s *Service) Append(ctx context.Context, guideID, sessionID string, role models.Role, content string, metadata models.TurnMetadata) (*models.ConversationTurn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("refusing to append empty %s turn", role)
	}
	turn := &models.ConversationTurn{
		ID:        uuid.New().String(),
		GuideID:   guideID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("append %s turn: %w", role, err)
	}
	return turn, nil
}

// Recent returns the last n turns of the session, oldest first.
func (s *Service) Recent(ctx context.Context, guideID, sessionID string, n int) ([]*models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.store.RecentTurns(ctx, guideID, sessionID, n)
}

// List returns one page of the guide's turns, newest first. An empty sessionID lists every session.
func (s *Service) List(ctx context.Context, guideID, sessionID string, page, limit int) (*models.TurnPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	items, total, err := s.store.ListTurns(ctx, storage.TurnFilter{
		GuideID:   guideID,
		SessionID: sessionID,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if items == nil {
		items = []*models.ConversationTurn{}
	}
	return &models.TurnPage{Items: items, Meta: models.NewPageMeta(page, limit, total)}, nil
}

// Session returns the whole session oldest first, or storage.ErrNotFound when it has no turns.
func (s *Service) Session(ctx context.Context, guideID, sessionID string) ([]*models.ConversationTurn, error) {
	turns, err := s.store.SessionTurns(ctx, guideID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, storage.ErrNotFound
	}
	return turns, nil
}

// DeleteSession removes every turn of the session and returns how many were removed.
func (s *Service) DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error) {
	return s.store.DeleteSession(ctx, guideID, sessionID)
}
