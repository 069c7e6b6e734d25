package models

import "time"

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnMetadata is stored alongside a turn.
type TurnMetadata struct {
	ReferencedBlockIDs []string `json:"referencedBlockIds,omitempty"`
}

// ConversationTurn is one immutable message in a session.
type ConversationTurn struct {
	ID        string       `json:"id" db:"id"`
	GuideID   string       `json:"guideId" db:"guide_id"`
	SessionID string       `json:"sessionId" db:"session_id"`
	Role      Role         `json:"role" db:"role"`
	Content   string       `json:"content" db:"content"`
	Metadata  TurnMetadata `json:"metadata" db:"metadata"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
}

// PageMeta describes one page of a paginated listing.
type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// NewPageMeta computes pagination metadata. page and limit must already be normalized (>= 1).
func NewPageMeta(page, limit int, total int64) PageMeta {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageMeta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// TurnPage is a page of turns, newest first.
type TurnPage struct {
	Items []*ConversationTurn `json:"items"`
	Meta  PageMeta            `json:"meta"`
}
