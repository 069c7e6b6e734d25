package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ChatRequest is the body of a chat request.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// Validate checks the message against ValidateMessage.
func (r *ChatRequest) Validate(maxLen int) error {
	return ValidateMessage(r.Message, maxLen)
}

// ValidateMessage requires 1..maxLen characters, counted as code points, and some non-space text.
func ValidateMessage(message string, maxLen int) error {
	n := utf8.RuneCountInString(message)
	if n == 0 || strings.TrimSpace(message) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if n > maxLen {
		return fmt.Errorf("message too long: %d characters (max %d)", n, maxLen)
	}
	return nil
}

// SearchQuery is a host-side retrieval request against one guide.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the query is non-empty and normalizes the limit.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
