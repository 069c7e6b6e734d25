// Package models defines core data structures for guides, blocks, embeddings, and conversations.
package models

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxAIInstructionsLength is the maximum length, in characters, of a host's AI instructions.
const MaxAIInstructionsLength = 5000

// BlockType identifies the typed payload carried by a Block.
type BlockType string

const (
	BlockTypeHero      BlockType = "hero"
	BlockTypeQuickInfo BlockType = "quick_info"
	BlockTypeAmenities BlockType = "amenities"
	BlockTypeMap       BlockType = "map"
	BlockTypeHostPick  BlockType = "host_pick"
	BlockTypeNotice    BlockType = "notice"
)

// BlockTypes lists every known block type.
var BlockTypes = []BlockType{
	BlockTypeHero,
	BlockTypeQuickInfo,
	BlockTypeAmenities,
	BlockTypeMap,
	BlockTypeHostPick,
	BlockTypeNotice,
}

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	for _, known := range BlockTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Guide is one accommodation guidebook.
type Guide struct {
	ID                string    `json:"id" db:"id"`
	AccommodationName string    `json:"accommodationName" db:"accommodation_name"`
	IsPublished       bool      `json:"isPublished" db:"is_published"`
	AIEnabled         bool      `json:"aiEnabled" db:"ai_enabled"`
	AIInstructions    string    `json:"aiInstructions,omitempty" db:"ai_instructions"`
	SourcePath        string    `json:"sourcePath,omitempty" db:"source_path"`
	SourceMtime       int64     `json:"-" db:"source_mtime"`
	SourceSize        int64     `json:"-" db:"source_size"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// Validate checks the guide's invariants.
func (g *Guide) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("guide id cannot be empty")
	}
	if n := utf8.RuneCountInString(g.AIInstructions); n > MaxAIInstructionsLength {
		return fmt.Errorf("ai instructions too long: %d characters (max %d)", n, MaxAIInstructionsLength)
	}
	return nil
}

// Block is one content unit of a guide.
type Block struct {
	ID        string          `json:"id" db:"id"`
	GuideID   string          `json:"guideId" db:"guide_id"`
	Type      BlockType       `json:"type" db:"type"`
	Content   json.RawMessage `json:"content" db:"content"`
	Order     int             `json:"order" db:"sort_order"`
	IsVisible bool            `json:"isVisible" db:"is_visible"`
}

// VisibleBlocks returns the blocks with IsVisible set, preserving order.
func VisibleBlocks(blocks []*Block) []*Block {
	out := make([]*Block, 0, len(blocks))
	for _, b := range blocks {
		if b != nil && b.IsVisible {
			out = append(out, b)
		}
	}
	return out
}

// EmbeddingRecord is the indexed representation of one block.
type EmbeddingRecord struct {
	ID        string    `json:"id" db:"id"`
	GuideID   string    `json:"guideId" db:"guide_id"`
	BlockID   string    `json:"blockId" db:"block_id"`
	Content   string    `json:"content" db:"content"`
	Embedding []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
