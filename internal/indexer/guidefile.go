package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/guidechat/internal/fileid"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/storage"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GuideExtensions are the file extensions ImportDirectory and the watcher accept by default.
var GuideExtensions = []string{".yaml", ".yml", ".json"}

// GuideFile is the on-disk form of a guide. YAML and JSON share the same keys.
type GuideFile struct {
	ID                string      `yaml:"id" json:"id"`
	AccommodationName string      `yaml:"accommodationName" json:"accommodationName"`
	Published         *bool       `yaml:"published" json:"published"`
	AIEnabled         *bool       `yaml:"aiEnabled" json:"aiEnabled"`
	AIInstructions    string      `yaml:"aiInstructions" json:"aiInstructions"`
	Blocks            []BlockFile `yaml:"blocks" json:"blocks"`
}

// BlockFile is one block of a GuideFile. Content holds the typed payload.
type BlockFile struct {
	ID      string         `yaml:"id" json:"id"`
	Type    string         `yaml:"type" json:"type"`
	Visible *bool          `yaml:"visible" json:"visible"`
	Content map[string]any `yaml:"content" json:"content"`
}

// ImportResult describes one ImportFile call.
type ImportResult struct {
	GuideID    string `json:"guideId"`
	Path       string `json:"path"`
	Embeddings int    `json:"embeddingsCount"`
	Skipped    bool   `json:"skipped"`
}

// ParseGuideFile decodes a guide document. The format follows the file extension.
// Missing ids default to the path hash for the guide and "block-N" for blocks;
// published, aiEnabled and visible default to true.
func ParseGuideFile(absPath string, data []byte) (*models.Guide, []*models.Block, error) {
	var gf GuideFile
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json":
		if err := json.Unmarshal(data, &gf); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", absPath, err)
		}
	default:
		if err := yaml.Unmarshal(data, &gf); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", absPath, err)
		}
	}

	guide := &models.Guide{
		ID:                strings.TrimSpace(gf.ID),
		AccommodationName: strings.TrimSpace(gf.AccommodationName),
		IsPublished:       boolOr(gf.Published, true),
		AIEnabled:         boolOr(gf.AIEnabled, true),
		AIInstructions:    strings.TrimSpace(gf.AIInstructions),
	}
	if guide.ID == "" {
		guide.ID = fileid.GuideID(absPath)
	}
	if err := guide.Validate(); err != nil {
		return nil, nil, err
	}

	blocks := make([]*models.Block, 0, len(gf.Blocks))
	seen := make(map[string]struct{}, len(gf.Blocks))
	for i, bf := range gf.Blocks {
		bt := models.BlockType(strings.TrimSpace(bf.Type))
		if !bt.Valid() {
			return nil, nil, fmt.Errorf("block %d: unknown type %q", i+1, bf.Type)
		}
		id := strings.TrimSpace(bf.ID)
		if id == "" {
			id = fmt.Sprintf("block-%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("block %d: duplicate id %q", i+1, id)
		}
		seen[id] = struct{}{}
		content, err := json.Marshal(bf.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("block %s: %w", id, err)
		}
		blocks = append(blocks, &models.Block{
			ID:        id,
			GuideID:   guide.ID,
			Type:      bt,
			Content:   content,
			Order:     i,
			IsVisible: boolOr(bf.Visible, true),
		})
	}
	return guide, blocks, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ImportFile loads a guide file into the guide store and reindexes it.
// Files whose mtime and size match the previous import are skipped.
func (idx *Indexer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	idx.logger.Debug("indexer importing file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	previous, err := idx.guides.GetGuideBySource(ctx, absPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup guide: %w", err)
	}
	if previous != nil && previous.SourceMtime == info.ModTime().UnixNano() && previous.SourceSize == info.Size() {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return &ImportResult{GuideID: previous.ID, Path: absPath, Skipped: true}, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	guide, blocks, err := ParseGuideFile(absPath, data)
	if err != nil {
		return nil, err
	}
	// Mtime and size are recorded only after the reindex succeeds, so a failed
	// import is retried on the next sync.
	guide.SourcePath = absPath

	// The file now declares a different id; drop the guide it used to produce.
	if previous != nil && previous.ID != guide.ID {
		if err := idx.removeGuide(ctx, previous.ID); err != nil {
			return nil, err
		}
	}
	if existing, err := idx.guides.GetGuide(ctx, guide.ID); err == nil {
		guide.CreatedAt = existing.CreatedAt
	}
	if err := idx.guides.SaveGuide(ctx, guide, blocks); err != nil {
		return nil, fmt.Errorf("save guide: %w", err)
	}
	n, err := idx.Reindex(ctx, guide.ID)
	if err != nil {
		return nil, err
	}
	if err := idx.guides.MarkSourceSynced(ctx, guide.ID, info.ModTime().UnixNano(), info.Size()); err != nil {
		return nil, fmt.Errorf("record source state: %w", err)
	}
	idx.logger.Debug("indexer file imported",
		zap.String("path", absPath), zap.String("guide_id", guide.ID), zap.Int("blocks", len(blocks)))
	return &ImportResult{GuideID: guide.ID, Path: absPath, Embeddings: n}, nil
}

// ImportDirectory walks dir recursively and imports each regular file whose extension is in
// allowedExts (GuideExtensions when empty). Returns the number of files imported or skipped
// as unchanged, and the first error encountered.
func (idx *Indexer) ImportDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	if len(allowedExts) == 0 {
		allowedExts = GuideExtensions
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are imported
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, importErr := idx.ImportFile(ctx, path); importErr != nil {
			return fmt.Errorf("%s: %w", path, importErr)
		}
		n++
		return nil
	})
	return n, err
}

// RemoveFile deletes the guide imported from path together with its embeddings.
// A path that was never imported is not an error.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	guide, err := idx.guides.GetGuideBySource(ctx, absPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup guide: %w", err)
	}
	idx.logger.Debug("indexer removing file", zap.String("path", absPath), zap.String("guide_id", guide.ID))
	return idx.removeGuide(ctx, guide.ID)
}

func (idx *Indexer) removeGuide(ctx context.Context, guideID string) error {
	if _, err := idx.DeleteAll(ctx, guideID); err != nil {
		return err
	}
	if err := idx.guides.DeleteGuide(ctx, guideID); err != nil {
		return fmt.Errorf("delete guide: %w", err)
	}
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
