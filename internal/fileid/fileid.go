// Package fileid derives stable guide IDs from the files they were imported from.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "guide-"

// GuideID returns a stable, URL-safe guide ID for the given absolute path.
// Re-importing the same file updates the same guide.
func GuideID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}
