package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/guidechat/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

type recordingHandler struct {
	mu       sync.Mutex
	imported []string
	removed  []string
}

func (h *recordingHandler) ImportFile(_ context.Context, path string) (*indexer.ImportResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.imported = append(h.imported, path)
	return &indexer.ImportResult{GuideID: "g", Path: path}, nil
}

func (h *recordingHandler) RemoveFile(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, path)
	return nil
}

func (h *recordingHandler) importedWith(suffix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.imported {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func (h *recordingHandler) removedWith(suffix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.removed {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, dir string, h Handler) *Watcher {
	t.Helper()
	w := NewWatcher([]string{dir}, nil, true, h, WithDebounce(testDebounce))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_importsChangedGuide(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{}
	startWatcher(t, dir, h)

	require.NoError(t, writeFile(filepath.Join(dir, "seaside.yaml"), "accommodationName: 바다집\n"))
	require.NoError(t, writeFile(filepath.Join(dir, "notes.txt"), "ignored"))

	require.Eventually(t, func() bool { return h.importedWith("seaside.yaml") }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, h.importedWith("notes.txt"))
}

func TestWatcher_debouncesBurstOfWrites(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{}
	w := NewWatcher([]string{dir}, nil, true, h, WithDebounce(200*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	path := filepath.Join(dir, "g.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, writeFile(path, `{"blocks":[]}`))
	}
	require.Eventually(t, func() bool { return h.importedWith("g.json") }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.imported, 1)
}

func TestWatcher_removesDeletedGuide(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.yml")
	require.NoError(t, writeFile(path, "blocks: []\n"))
	h := &recordingHandler{}
	startWatcher(t, dir, h)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return h.removedWith("old.yml") }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_newDirectory(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{}
	startWatcher(t, dir, h)

	nested := filepath.Join(dir, "level1", "level2")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, writeFile(filepath.Join(nested, "deep.yaml"), "blocks: []\n"))

	require.Eventually(t, func() bool { return h.importedWith("deep.yaml") }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "a.yaml"), "blocks: []\n"))
	require.NoError(t, writeFile(filepath.Join(dir, "ignore.xyz"), "x"))
	h := &recordingHandler{}
	w := NewWatcher([]string{dir}, nil, true, h)

	w.Sync(context.Background())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.imported, 1)
	assert.True(t, strings.HasSuffix(h.imported[0], "a.yaml"))
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, root, &recordingHandler{})

	_, err := os.Stat(root)
	assert.NoError(t, err, "root directory should exist after Start")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher([]string{t.TempDir()}, nil, false, &recordingHandler{})
	w.Stop()
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.yaml", indexer.GuideExtensions, true},
		{"/a/b.YML", indexer.GuideExtensions, true},
		{"/a/b.json", []string{"json"}, true},
		{"/a/b.md", indexer.GuideExtensions, false},
		{"/a/b", indexer.GuideExtensions, false},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.yaml", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
