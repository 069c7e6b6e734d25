package fileid

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestGuideID(t *testing.T) {
	id1 := GuideID("/guides/seaside.yaml")
	id2 := GuideID("/guides/seaside.yaml")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if len(id1) != len(prefix)+32 {
		t.Errorf("unexpected ID length: %q", id1)
	}
}

func TestGuideID_differentPaths(t *testing.T) {
	if GuideID("/guides/a.yaml") == GuideID("/guides/b.yaml") {
		t.Error("different paths should give different IDs")
	}
}

func TestGuideID_normalized(t *testing.T) {
	id1 := GuideID("/guides/a.yaml")
	id2 := GuideID("/guides/./a.yaml")
	id3 := GuideID("/guides/x/../a.yaml")
	if id1 != id2 || id1 != id3 {
		t.Errorf("equivalent paths should normalize: %q %q %q", id1, id2, id3)
	}
}

func TestGuideID_pathSegmentSafe(t *testing.T) {
	abs, _ := filepath.Abs("guide.json")
	id := GuideID(abs)
	if url.PathEscape(id) != id {
		t.Errorf("ID needs escaping in a URL path: %q", id)
	}
}
