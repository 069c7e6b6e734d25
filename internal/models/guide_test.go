package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGuide_Validate(t *testing.T) {
	g := &Guide{ID: "g1", AIInstructions: strings.Repeat("안", MaxAIInstructionsLength)}
	if err := g.Validate(); err != nil {
		t.Errorf("instructions at limit should be valid: %v", err)
	}
	g.AIInstructions += "x"
	if err := g.Validate(); err == nil {
		t.Error("expected error for instructions over limit")
	}
	if err := (&Guide{}).Validate(); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestBlockType_Valid(t *testing.T) {
	for _, bt := range BlockTypes {
		if !bt.Valid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BlockType("gallery").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestVisibleBlocks(t *testing.T) {
	blocks := []*Block{
		{ID: "a", IsVisible: true},
		{ID: "b", IsVisible: false},
		nil,
		{ID: "c", IsVisible: true},
	}
	got := VisibleBlocks(blocks)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got %+v", got)
	}
}

func TestNewPageMeta(t *testing.T) {
	tests := []struct {
		name               string
		page, limit        int
		total              int64
		wantPages          int
		wantNext, wantPrev bool
	}{
		{"empty", 1, 20, 0, 0, false, false},
		{"single page", 1, 20, 5, 1, false, false},
		{"first of three", 1, 10, 25, 3, true, false},
		{"middle", 2, 10, 25, 3, true, true},
		{"last", 3, 10, 25, 3, false, true},
		{"exact multiple", 2, 10, 20, 2, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPageMeta(tt.page, tt.limit, tt.total)
			if m.TotalPages != tt.wantPages || m.HasNext != tt.wantNext || m.HasPrev != tt.wantPrev {
				t.Errorf("got %+v", m)
			}
		})
	}
}

func TestWireNamesAreCamelCase(t *testing.T) {
	values := []any{
		&Guide{ID: "g1", AIInstructions: "x", SourcePath: "/g.yaml"},
		&Block{ID: "b1", GuideID: "g1"},
		&EmbeddingRecord{ID: "e1", GuideID: "g1", BlockID: "b1"},
		&ConversationTurn{ID: "t1", GuideID: "g1"},
	}
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var fields map[string]any
		if err := json.Unmarshal(b, &fields); err != nil {
			t.Fatal(err)
		}
		for key := range fields {
			if strings.Contains(key, "_") {
				t.Errorf("%T: field %q is not camelCase", v, key)
			}
		}
		if _, ok := fields["guideId"]; !ok {
			t.Errorf("%T: missing guideId in %s", v, b)
		}
	}
}
