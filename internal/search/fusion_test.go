package search

import (
	"math"
	"testing"

	"github.com/hyperjump/guidechat/internal/keyword"
	"github.com/hyperjump/guidechat/internal/vector"
)

func TestScoringPolicy_Score(t *testing.T) {
	p := DefaultScoringPolicy()
	tests := []struct {
		name    string
		vec, kw float64
		want    float64
	}{
		{"keyword hit", 0.5, 0.4, 0.5 + 0.25 + 0.4*0.15},
		{"no keyword", 0.5, 0, 0.35},
		{"negative vector with keyword", -0.2, 1, -0.2 + 0.25 + 0.15},
		{"zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Score(tt.vec, tt.kw); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%v, %v) = %v, want %v", tt.vec, tt.kw, got, tt.want)
			}
		})
	}
}

func TestFuse_Properties(t *testing.T) {
	keywords := keyword.ExtractKeywords("체크인 시간")
	candidates := []*vector.Result{
		{BlockID: "quick", Content: "체크인 시간: 15:00", Score: 0.4},
		{BlockID: "hero", Content: "바다 앞 독채", Score: 0.6},
		{BlockID: "weak", Content: "헤어드라이어", Score: 0.2},
		{BlockID: "neg", Content: "무관", Score: -0.5},
	}
	out := Fuse(candidates, keywords, DefaultScoringPolicy())

	if len(out) != 2 {
		t.Fatalf("expected 2 passages above threshold, got %d", len(out))
	}
	if out[0].BlockID != "quick" {
		t.Errorf("keyword hit should rank first, got %s", out[0].BlockID)
	}
	for _, p := range out {
		if p.Score <= 0.3 {
			t.Errorf("%s score %f at or below threshold", p.BlockID, p.Score)
		}
		if p.KeywordScore > 0 && p.Score < p.VectorScore {
			t.Errorf("%s: keyword hit lowered score", p.BlockID)
		}
		if p.KeywordScore == 0 && math.Abs(p.Score-0.7*p.VectorScore) > 1e-9 {
			t.Errorf("%s: no-keyword score should be 0.7*vector", p.BlockID)
		}
	}
	if math.Abs(out[1].Score-0.42) > 1e-9 {
		t.Errorf("hero score = %f, want 0.42", out[1].Score)
	}
}

func TestFuse_ThresholdIsExclusive(t *testing.T) {
	p := ScoringPolicy{NoKeywordFactor: 1, MinScore: 0.3}
	out := Fuse([]*vector.Result{{BlockID: "edge", Score: 0.3}, {BlockID: "above", Score: 0.31}}, keyword.Set{}, p)
	if len(out) != 1 || out[0].BlockID != "above" {
		t.Errorf("expected only 'above', got %+v", out)
	}
}

func TestFuse_Empty(t *testing.T) {
	if out := Fuse(nil, keyword.Set{}, DefaultScoringPolicy()); len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}
