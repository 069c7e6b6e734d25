// Package search ranks a guide's blocks for a guest question by fusing keyword and vector signals.
package search

import (
	"sort"

	"github.com/hyperjump/guidechat/internal/keyword"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/vector"
)

// ScoringPolicy holds the fusion constants.
type ScoringPolicy struct {
	// KeywordBonus is added to the vector score when any keyword matches.
	KeywordBonus float64 `yaml:"keyword_bonus"`
	// KeywordWeight scales the keyword score when any keyword matches.
	KeywordWeight float64 `yaml:"keyword_weight"`
	// NoKeywordFactor scales the vector score when no keyword matches.
	NoKeywordFactor float64 `yaml:"no_keyword_factor"`
	// MinScore is the exclusive lower bound for a result to be kept.
	MinScore float64 `yaml:"min_score"`
}

// DefaultScoringPolicy returns the production fusion constants.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		KeywordBonus:    0.25,
		KeywordWeight:   0.15,
		NoKeywordFactor: 0.7,
		MinScore:        0.3,
	}
}

// Score fuses one candidate's vector and keyword scores.
func (p ScoringPolicy) Score(vectorScore, keywordScore float64) float64 {
	if keywordScore > 0 {
		return vectorScore + p.KeywordBonus + keywordScore*p.KeywordWeight
	}
	return vectorScore * p.NoKeywordFactor
}

// Fuse scores every candidate, drops those at or below policy.MinScore and
// returns the rest sorted by descending score. Equal scores keep candidate order.
func Fuse(candidates []*vector.Result, keywords keyword.Set, policy ScoringPolicy) []*models.RetrievedPassage {
	out := make([]*models.RetrievedPassage, 0, len(candidates))
	for _, c := range candidates {
		kw := keyword.Score(c.Content, keywords)
		score := policy.Score(c.Score, kw)
		if score <= policy.MinScore {
			continue
		}
		out = append(out, &models.RetrievedPassage{
			BlockID:      c.BlockID,
			Content:      c.Content,
			Score:        score,
			VectorScore:  c.Score,
			KeywordScore: kw,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
