// Package keyword extracts guest-question keywords and scores block text against them.
package keyword

import (
	"sort"
	"strings"
	"unicode/utf8"
)

var stripper = strings.NewReplacer("?", "", ".", "", ",", "", "!", "")

// Set is a keyword set.
type Set map[string]struct{}

// ExtractKeywords tokenizes query and expands each token with every synonym
// group whose canonical term or member occurs inside the token.
func ExtractKeywords(query string) Set {
	normalized := stripper.Replace(strings.ToLower(query))
	keywords := make(Set)
	for _, token := range strings.Fields(normalized) {
		if utf8.RuneCountInString(token) <= 1 {
			continue
		}
		keywords[token] = struct{}{}
		for canonical, group := range Synonyms {
			if !groupMatches(token, canonical, group) {
				continue
			}
			keywords[canonical] = struct{}{}
			for _, s := range group {
				keywords[s] = struct{}{}
			}
		}
	}
	return keywords
}

func groupMatches(token, canonical string, group []string) bool {
	if strings.Contains(token, canonical) {
		return true
	}
	for _, s := range group {
		if strings.Contains(token, s) {
			return true
		}
	}
	return false
}

// Score returns the fraction of keywords that occur in content, case-insensitively.
func Score(content string, keywords Set) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matches := 0
	for kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// Sorted returns the keywords in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for kw := range s {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}
