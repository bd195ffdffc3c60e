package lineage

import (
	"sort"
	"strings"
)

// Default similarity thresholds for "did you mean" suggestions.
const (
	TableSimilarityThreshold  = 0.5
	ColumnSimilarityThreshold = 0.6
)

// Suggester proposes a replacement for a name that could not be resolved.
// Suggestions are best effort and never authoritative; an empty result means
// no suggestion.
type Suggester interface {
	Suggest(name string, candidates []string) string
}

// NoSuggestion never suggests anything.
type NoSuggestion struct{}

// Suggest implements Suggester.
func (NoSuggestion) Suggest(string, []string) string { return "" }

// ExactFold suggests a candidate only when it differs from name by letter
// case. With several such candidates the lexicographically smallest wins.
type ExactFold struct{}

// Suggest implements Suggester.
func (ExactFold) Suggest(name string, candidates []string) string {
	if name == "" {
		return ""
	}
	for _, c := range sortedCandidates(candidates) {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return ""
}

// Similarity suggests by case-insensitive equality, then substring
// containment, then a positional character score: the fraction of positions
// at which both names carry the same letter. Only scores strictly above
// Threshold are considered. Candidates are examined in sorted order so the
// result is deterministic.
type Similarity struct {
	Threshold float64
}

// Suggest implements Suggester.
func (s Similarity) Suggest(name string, candidates []string) string {
	if name == "" || len(candidates) == 0 {
		return ""
	}
	sorted := sortedCandidates(candidates)
	lower := strings.ToLower(name)

	for _, c := range sorted {
		if strings.ToLower(c) == lower {
			return c
		}
	}
	for _, c := range sorted {
		cl := strings.ToLower(c)
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			return c
		}
	}

	best, bestScore := "", 0.0
	for _, c := range sorted {
		score := PositionalSimilarity(lower, strings.ToLower(c))
		if score > bestScore && score > s.Threshold {
			best, bestScore = c, score
		}
	}
	return best
}

// PositionalSimilarity is the number of equal bytes at equal positions divided
// by the longer length. Two empty strings score 0.
func PositionalSimilarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	common := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			common++
		}
	}
	return float64(common) / float64(longest)
}

func sortedCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// NewSuggester maps a strategy name (similarity, exact, off) to a Suggester.
// Unknown names fall back to similarity.
func NewSuggester(strategy string, threshold float64) Suggester {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "off", "none":
		return NoSuggestion{}
	case "exact":
		return ExactFold{}
	default:
		return Similarity{Threshold: threshold}
	}
}
