package reconcile

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// SimilarityScorer scores how alike two names are on a 0..1 scale, where 1 is
// an exact match. Implementations must be safe for concurrent use.
type SimilarityScorer interface {
	Score(a, b string) float64
}

// LevenshteinScorer scores names by edit distance relative to the longer
// input. It is the default scorer.
type LevenshteinScorer struct{}

// Score returns 1 - distance/maxLen over the case-folded inputs.
func (LevenshteinScorer) Score(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// TrigramScorer scores names by Dice coefficient over character trigrams,
// mirroring the behaviour of store-side trigram matching.
type TrigramScorer struct{}

// Score returns 2*|A∩B| / (|A|+|B|) over the trigram sets of both inputs.
func (TrigramScorer) Score(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) && strings.TrimSpace(a) != "" {
			return 1
		}
		return 0
	}

	var shared int
	for gram := range ta {
		if tb[gram] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func trigrams(value string) map[string]bool {
	value = strings.ToLower(strings.Join(strings.Fields(value), " "))
	runes := []rune("  " + value + " ")
	grams := make(map[string]bool)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = true
	}
	return grams
}
