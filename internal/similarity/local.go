package similarity

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Exact scores 1 when both strings normalize to the same text and 0 otherwise.
type Exact struct{}

// Similarity implements service.SimilarityProvider.
func (Exact) Similarity(_ context.Context, a, b string) (float64, error) {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0, nil
	}
	if na == nb {
		return 1, nil
	}
	return 0, nil
}

// TokenOverlap scores the overlap coefficient of the two token sets:
// shared tokens divided by the size of the smaller set. A vendor name fully
// contained in a longer bank description scores 1.
type TokenOverlap struct{}

// Similarity implements service.SimilarityProvider.
func (TokenOverlap) Similarity(_ context.Context, a, b string) (float64, error) {
	return tokenOverlap(Tokens(a), Tokens(b)), nil
}

func tokenOverlap(ta, tb []string) float64 {
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(ta), len(tb)))
}

// EditDistance scores 1 minus the Levenshtein distance of the normalized
// strings divided by the longer length.
type EditDistance struct{}

// Similarity implements service.SimilarityProvider.
func (EditDistance) Similarity(_ context.Context, a, b string) (float64, error) {
	return editSimilarity(Normalize(a), Normalize(b)), nil
}

func editSimilarity(na, nb string) float64 {
	if na == "" || nb == "" {
		return 0
	}
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// Composite takes the best of token overlap and edit distance. Token overlap
// catches vendor names buried in long descriptions; edit distance catches
// typos and truncation.
type Composite struct{}

// Similarity implements service.SimilarityProvider.
func (Composite) Similarity(_ context.Context, a, b string) (float64, error) {
	ta, tb := Tokens(a), Tokens(b)
	overlap := tokenOverlap(ta, tb)
	if overlap == 1 {
		return 1, nil
	}
	return max(overlap, editSimilarity(strings.Join(ta, " "), strings.Join(tb, " "))), nil
}
