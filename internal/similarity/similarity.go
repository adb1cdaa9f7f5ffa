// Package similarity scores how alike two person names are on a 0-100 scale.
//
// The score blends a normalized edit distance with a token-set ratio so that
// typos and reordered names ("Doe John" vs "John Doe") both score high, and
// adds a small boost when the surnames agree. Everything here is pure and
// deterministic.
package similarity

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// MaxScore is the score of identical names.
const MaxScore = exactScore

const (
	exactScore     = 100
	containsScore  = 95
	reorderScore   = 95
	surnameBoost   = 10
	editWeight     = 0.4
	tokenSetWeight = 0.6
)

// Score returns the similarity of a and b in [0,100].
// Either input empty (after trimming) scores 0.
func Score(a, b string) int {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return exactScore
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return containsScore
	}

	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if sameTokenSet(tokensA, tokensB) {
		return reorderScore
	}

	boost := 0
	if tokensA[len(tokensA)-1] == tokensB[len(tokensB)-1] {
		boost = surnameBoost
	}

	lev := float64(LevenshteinRatio(a, b))
	token := float64(TokenSetRatio(a, b))
	return clamp(int(math.Round(editWeight*lev+tokenSetWeight*token)) + boost)
}

// MatchScore ranks a candidate name against a search query. Exact matches and
// containment in either direction score 100; anything else falls through to
// Score.
func MatchScore(query, candidate string) int {
	q := normalize(query)
	c := normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c || strings.Contains(c, q) || strings.Contains(q, c) {
		return exactScore
	}
	return Score(q, c)
}

// BestMatchScore returns the highest MatchScore of candidate against any query.
func BestMatchScore(queries []string, candidate string) int {
	best := 0
	for _, q := range queries {
		s := MatchScore(q, candidate)
		if s > best {
			best = s
		}
		if best == exactScore {
			break
		}
	}
	return best
}

// LevenshteinRatio maps the edit distance of a and b to a similarity:
// round((1 - distance/maxLen) * 100). Lengths are counted in runes.
func LevenshteinRatio(a, b string) int {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return exactScore
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return exactScore
	}
	distance := levenshtein.ComputeDistance(a, b)
	return int(math.Round((1 - float64(distance)/float64(maxLen)) * 100))
}

// TokenSetRatio compares the word sets of a and b irrespective of order.
// It builds the sorted intersection and the intersection extended by each
// side's remainder, then returns the best pairwise LevenshteinRatio.
func TokenSetRatio(a, b string) int {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return exactScore
	}

	setA := toSet(strings.Fields(a))
	setB := toSet(strings.Fields(b))

	var inter, diffA, diffB []string
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter = append(inter, t)
		} else {
			diffA = append(diffA, t)
		}
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			diffB = append(diffB, t)
		}
	}

	sortedInter := joinSorted(inter)
	combinedA := joinSorted(append(slices.Clone(inter), diffA...))
	combinedB := joinSorted(append(slices.Clone(inter), diffB...))

	return max(
		LevenshteinRatio(sortedInter, combinedA),
		LevenshteinRatio(sortedInter, combinedB),
		LevenshteinRatio(combinedA, combinedB),
	)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func sameTokenSet(a, b []string) bool {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for t := range setA {
		if _, ok := setB[t]; !ok {
			return false
		}
	}
	return true
}

func joinSorted(tokens []string) string {
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}

func clamp(score int) int {
	return min(max(score, 0), 100)
}
