package tokenindex

import (
	"cmp"
	"slices"
	"unicode"

	"github.com/antzucaro/matchr"
)

// minSuggestionScore drops phonetic neighbours that share a code but spell
// out very differently (short words collide often).
const minSuggestionScore = 0.7

// phoneticIndex maps Double Metaphone codes to the corpus words carrying them.
type phoneticIndex map[string][]string

func buildPhonetic(words []string) phoneticIndex {
	idx := make(phoneticIndex)
	for _, w := range words {
		if !isAlphabetic(w) {
			continue
		}
		for _, code := range metaphoneCodes(w) {
			idx[code] = append(idx[code], w)
		}
	}
	return idx
}

// suggest returns up to limit corpus words that sound like word, best
// Jaro-Winkler score first.
func (p phoneticIndex) suggest(word string, limit int) []string {
	if limit <= 0 || !isAlphabetic(word) {
		return nil
	}
	type candidate struct {
		word  string
		score float64
	}
	seen := make(map[string]struct{})
	var candidates []candidate
	for _, code := range metaphoneCodes(word) {
		for _, w := range p[code] {
			if w == word {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			score := matchr.JaroWinkler(word, w, false)
			if score < minSuggestionScore {
				continue
			}
			candidates = append(candidates, candidate{word: w, score: score})
		}
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.word, b.word)
	})
	out := make([]string, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		out = append(out, c.word)
	}
	return out
}

func metaphoneCodes(word string) []string {
	primary, secondary := matchr.DoubleMetaphone(word)
	var codes []string
	if primary != "" {
		codes = append(codes, primary)
	}
	if secondary != "" && secondary != primary {
		codes = append(codes, secondary)
	}
	return codes
}

func isAlphabetic(word string) bool {
	if len(word) < 2 {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}
