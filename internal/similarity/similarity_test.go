package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Justification for unit tests: the scorer is a pure function whose exact
// numbers drive ranking and client-side thresholds; regressions are invisible
// through HTTP tests.

func TestScore_Properties(t *testing.T) {
	names := []string{"Jane Smith", "Peter Nangolo", "Hage G Geingob", "x", "Netumbo Nandi-Ndaitwah"}

	t.Run("identical names score 100", func(t *testing.T) {
		for _, n := range names {
			assert.Equal(t, 100, Score(n, n), n)
		}
	})

	t.Run("empty input scores 0", func(t *testing.T) {
		assert.Equal(t, 0, Score("", "anything"))
		assert.Equal(t, 0, Score("anything", ""))
		assert.Equal(t, 0, Score("   ", "anything"))
	})

	t.Run("commutative", func(t *testing.T) {
		pairs := [][2]string{
			{"Peter Nangolo", "Petrus Nangolo"},
			{"Alice Brown", "Robert Green"},
			{"Jane Smith", "Smith Jane Ndeshi"},
			{"Sam Nujoma", "Sam Nujomo"},
		}
		for _, p := range pairs {
			assert.Equal(t, Score(p[0], p[1]), Score(p[1], p[0]), p)
			assert.Equal(t, LevenshteinRatio(p[0], p[1]), LevenshteinRatio(p[1], p[0]), p)
			assert.Equal(t, TokenSetRatio(p[0], p[1]), TokenSetRatio(p[1], p[0]), p)
		}
	})

	t.Run("reordered names score at least 90", func(t *testing.T) {
		assert.GreaterOrEqual(t, Score("John Doe", "Doe John"), 90)
		assert.GreaterOrEqual(t, Score("Geingob Hage Gottfried", "Hage Gottfried Geingob"), 90)
	})

	t.Run("always within bounds", func(t *testing.T) {
		for _, a := range names {
			for _, b := range names {
				s := Score(a, b)
				assert.GreaterOrEqual(t, s, 0)
				assert.LessOrEqual(t, s, 100)
			}
		}
	})
}

func TestScore_Values(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"case and whitespace insensitive", "  JANE smith ", "jane SMITH", 100},
		{"substring", "Jane", "Jane Smith", 95},
		{"typo with shared surname is boosted and clamped", "Jon Smith", "John Smith", 100},
		{"given name variant with shared surname", "Peter Nangolo", "Petrus Nangolo", 89},
		{"surname typo gets no boost", "Sam Nujoma", "Sam Nujomo", 90},
		{"unrelated names", "Alice Brown", "Robert Green", 20},
		{"extra token without shared surname", "Jane Smith", "Smith Jane Ndeshi", 74},
		{"nothing in common", "abc", "xyz", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.a, tt.b))
		})
	}
}

func TestComponents(t *testing.T) {
	t.Run("levenshtein ratio", func(t *testing.T) {
		assert.Equal(t, 100, LevenshteinRatio("abc", "ABC"))
		assert.Equal(t, 0, LevenshteinRatio("", "abc"))
		assert.Equal(t, 90, LevenshteinRatio("Jon Smith", "John Smith"))
		assert.Equal(t, 79, LevenshteinRatio("Peter Nangolo", "Petrus Nangolo"))
	})

	t.Run("levenshtein ratio counts runes", func(t *testing.T) {
		// one substitution over six runes
		assert.Equal(t, 83, LevenshteinRatio("müller", "muller"))
	})

	t.Run("token set ratio ignores order and extra tokens", func(t *testing.T) {
		assert.Equal(t, 100, TokenSetRatio("Jane Smith", "Smith Jane Ndeshi"))
		assert.Equal(t, 100, TokenSetRatio("hage geingob", "hage g geingob"))
		assert.Equal(t, 17, TokenSetRatio("Alice Brown", "Robert Green"))
	})
}

func TestMatchScore(t *testing.T) {
	t.Run("containment either way is a full match", func(t *testing.T) {
		assert.Equal(t, 100, MatchScore("smith", "Jane Smith"))
		assert.Equal(t, 100, MatchScore("Jane Smith Ndeshi", "jane smith"))
	})

	t.Run("falls through to Score", func(t *testing.T) {
		assert.Equal(t, Score("Peter Nangolo", "Petrus Nangolo"), MatchScore("Peter Nangolo", "Petrus Nangolo"))
	})

	t.Run("empty candidate never matches", func(t *testing.T) {
		assert.Equal(t, 0, MatchScore("jane", ""))
		assert.Equal(t, 0, MatchScore("", "jane"))
	})

	t.Run("best of several inputs", func(t *testing.T) {
		got := BestMatchScore([]string{"Alice Brown", "Peter Nangolo"}, "Petrus Nangolo")
		assert.Equal(t, 89, got)
		assert.Equal(t, 0, BestMatchScore(nil, "Petrus Nangolo"))
	})
}
