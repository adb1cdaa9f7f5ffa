package domain

import (
	"strings"

	dErrors "pipscreen/pkg/domain-errors"
)

// Facet narrows a PIP search to a slice of the corpus.
// Invariant: once parsed, the value is one of the supported facets.
//
// Usage: construct via ParseFacet at trust boundaries. Lenient callers that
// must tolerate unknown values use FacetOrAll.
type Facet string

const (
	FacetAll       Facet = "all"
	FacetPIP       Facet = "pip"
	FacetAssociate Facet = "associate"
	FacetLocal     Facet = "local"
	FacetForeign   Facet = "foreign"
)

var validFacets = map[Facet]bool{
	FacetAll:       true,
	FacetPIP:       true,
	FacetAssociate: true,
	FacetLocal:     true,
	FacetForeign:   true,
}

// ParseFacet constructs a Facet from external input. Empty input means all.
//
// Errors: returns CodeInvalidInput for unsupported values.
func ParseFacet(s string) (Facet, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FacetAll, nil
	}
	f := Facet(s)
	if !f.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid filter")
	}
	return f, nil
}

// FacetOrAll maps unknown or empty values to FacetAll.
func FacetOrAll(s string) Facet {
	f, err := ParseFacet(s)
	if err != nil {
		return FacetAll
	}
	return f
}

func (f Facet) IsValid() bool {
	return validFacets[f]
}

// IncludesDirect reports whether primary PIP records are searched.
func (f Facet) IncludesDirect() bool {
	return f != FacetAssociate
}

// IncludesAssociates reports whether associate names expand the match set.
func (f Facet) IncludesAssociates() bool {
	return f == FacetAll || f == FacetAssociate || f == ""
}

func (f Facet) String() string {
	return string(f)
}
