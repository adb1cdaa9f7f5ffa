// Package lookup resolves a tokenized query to the set of PIPs it matches,
// either directly or through one of their associates.
package lookup

import (
	"context"
	"fmt"
	"sync"

	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
)

// Matcher is the read side of the corpus used for resolution.
type Matcher interface {
	FindDirectMatches(ctx context.Context, q models.MatchQuery, facet id.Facet, elevated bool) ([]id.PIPID, error)
	FindAssociateMatches(ctx context.Context, q models.MatchQuery) ([]id.PIPID, error)
}

// Resolve unions direct and associate matches for q. Associates are only
// consulted when the facet includes them. Order is direct matches first, then
// associate owners not already present.
func Resolve(ctx context.Context, m Matcher, q models.MatchQuery, facet id.Facet, elevated bool) ([]id.PIPID, error) {
	q = q.Normalized()
	if q.IsEmpty() {
		return nil, nil
	}
	if !facet.IsValid() {
		facet = id.FacetAll
	}

	set := NewIDSet()
	if facet.IncludesDirect() {
		direct, err := m.FindDirectMatches(ctx, q, facet, elevated)
		if err != nil {
			return nil, fmt.Errorf("resolve direct matches: %w", err)
		}
		set.Add(direct...)
	}
	if facet.IncludesAssociates() {
		owners, err := m.FindAssociateMatches(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("resolve associate matches: %w", err)
		}
		set.Add(owners...)
	}
	return set.IDs(), nil
}

// IDSet is an insertion-ordered, concurrency-safe set of PIP ids.
type IDSet struct {
	mu    sync.Mutex
	seen  map[id.PIPID]struct{}
	order []id.PIPID
}

func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[id.PIPID]struct{})}
}

func (s *IDSet) Add(ids ...id.PIPID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range ids {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.order = append(s.order, v)
	}
}

func (s *IDSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// IDs returns a copy in insertion order.
func (s *IDSet) IDs() []id.PIPID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]id.PIPID(nil), s.order...)
}
