package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/platform/sentinel"
)

// InMemoryStore keeps the registry in process memory. Used by tests and the
// dev server when no DATABASE_URL is configured.
//
// RunInTx serializes transactional writers and restores the pre-transaction
// snapshot when fn fails. Writers outside RunInTx are not isolated from it.
type InMemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	pips map[id.PIPID]*models.PIP
}

// NewInMemory creates an empty in-memory registry.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{pips: make(map[id.PIPID]*models.PIP)}
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[id.PIPID]*models.PIP, len(s.pips))
	for k, v := range s.pips {
		snapshot[k] = clonePIP(v)
	}
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.pips = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *InMemoryStore) FindDirectMatches(_ context.Context, q models.MatchQuery, facet id.Facet, elevated bool) ([]id.PIPID, error) {
	q = q.Normalized()
	if !facet.IsValid() {
		facet = id.FacetAll
	}
	if q.IsEmpty() || !facet.IncludesDirect() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []id.PIPID
	for _, p := range s.sortedLocked() {
		if !elevated && !p.IsActive {
			continue
		}
		if facet == id.FacetLocal && p.IsForeign() || facet == id.FacetForeign && !p.IsForeign() {
			continue
		}
		names := []string{p.FirstName, p.MiddleName, p.LastName, p.FullName()}
		if matchesAny(q.NameTokens, names...) || matchesAny(q.IdentifierTokens, p.NationalID) {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindAssociateMatches(_ context.Context, q models.MatchQuery) ([]id.PIPID, error) {
	q = q.Normalized()
	if q.IsEmpty() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []id.PIPID
	for _, p := range s.sortedLocked() {
		for _, a := range p.Associates {
			if matchesAny(q.NameTokens, a.FullName) || matchesAny(q.IdentifierTokens, a.NationalID) {
				out = append(out, p.ID)
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) FetchDetails(_ context.Context, ids []id.PIPID, elevated bool) ([]models.PIP, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[id.PIPID]bool, len(ids))
	out := make([]models.PIP, 0, len(ids))
	for _, pipID := range ids {
		p, ok := s.pips[pipID]
		if !ok || seen[pipID] || (!elevated && !p.IsActive) {
			continue
		}
		seen[pipID] = true
		out = append(out, *clonePIP(p))
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context, elevated bool) ([]models.PIP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PIP, 0, len(s.pips))
	for _, p := range s.sortedLocked() {
		if !elevated && !p.IsActive {
			continue
		}
		out = append(out, *clonePIP(p))
	}
	return out, nil
}

func (s *InMemoryStore) ListAllNameAndIdentifierTokens(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	add := func(values ...string) {
		for _, v := range values {
			for _, w := range strings.Fields(strings.ToLower(v)) {
				set[w] = struct{}{}
			}
		}
	}
	for _, p := range s.pips {
		add(p.FirstName, p.MiddleName, p.LastName, p.NationalID)
		for _, a := range p.Associates {
			add(a.FullName, a.NationalID)
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	slices.Sort(out)
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, pipID id.PIPID) (*models.PIP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pips[pipID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePIP(p), nil
}

func (s *InMemoryStore) Create(_ context.Context, p *models.PIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pips[p.ID]; exists {
		return sentinel.ErrConflict
	}
	s.pips[p.ID] = clonePIP(p)
	return nil
}

// Update overwrites the scalar fields of an existing record. Foreign detail
// and owned collections have their own replace methods.
func (s *InMemoryStore) Update(_ context.Context, p *models.PIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pips[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	existing.FirstName = p.FirstName
	existing.MiddleName = p.MiddleName
	existing.LastName = p.LastName
	existing.NationalID = p.NationalID
	existing.Type = p.Type
	existing.Reason = p.Reason
	existing.IsActive = p.IsActive
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

// UpsertForeign attaches or replaces foreign detail. A nil detail detaches it.
func (s *InMemoryStore) UpsertForeign(_ context.Context, pipID id.PIPID, detail *models.ForeignDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pips[pipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if detail == nil {
		p.Foreign = nil
		return nil
	}
	d := *detail
	p.Foreign = &d
	return nil
}

func (s *InMemoryStore) ReplaceAssociates(_ context.Context, pipID id.PIPID, associates []models.Associate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pips[pipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Associates = slices.Clone(associates)
	return nil
}

func (s *InMemoryStore) ReplaceInstitutions(_ context.Context, pipID id.PIPID, institutions []models.Institution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pips[pipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Institutions = cloneInstitutions(institutions)
	return nil
}

func (s *InMemoryStore) SetActive(_ context.Context, pipID id.PIPID, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pips[pipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.IsActive = active
	p.UpdatedAt = now
	return nil
}

// sortedLocked returns records in creation order, ties broken by ID, so that
// listings are stable across calls. Caller holds s.mu.
func (s *InMemoryStore) sortedLocked() []*models.PIP {
	out := make([]*models.PIP, 0, len(s.pips))
	for _, p := range s.pips {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *models.PIP) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// matchesAny reports whether any token is a substring of any lowercased value.
// Tokens are expected to be lowercased already.
func matchesAny(tokens []string, values ...string) bool {
	for _, v := range values {
		v = strings.ToLower(v)
		if v == "" {
			continue
		}
		for _, t := range tokens {
			if strings.Contains(v, t) {
				return true
			}
		}
	}
	return false
}

func clonePIP(p *models.PIP) *models.PIP {
	c := *p
	if p.Foreign != nil {
		f := *p.Foreign
		c.Foreign = &f
	}
	c.Associates = slices.Clone(p.Associates)
	c.Institutions = cloneInstitutions(p.Institutions)
	return &c
}

func cloneInstitutions(in []models.Institution) []models.Institution {
	if in == nil {
		return nil
	}
	out := make([]models.Institution, len(in))
	for i, inst := range in {
		out[i] = inst
		if inst.StartDate != nil {
			t := *inst.StartDate
			out[i].StartDate = &t
		}
		if inst.EndDate != nil {
			t := *inst.EndDate
			out[i].EndDate = &t
		}
	}
	return out
}
