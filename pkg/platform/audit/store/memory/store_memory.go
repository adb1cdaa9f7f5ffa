package memory

import (
	"context"
	"slices"
	"sync"

	id "pipscreen/pkg/domain"
	audit "pipscreen/pkg/platform/audit"
)

// InMemoryStore keeps audit events per organisation. Events without an
// organisation are kept under the nil ID.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.OrganisationID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.OrganisationID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.OrganisationID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.OrganisationID] = append(s.events[event.OrganisationID], event)
	return nil
}

func (s *InMemoryStore) ListByOrganisation(_ context.Context, orgID id.OrganisationID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[orgID]), nil
}

// ListByAction returns every event with the given action across
// organisations, in append order per organisation.
func (s *InMemoryStore) ListByAction(_ context.Context, action audit.AuditEvent) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, events := range s.events {
		for _, e := range events {
			if e.Action == string(action) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}
