package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pipscreen/internal/quota/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/sentinel"
)

// numOrgShards spreads per-organisation transactions over a fixed set of
// mutexes. Two organisations may share a shard; one organisation never spans
// two.
const numOrgShards = 128

const defaultTxTimeout = 5 * time.Second

type orgRecord struct {
	pkg        *models.Package
	searchLogs []models.SearchLogEntry
	batch      []models.BatchEntry
}

// InMemoryStore is the ledger for tests and the dev server.
type InMemoryStore struct {
	shards [numOrgShards]sync.Mutex

	mu   sync.RWMutex
	orgs map[id.OrganisationID]*orgRecord
	// Logs of callers without an organisation (elevated, unbound).
	unbound []models.SearchLogEntry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{orgs: make(map[id.OrganisationID]*orgRecord)}
}

// PutOrganisation registers an organisation with an optional package.
func (s *InMemoryStore) PutOrganisation(orgID id.OrganisationID, pkg *models.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.orgs[orgID]; ok {
		rec.pkg = pkg
		return
	}
	s.orgs[orgID] = &orgRecord{pkg: pkg}
}

// RunInTx serializes fn against every other transaction for orgID.
func (s *InMemoryStore) RunInTx(ctx context.Context, orgID id.OrganisationID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	shard := &s.shards[hashOrg(orgID)%numOrgShards]
	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.RLock()
	rec, ok := s.orgs[orgID]
	var logsBefore, batchBefore int
	if ok {
		logsBefore, batchBefore = len(rec.searchLogs), len(rec.batch)
	}
	s.mu.RUnlock()
	if !ok {
		return sentinel.ErrNotFound
	}

	if err := fn(ctx); err != nil {
		// Appends are the only writes; truncating undoes them.
		s.mu.Lock()
		rec.searchLogs = rec.searchLogs[:logsBefore]
		rec.batch = rec.batch[:batchBefore]
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *InMemoryStore) GetPackage(_ context.Context, orgID id.OrganisationID) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if rec.pkg == nil {
		return nil, nil
	}
	p := *rec.pkg
	return &p, nil
}

func (s *InMemoryStore) CountSingle(_ context.Context, orgID id.OrganisationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orgs[orgID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	n := 0
	for _, e := range rec.searchLogs {
		if !e.IsBulk {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountBatch(_ context.Context, orgID id.OrganisationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orgs[orgID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return len(rec.batch), nil
}

func (s *InMemoryStore) AppendSearchLog(_ context.Context, entry models.SearchLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.OrganisationID.IsNil() {
		s.unbound = append(s.unbound, entry)
		return nil
	}
	rec, ok := s.orgs[entry.OrganisationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.searchLogs = append(rec.searchLogs, entry)
	return nil
}

func (s *InMemoryStore) AppendBatchEntries(_ context.Context, batch models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orgs[batch.OrganisationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, d := range batch.Descriptions {
		rec.batch = append(rec.batch, models.BatchEntry{
			ID:             uuid.NewString(),
			UserID:         batch.UserID,
			OrganisationID: batch.OrganisationID,
			Description:    d,
			ScreenedAt:     batch.ScreenedAt,
		})
	}
	return nil
}

// ListSearchLogs returns the newest entries first.
func (s *InMemoryStore) ListSearchLogs(_ context.Context, orgID id.OrganisationID, limit int) ([]models.SearchLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := slices.Clone(rec.searchLogs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BatchEntries exposes stored batch entries for assertions.
func (s *InMemoryStore) BatchEntries(orgID id.OrganisationID) []models.BatchEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.orgs[orgID]; ok {
		return slices.Clone(rec.batch)
	}
	return nil
}

// UnboundSearchLogs exposes logs written without an organisation.
func (s *InMemoryStore) UnboundSearchLogs() []models.SearchLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.unbound)
}

// hashOrg uses FNV-1a over the UUID bytes.
func hashOrg(orgID id.OrganisationID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range orgID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
