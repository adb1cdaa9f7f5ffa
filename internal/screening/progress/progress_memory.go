// Package progress records how far a bulk screening job has got, keyed by
// the job id the client supplied with the upload.
package progress

import (
	"context"
	"sync"
	"time"

	"pipscreen/internal/screening/models"
	"pipscreen/pkg/platform/sentinel"
)

// DefaultTTL is how long a job's progress stays readable after its last
// update.
const DefaultTTL = 15 * time.Minute

type entry struct {
	progress  models.Progress
	expiresAt time.Time
}

// InMemoryTracker keeps progress in process. Expired jobs are dropped lazily.
type InMemoryTracker struct {
	mu    sync.Mutex
	jobs  map[string]*entry
	ttl   time.Duration
	clock func() time.Time
}

func NewInMemory(ttl time.Duration) *InMemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryTracker{jobs: make(map[string]*entry), ttl: ttl, clock: time.Now}
}

// Start registers a job, replacing any earlier job with the same id.
func (t *InMemoryTracker) Start(_ context.Context, p models.Progress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.sweepLocked(now)
	p.UpdatedAt = now
	t.jobs[p.JobID] = &entry{progress: p, expiresAt: now.Add(t.ttl)}
	return nil
}

func (t *InMemoryTracker) Advance(_ context.Context, jobID string, n int) error {
	return t.update(jobID, func(p *models.Progress) {
		p.Processed = min(p.Total, p.Processed+n)
	})
}

// SetStage moves the job to stage. Once a job is done or failed its stage is
// final and later calls leave it as is.
func (t *InMemoryTracker) SetStage(_ context.Context, jobID string, stage models.Stage) error {
	return t.update(jobID, func(p *models.Progress) {
		if !p.Stage.IsTerminal() {
			p.Stage = stage
		}
	})
}

func (t *InMemoryTracker) Get(_ context.Context, jobID string) (*models.Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[jobID]
	if !ok || t.clock().After(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	p := e.progress
	return &p, nil
}

func (t *InMemoryTracker) update(jobID string, fn func(*models.Progress)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	e, ok := t.jobs[jobID]
	if !ok || now.After(e.expiresAt) {
		return sentinel.ErrNotFound
	}
	fn(&e.progress)
	e.progress.UpdatedAt = now
	e.expiresAt = now.Add(t.ttl)
	return nil
}

func (t *InMemoryTracker) sweepLocked(now time.Time) {
	for k, e := range t.jobs {
		if now.After(e.expiresAt) {
			delete(t.jobs, k)
		}
	}
}
