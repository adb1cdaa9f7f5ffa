package tokenindex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakeSource struct {
	mu    sync.Mutex
	words []string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSource) ListAllNameAndIdentifierTokens(context.Context) ([]string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.words...), nil
}

func (f *fakeSource) set(words ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words = words
}

type fakeSnapshot struct {
	mu      sync.Mutex
	words   []string
	builtAt time.Time
	ok      bool
	err     error
	saves   int
	deletes int
}

func (f *fakeSnapshot) Load(context.Context) ([]string, time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.words, f.builtAt, f.ok, f.err
}

func (f *fakeSnapshot) Save(_ context.Context, words []string, builtAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.words, f.builtAt, f.ok = words, builtAt, true
	return nil
}

func (f *fakeSnapshot) Delete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deletes++
	f.words, f.ok = nil, false
	return nil
}

// =============================================================================
// Token Index Test Suite
// =============================================================================
// Justification for unit tests: lazy refresh, invalidation and coalescing are
// timing-dependent and only observable through the source call count.

type IndexSuite struct {
	suite.Suite
	source *fakeSource
	now    time.Time
	index  *Index
}

func TestIndexSuite(t *testing.T) {
	suite.Run(t, new(IndexSuite))
}

func (s *IndexSuite) SetupTest() {
	s.source = &fakeSource{words: []string{"Hage", "Geingob", "hage", "8501015800088", "Monica Geingos"}}
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var err error
	s.index, err = New(s.source,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
		WithMaxAge(time.Minute),
	)
	s.Require().NoError(err)
}

func (s *IndexSuite) TestNew() {
	_, err := New(nil)
	s.Error(err)
	s.Contains(err.Error(), "token source is required")
}

// =============================================================================
// Lookups
// =============================================================================

func (s *IndexSuite) TestContainsIsCaseInsensitive() {
	ctx := context.Background()
	ok, err := s.index.Contains(ctx, "GEINGOB")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.index.Contains(ctx, "monica")
	s.Require().NoError(err)
	s.True(ok, "multi-word entries are split")

	ok, err = s.index.Contains(ctx, "nobody")
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(5, s.index.Size())
}

func (s *IndexSuite) TestUnmatchedPreservesInputOrderAndSpelling() {
	got, err := s.index.Unmatched(context.Background(), []string{"Zebra", "hage", " ", "Alpha", "8501015800088"})
	s.Require().NoError(err)
	s.Equal([]string{"Zebra", "Alpha"}, got)
}

func (s *IndexSuite) TestSuggestFindsPhoneticNeighbours() {
	s.source.set("geingob", "geingos", "shikongo", "nujoma")
	got, err := s.index.Suggest(context.Background(), "Gaingob", 3)
	s.Require().NoError(err)
	s.Require().NotEmpty(got)
	s.Equal("geingob", got[0])

	got, err = s.index.Suggest(context.Background(), "1234", 3)
	s.Require().NoError(err)
	s.Empty(got, "identifiers get no phonetic suggestions")
}

// =============================================================================
// Refresh Semantics
// =============================================================================

func (s *IndexSuite) TestBuildsOnceWhileFresh() {
	ctx := context.Background()
	for range 3 {
		_, err := s.index.Contains(ctx, "hage")
		s.Require().NoError(err)
	}
	s.Equal(int32(1), s.source.calls.Load())
}

func (s *IndexSuite) TestInvalidateTriggersRebuildOnNextRead() {
	ctx := context.Background()
	ok, err := s.index.Contains(ctx, "nandi")
	s.Require().NoError(err)
	s.False(ok)

	s.source.set("nandi", "ndaitwah")
	s.index.Invalidate(ctx)

	ok, err = s.index.Contains(ctx, "nandi")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(int32(2), s.source.calls.Load())
}

func (s *IndexSuite) TestMaxAgeExpiry() {
	ctx := context.Background()
	_, err := s.index.Contains(ctx, "hage")
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Minute)
	_, err = s.index.Contains(ctx, "hage")
	s.Require().NoError(err)
	s.Equal(int32(2), s.source.calls.Load())
}

func (s *IndexSuite) TestConcurrentReadsShareOneRebuild() {
	s.source.delay = 20 * time.Millisecond
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.index.Contains(context.Background(), "hage")
		}()
	}
	wg.Wait()
	s.Equal(int32(1), s.source.calls.Load())
}

func (s *IndexSuite) TestFailedRebuildServesStaleWords() {
	ctx := context.Background()
	_, err := s.index.Contains(ctx, "hage")
	s.Require().NoError(err)

	s.source.err = errors.New("db down")
	s.index.Invalidate(ctx)

	ok, err := s.index.Contains(ctx, "hage")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *IndexSuite) TestFailedFirstBuildReturnsError() {
	s.source.err = errors.New("db down")
	_, err := s.index.Contains(context.Background(), "hage")
	s.Error(err)
}

func (s *IndexSuite) TestRefreshReturnsWordCount() {
	n, err := s.index.Refresh(context.Background())
	s.Require().NoError(err)
	s.Equal(5, n)
}

// =============================================================================
// Snapshot
// =============================================================================

func (s *IndexSuite) TestFreshSnapshotSkipsCorpusScan() {
	snap := &fakeSnapshot{words: []string{"snapshotted"}, builtAt: s.now, ok: true}
	ix, err := New(s.source, WithSnapshot(snap), WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)

	ok, err := ix.Contains(context.Background(), "snapshotted")
	s.Require().NoError(err)
	s.True(ok)
	s.Zero(s.source.calls.Load())
}

func (s *IndexSuite) TestRebuildSavesSnapshotAndInvalidateDeletesIt() {
	snap := &fakeSnapshot{}
	ix, err := New(s.source, WithSnapshot(snap), WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	ctx := context.Background()

	_, err = ix.Contains(ctx, "hage")
	s.Require().NoError(err)
	s.Equal(1, snap.saves)

	ix.Invalidate(ctx)
	s.Equal(1, snap.deletes)
	s.False(snap.ok)
}

func (s *IndexSuite) TestSnapshotFailuresFallBackToCorpus() {
	snap := &fakeSnapshot{err: errors.New("redis down")}
	ix, err := New(s.source,
		WithSnapshot(snap),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	ok, err := ix.Contains(context.Background(), "geingob")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(int32(1), s.source.calls.Load())
}

func TestNormalize(t *testing.T) {
	got := normalize([]string{"  Monica  GEINGOS ", "monica", "", "Hage\tGeingob"})
	assert.Equal(t, []string{"monica", "geingos", "hage", "geingob"}, got)
	assert.Empty(t, normalize(nil))
}
