// Package tokenindex keeps the set of lowercase words that appear in any PIP
// or associate name or identifier. Bulk screening uses it to report input
// words that match nothing in the registry.
//
// The index is rebuilt lazily: a read after Invalidate, or after MaxAge has
// passed, triggers one rebuild shared by all concurrent readers. Staleness
// only affects diagnostics, never match results.
package tokenindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/circuit"
	pstrings "pipscreen/pkg/platform/strings"
)

const (
	defaultMaxAge         = 10 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
	refreshKey            = "refresh"
)

// Source lists every word of the corpus.
type Source interface {
	ListAllNameAndIdentifierTokens(ctx context.Context) ([]string, error)
}

// Snapshot is an optional shared copy of the last built word set.
type Snapshot interface {
	Load(ctx context.Context) (words []string, builtAt time.Time, ok bool, err error)
	Save(ctx context.Context, words []string, builtAt time.Time) error
	Delete(ctx context.Context) error
}

type Index struct {
	source         Source
	snapshot       Snapshot
	breaker        *circuit.Breaker
	maxAge         time.Duration
	refreshTimeout time.Duration
	clock          func() time.Time
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *Metrics

	group singleflight.Group

	mu       sync.RWMutex
	words    map[string]struct{}
	phonetic phoneticIndex
	builtAt  time.Time
	// generation increments on every Invalidate. A rebuild that started under
	// an older generation leaves the index dirty.
	generation uint64
	builtGen   uint64
	built      bool
}

type Option func(*Index)

func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(ix *Index) {
		ix.auditPublisher = publisher
	}
}

func WithMetrics(m *Metrics) Option {
	return func(ix *Index) {
		ix.metrics = m
	}
}

// WithSnapshot shares rebuilt word sets through snapshot. Snapshot failures
// trip a breaker; while it is open the index reads the corpus directly.
func WithSnapshot(snapshot Snapshot) Option {
	return func(ix *Index) {
		ix.snapshot = snapshot
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.maxAge = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(ix *Index) {
		if clock != nil {
			ix.clock = clock
		}
	}
}

func New(source Source, opts ...Option) (*Index, error) {
	if source == nil {
		return nil, fmt.Errorf("token source is required")
	}
	ix := &Index{
		source:         source,
		breaker:        circuit.New("tokenindex-snapshot"),
		maxAge:         defaultMaxAge,
		refreshTimeout: defaultRefreshTimeout,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	return ix, nil
}

// Contains reports whether word (any case) occurs in the corpus.
func (ix *Index) Contains(ctx context.Context, word string) (bool, error) {
	if err := ix.ensureFresh(ctx); err != nil {
		return false, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.words[strings.ToLower(strings.TrimSpace(word))]
	return ok, nil
}

// Unmatched returns the words, in input order, whose lowercase form is not in
// the corpus. Blank words are skipped.
func (ix *Index) Unmatched(ctx context.Context, words []string) ([]string, error) {
	if err := ix.ensureFresh(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for _, w := range words {
		key := strings.ToLower(strings.TrimSpace(w))
		if key == "" {
			continue
		}
		if _, ok := ix.words[key]; !ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// Suggest returns up to limit corpus words that sound like word.
func (ix *Index) Suggest(ctx context.Context, word string, limit int) ([]string, error) {
	if err := ix.ensureFresh(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.phonetic.suggest(strings.ToLower(strings.TrimSpace(word)), limit), nil
}

// Size returns the number of distinct words currently loaded.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.words)
}

// Invalidate marks the index stale after a registry write. The next read
// rebuilds from the corpus.
func (ix *Index) Invalidate(ctx context.Context) {
	ix.mu.Lock()
	ix.generation++
	ix.mu.Unlock()

	if ix.snapshot == nil {
		return
	}
	if err := ix.snapshot.Delete(ctx); err != nil {
		ix.recordSnapshotFailure(ctx, "delete", err)
		return
	}
	ix.breaker.RecordSuccess()
}

// Refresh rebuilds from the corpus immediately and returns the word count.
func (ix *Index) Refresh(ctx context.Context) (int, error) {
	ix.mu.Lock()
	ix.generation++
	ix.mu.Unlock()

	v, err, _ := ix.group.Do(refreshKey, func() (any, error) {
		return ix.rebuild(ctx, false)
	})
	if err != nil {
		return 0, err
	}
	n := v.(int)
	audit.LogAudit(ctx, ix.logger, ix.auditPublisher, audit.EventTokenIndexRefreshed,
		"words", n,
	)
	return n, nil
}

func (ix *Index) fresh() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.built && ix.builtGen == ix.generation && ix.clock().Sub(ix.builtAt) < ix.maxAge
}

func (ix *Index) ensureFresh(ctx context.Context) error {
	if ix.fresh() {
		return nil
	}
	_, err, _ := ix.group.Do(refreshKey, func() (any, error) {
		// Shared by every waiter: detach from the first caller's cancellation.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ix.refreshTimeout)
		defer cancel()
		return ix.rebuild(rctx, true)
	})
	if err == nil {
		return nil
	}

	ix.mu.RLock()
	usable := ix.built
	ix.mu.RUnlock()
	if usable {
		ix.logger.WarnContext(ctx, "token index refresh failed, serving stale words", "error", err)
		return nil
	}
	return err
}

// rebuild loads words from the snapshot (when allowed and fresh) or from the
// corpus, and installs them.
func (ix *Index) rebuild(ctx context.Context, allowSnapshot bool) (int, error) {
	ix.mu.RLock()
	gen := ix.generation
	ix.mu.RUnlock()

	if allowSnapshot {
		if words, builtAt, ok := ix.loadSnapshot(ctx); ok {
			ix.install(words, builtAt, gen)
			ix.metrics.recordRefresh("snapshot", len(words))
			return len(words), nil
		}
	}

	raw, err := ix.source.ListAllNameAndIdentifierTokens(ctx)
	if err != nil {
		ix.metrics.incrementFailures()
		return 0, fmt.Errorf("list corpus tokens: %w", err)
	}
	words := normalize(raw)
	builtAt := ix.clock()
	ix.install(words, builtAt, gen)
	ix.metrics.recordRefresh("corpus", len(words))
	ix.saveSnapshot(ctx, words, builtAt)

	ix.logger.InfoContext(ctx, "token index rebuilt", "words", len(words))
	return len(words), nil
}

func (ix *Index) install(words []string, builtAt time.Time, gen uint64) {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	phonetic := buildPhonetic(words)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.words = set
	ix.phonetic = phonetic
	ix.builtAt = builtAt
	ix.builtGen = gen
	ix.built = true
}

func (ix *Index) loadSnapshot(ctx context.Context) ([]string, time.Time, bool) {
	if ix.snapshot == nil || ix.breaker.IsOpen() {
		return nil, time.Time{}, false
	}
	words, builtAt, ok, err := ix.snapshot.Load(ctx)
	if err != nil {
		ix.recordSnapshotFailure(ctx, "load", err)
		return nil, time.Time{}, false
	}
	ix.breaker.RecordSuccess()
	if !ok || ix.clock().Sub(builtAt) >= ix.maxAge {
		return nil, time.Time{}, false
	}
	return words, builtAt, true
}

// saveSnapshot also tests the snapshot backend while the breaker is open.
func (ix *Index) saveSnapshot(ctx context.Context, words []string, builtAt time.Time) {
	if ix.snapshot == nil {
		return
	}
	if err := ix.snapshot.Save(ctx, words, builtAt); err != nil {
		ix.recordSnapshotFailure(ctx, "save", err)
		return
	}
	if _, change := ix.breaker.RecordSuccess(); change.Closed {
		ix.logger.InfoContext(ctx, "token index snapshot recovered", "breaker", ix.breaker.Name())
	}
}

func (ix *Index) recordSnapshotFailure(ctx context.Context, op string, err error) {
	_, change := ix.breaker.RecordFailure()
	ix.logger.WarnContext(ctx, "token index snapshot unavailable",
		"op", op,
		"error", err,
	)
	if change.Opened {
		ix.logger.WarnContext(ctx, "token index snapshot breaker opened", "breaker", ix.breaker.Name())
	}
}

// normalize splits multi-word entries and lowercases, dropping repeats.
func normalize(raw []string) []string {
	var fields []string
	for _, w := range raw {
		fields = append(fields, strings.Fields(w)...)
	}
	return pstrings.DedupeAndTrimLower(fields)
}
