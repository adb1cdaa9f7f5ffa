package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"pipscreen/internal/access"
	quotamodels "pipscreen/internal/quota/models"
	"pipscreen/internal/registry/lookup"
	registrymodels "pipscreen/internal/registry/models"
	"pipscreen/internal/screening/metrics"
	"pipscreen/internal/screening/models"
	"pipscreen/internal/similarity"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/sentinel"
	pstrings "pipscreen/pkg/platform/strings"
	"pipscreen/pkg/requestcontext"
)

const (
	defaultConcurrency    = 8
	defaultSuggestions    = 3
	maxSuggestedKeywords  = 50
	maxJobIDLength        = 64
	bulkSearchQueryFormat = "Bulk search: %d records"
)

// Corpus is the read side of the registry used by bulk screening.
type Corpus interface {
	lookup.Matcher
	FetchDetails(ctx context.Context, ids []id.PIPID, elevated bool) ([]registrymodels.PIP, error)
}

// Ledger is the slice of the quota ledger bulk screening needs.
type Ledger interface {
	RequireBatch(ctx context.Context, orgID id.OrganisationID, required int) (*quotamodels.Decision, error)
	RecordBatchConsumption(ctx context.Context, orgID id.OrganisationID, userID id.UserID, descriptions []string) error
	AppendSearchLog(ctx context.Context, entry quotamodels.SearchLogEntry) error
	LimitInfo(ctx context.Context, orgID id.OrganisationID) (quotamodels.LimitInfo, error)
}

// Keywords reports which uploaded words are unknown to the corpus.
type Keywords interface {
	Unmatched(ctx context.Context, words []string) ([]string, error)
	Suggest(ctx context.Context, word string, limit int) ([]string, error)
}

// Tracker stores job progress for polling clients.
type Tracker interface {
	Start(ctx context.Context, p models.Progress) error
	Advance(ctx context.Context, jobID string, n int) error
	SetStage(ctx context.Context, jobID string, stage models.Stage) error
	Get(ctx context.Context, jobID string) (*models.Progress, error)
}

// BulkRequest is one uploaded batch. OrganisationID is optional for callers
// bound to an organisation; JobID enables progress tracking.
type BulkRequest struct {
	Principal      access.Principal
	OrganisationID id.OrganisationID
	Rows           []models.Row
	JobID          string
}

type snapshotItem struct {
	ID       id.PIPID `json:"id"`
	FullName string   `json:"full_name"`
	Score    int      `json:"score"`
}

type Service struct {
	corpus         Corpus
	ledger         Ledger
	keywords       Keywords
	progress       Tracker
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	concurrency    int
	suggestions    int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithProgress enables job progress tracking for requests carrying a job id.
func WithProgress(t Tracker) Option {
	return func(s *Service) {
		s.progress = t
	}
}

// WithConcurrency bounds how many rows are resolved at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSuggestions sets how many phonetic suggestions are returned per
// unmatched keyword. Zero disables suggestions.
func WithSuggestions(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.suggestions = n
		}
	}
}

func New(corpus Corpus, ledger Ledger, keywords Keywords, opts ...Option) (*Service, error) {
	if corpus == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	if keywords == nil {
		return nil, fmt.Errorf("token index is required")
	}
	s := &Service{
		corpus:      corpus,
		ledger:      ledger,
		keywords:    keywords,
		concurrency: defaultConcurrency,
		suggestions: defaultSuggestions,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("pipscreen/screening")
	}
	return s, nil
}

// BulkSearch screens every row of an upload against the registry.
//
// The whole batch is admitted or rejected up front: every row must carry a
// first and last name, and the organisation's remaining batch allowance must
// cover the row count. Rows are then resolved in parallel and the matches
// unioned, so a PIP hit by several rows is returned once. One batch entry is
// committed per row, matched or not, in a single transaction that re-checks
// the allowance. A failure before that commit leaves no consumption behind.
func (s *Service) BulkSearch(ctx context.Context, req BulkRequest) (_ *models.BulkResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "screening.BulkSearch")
	defer span.End()

	var (
		result  *models.BulkResult
		tracked bool
	)
	p := req.Principal
	jobID := strings.TrimSpace(req.JobID)
	defer func() {
		outcome := "ok"
		matches, unmatched := 0, 0
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			if tracked {
				s.setStage(ctx, jobID, models.StageFailed)
			}
		} else {
			matches = result.BulkInfo.TotalMatches
			unmatched = len(result.BulkInfo.UnmatchedKeywords)
		}
		s.metrics.ObserveUpload(start, outcome, len(req.Rows), matches, unmatched)
	}()

	span.SetAttributes(
		attribute.Int("screening.rows", len(req.Rows)),
		attribute.Bool("screening.elevated", p.Elevated),
	)

	rows, err := validateRows(req.Rows)
	if err != nil {
		return nil, err
	}
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	orgID, err := access.ResolveOrganisation(p, req.OrganisationID)
	if err != nil {
		return nil, err
	}

	tracked = s.startProgress(ctx, jobID, orgID, len(rows))

	if _, err := s.ledger.RequireBatch(ctx, orgID, len(rows)); err != nil {
		return nil, err
	}

	s.setStage(ctx, jobID, models.StageResolving)
	ids, err := s.resolve(ctx, rows, p.Elevated, jobID)
	if err != nil {
		return nil, err
	}
	unmatched, suggestions := s.unmatchedKeywords(ctx, rows)

	s.setStage(ctx, jobID, models.StageCommitting)
	descriptions := make([]string, len(rows))
	for i, row := range rows {
		descriptions[i] = row.Description(i)
	}
	if err := s.ledger.RecordBatchConsumption(ctx, orgID, p.UserID, descriptions); err != nil {
		return nil, err
	}

	s.setStage(ctx, jobID, models.StageHydrating)
	results, err := s.hydrate(ctx, rows, ids, p.Elevated)
	if err != nil {
		return nil, err
	}

	s.appendSummaryLog(ctx, p, orgID, len(rows), results)

	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventBulkScreeningPerformed,
		"organisation_id", orgID,
		"user_id", p.UserID,
		"rows", len(rows),
		"matches", len(results),
		"unmatched_keywords", len(unmatched),
	)

	result = &models.BulkResult{
		Results:   results,
		LimitInfo: s.limitInfo(ctx, orgID),
		BulkInfo: models.BulkInfo{
			TotalSearched:     len(rows),
			TotalMatches:      len(results),
			RecordsProcessed:  len(rows),
			UnmatchedKeywords: unmatched,
			Suggestions:       suggestions,
		},
	}
	s.setStage(ctx, jobID, models.StageDone)
	return result, nil
}

// Progress returns the state of a job. Jobs of other organisations are
// reported as not found unless the caller has elevated access.
func (s *Service) Progress(ctx context.Context, p access.Principal, jobID string) (*models.Progress, error) {
	if s.progress == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "progress tracking is not enabled")
	}
	jobID = strings.TrimSpace(jobID)
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "job id is required")
	}
	prog, err := s.progress.Get(ctx, jobID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "progress lookup failed", "job_id", jobID, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "progress temporarily unavailable")
	}
	if prog.OrganisationID != p.OrganisationID && !p.Elevated {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	return prog, nil
}

// resolve looks every row up in parallel. Matches are unioned in row order
// so the result does not depend on scheduling.
func (s *Service) resolve(ctx context.Context, rows []models.Row, elevated bool, jobID string) ([]id.PIPID, error) {
	perRow := make([][]id.PIPID, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, row := range rows {
		g.Go(func() error {
			ids, err := lookup.Resolve(gctx, s.corpus, row.MatchQuery(), id.FacetAll, elevated)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			perRow[i] = ids
			s.advance(ctx, jobID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "bulk screening cancelled")
		}
		return nil, s.corpusFailure(ctx, err)
	}

	set := lookup.NewIDSet()
	for _, ids := range perRow {
		set.Add(ids...)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("screening.candidates", set.Len()))
	return set.IDs(), nil
}

// unmatchedKeywords lists uploaded words unknown to the corpus, deduplicated
// case-insensitively across the batch in first-seen order. The diagnostic is
// best effort: an unavailable index yields no keywords rather than failing
// the screening.
func (s *Service) unmatchedKeywords(ctx context.Context, rows []models.Row) ([]string, map[string][]string) {
	var words []string
	for _, row := range rows {
		words = append(words, row.Words()...)
	}
	unmatched, err := s.keywords.Unmatched(ctx, words)
	if err != nil {
		s.logger.WarnContext(ctx, "unmatched keyword check skipped", "error", err)
		return []string{}, nil
	}
	unmatched = pstrings.DedupeFold(unmatched)
	if unmatched == nil {
		unmatched = []string{}
	}
	if s.suggestions == 0 {
		return unmatched, nil
	}

	suggestions := make(map[string][]string)
	for _, w := range unmatched[:min(len(unmatched), maxSuggestedKeywords)] {
		alts, err := s.keywords.Suggest(ctx, w, s.suggestions)
		if err != nil {
			s.logger.WarnContext(ctx, "keyword suggestions skipped", "error", err)
			break
		}
		if len(alts) > 0 {
			suggestions[w] = alts
		}
	}
	if len(suggestions) == 0 {
		return unmatched, nil
	}
	return unmatched, suggestions
}

// hydrate fetches the matched records and scores each against the best of
// the uploaded full names.
func (s *Service) hydrate(ctx context.Context, rows []models.Row, ids []id.PIPID, elevated bool) ([]registrymodels.Result, error) {
	if len(ids) == 0 {
		return []registrymodels.Result{}, nil
	}
	records, err := s.corpus.FetchDetails(ctx, ids, elevated)
	if err != nil {
		return nil, s.corpusFailure(ctx, err)
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.FullName()
	}
	results := make([]registrymodels.Result, 0, len(records))
	for _, r := range records {
		results = append(results, registrymodels.NewResult(r, similarity.BestMatchScore(names, r.FullName())))
	}
	slices.SortStableFunc(results, func(a, b registrymodels.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName))
	})
	return results, nil
}

// appendSummaryLog writes the bulk search log entry. Consumption is already
// committed, so a failure here is only logged.
func (s *Service) appendSummaryLog(ctx context.Context, p access.Principal, orgID id.OrganisationID, rows int, results []registrymodels.Result) {
	items := make([]snapshotItem, 0, len(results))
	for _, r := range results {
		items = append(items, snapshotItem{ID: r.ID, FullName: r.FullName, Score: r.Score})
	}
	snapshot, err := json.Marshal(items)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode bulk search log", "error", err)
		return
	}
	err = s.ledger.AppendSearchLog(ctx, quotamodels.SearchLogEntry{
		UserID:         p.UserID,
		OrganisationID: orgID,
		Query:          fmt.Sprintf(bulkSearchQueryFormat, rows),
		Result:         snapshot,
		IsBulk:         true,
		CreatedAt:      requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to write bulk search log",
			"organisation_id", orgID,
			"rows", rows,
			"error", err,
		)
	}
}

func (s *Service) limitInfo(ctx context.Context, orgID id.OrganisationID) *quotamodels.LimitInfo {
	info, err := s.ledger.LimitInfo(ctx, orgID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to refresh limit info",
			"organisation_id", orgID,
			"error", err,
		)
		return nil
	}
	return &info
}

func (s *Service) corpusFailure(ctx context.Context, err error) error {
	s.logger.ErrorContext(ctx, "corpus access failed", "error", err)
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "registry temporarily unavailable")
}

func (s *Service) startProgress(ctx context.Context, jobID string, orgID id.OrganisationID, total int) bool {
	if s.progress == nil || jobID == "" {
		return false
	}
	err := s.progress.Start(ctx, models.Progress{
		JobID:          jobID,
		OrganisationID: orgID,
		Total:          total,
		Stage:          models.StageQueued,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to start progress tracking", "job_id", jobID, "error", err)
		return false
	}
	return true
}

func (s *Service) advance(ctx context.Context, jobID string) {
	if s.progress == nil || jobID == "" {
		return
	}
	if err := s.progress.Advance(ctx, jobID, 1); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to advance progress", "job_id", jobID, "error", err)
	}
}

func (s *Service) setStage(ctx context.Context, jobID string, stage models.Stage) {
	if s.progress == nil || jobID == "" {
		return
	}
	// Progress must still be recorded when the request was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.progress.SetStage(ctx, jobID, stage); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to update progress", "job_id", jobID, "stage", stage, "error", err)
	}
}

// validateRows trims every row and rejects the batch when it is empty or any
// row lacks a first or last name. Row numbers in the error are 1-based.
func validateRows(in []models.Row) ([]models.Row, error) {
	if len(in) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "The uploaded file contains no data rows.")
	}
	rows := make([]models.Row, len(in))
	var incomplete []int
	for i, r := range in {
		rows[i] = r.Normalized()
		if !rows[i].IsComplete() {
			incomplete = append(incomplete, i+1)
		}
	}
	if len(incomplete) > 0 {
		nums := make([]string, len(incomplete))
		for i, n := range incomplete {
			nums[i] = strconv.Itoa(n)
		}
		return nil, dErrors.New(dErrors.CodeValidation,
			"Rows missing first_name or last_name: "+strings.Join(nums, ", ")).
			WithDetails(map[string]any{"rows": incomplete})
	}
	return rows, nil
}

// validateJobID accepts an empty id (no tracking) or up to 64 characters of
// letters, digits, dash and underscore.
func validateJobID(jobID string) error {
	if len(jobID) > maxJobIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, "job id is too long")
	}
	for _, r := range jobID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return dErrors.New(dErrors.CodeInvalidInput, "job id may only contain letters, digits, dash and underscore")
		}
	}
	return nil
}
