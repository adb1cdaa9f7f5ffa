package service

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pipscreen/internal/access"
	quotamodels "pipscreen/internal/quota/models"
	"pipscreen/internal/registry/lookup"
	"pipscreen/internal/registry/models"
	"pipscreen/internal/search/metrics"
	"pipscreen/internal/similarity"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	pstrings "pipscreen/pkg/platform/strings"
	"pipscreen/pkg/requestcontext"
)

// Corpus is the read side of the registry used by search.
type Corpus interface {
	lookup.Matcher
	FetchDetails(ctx context.Context, ids []id.PIPID, elevated bool) ([]models.PIP, error)
	ListAll(ctx context.Context, elevated bool) ([]models.PIP, error)
}

// Ledger is the slice of the quota ledger search needs.
type Ledger interface {
	RequireSingle(ctx context.Context, orgID id.OrganisationID) (*quotamodels.Decision, error)
	RecordSingleConsumption(ctx context.Context, orgID id.OrganisationID, userID id.UserID, query string, snapshot json.RawMessage) error
	AppendSearchLog(ctx context.Context, entry quotamodels.SearchLogEntry) error
	LimitInfo(ctx context.Context, orgID id.OrganisationID) (quotamodels.LimitInfo, error)
}

// Request is one interactive search. OrganisationID is optional: it defaults
// to the caller's organisation, and only elevated callers may name another.
type Request struct {
	Principal      access.Principal
	OrganisationID id.OrganisationID
	Query          string
	Facet          id.Facet
	MinScore       int
}

// Response carries ranked results and the usage snapshot after consumption.
type Response struct {
	Results   []models.Result        `json:"results"`
	LimitInfo *quotamodels.LimitInfo `json:"limit_info,omitempty"`
}

// snapshotItem is what the search log keeps of each result.
type snapshotItem struct {
	ID       id.PIPID `json:"id"`
	FullName string   `json:"full_name"`
	Score    int      `json:"score"`
}

type Service struct {
	corpus         Corpus
	ledger         Ledger
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

func New(corpus Corpus, ledger Ledger, opts ...Option) (*Service, error) {
	if corpus == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	s := &Service{corpus: corpus, ledger: ledger}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("pipscreen/search")
	}
	return s, nil
}

// Search runs an interactive search.
//
// Non-elevated callers must supply a query; an empty one returns nothing
// without touching the store. Each non-empty search by a non-elevated caller
// consumes one single screening, re-checked atomically at commit. Elevated
// callers are logged but never limited, and an empty query lists the whole
// corpus with every score at 100.
func (s *Service) Search(ctx context.Context, req Request) (_ *Response, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "search.Search")
	defer span.End()

	resultCount := 0
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.Int("search.results", resultCount))
		s.metrics.ObserveSearch(start, outcome, resultCount)
	}()

	p := req.Principal
	query := strings.TrimSpace(req.Query)
	facet := req.Facet
	if !facet.IsValid() {
		facet = id.FacetAll
	}
	span.SetAttributes(
		attribute.Bool("search.elevated", p.Elevated),
		attribute.String("search.facet", facet.String()),
	)

	if query == "" && !p.Elevated {
		return &Response{Results: []models.Result{}}, nil
	}

	orgID, err := s.chargeTo(p, req.OrganisationID)
	if err != nil {
		return nil, err
	}

	if query == "" {
		resp, err := s.listAll(ctx, orgID)
		if resp != nil {
			resultCount = len(resp.Results)
		}
		return resp, err
	}

	if !p.Elevated {
		if _, err := s.ledger.RequireSingle(ctx, orgID); err != nil {
			return nil, err
		}
	}

	words := pstrings.Words(query)
	ids, err := lookup.Resolve(ctx, s.corpus, models.MatchQuery{NameTokens: words, IdentifierTokens: words}, facet, p.Elevated)
	if err != nil {
		return nil, s.corpusFailure(ctx, err)
	}
	records, err := s.fetch(ctx, ids, p.Elevated)
	if err != nil {
		return nil, err
	}

	results := rank(query, records)
	if req.MinScore > 0 {
		results = slices.DeleteFunc(results, func(r models.Result) bool { return r.Score < req.MinScore })
	}
	resultCount = len(results)

	if err := s.recordSearch(ctx, p, orgID, query, results); err != nil {
		return nil, err
	}

	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPIPSearchPerformed,
		"organisation_id", orgID,
		"user_id", p.UserID,
		"facet", facet.String(),
		"results", len(results),
		"elevated", p.Elevated,
	)

	return &Response{Results: results, LimitInfo: s.limitInfo(ctx, orgID)}, nil
}

// chargeTo returns the organisation whose ledger a search is charged to.
// Elevated callers without an organisation search unbound.
func (s *Service) chargeTo(p access.Principal, requested id.OrganisationID) (id.OrganisationID, error) {
	if p.Elevated && requested.IsNil() {
		return p.OrganisationID, nil
	}
	return access.ResolveOrganisation(p, requested)
}

func (s *Service) listAll(ctx context.Context, orgID id.OrganisationID) (*Response, error) {
	records, err := s.corpus.ListAll(ctx, true)
	if err != nil {
		return nil, s.corpusFailure(ctx, err)
	}
	results := make([]models.Result, 0, len(records))
	for _, r := range records {
		results = append(results, models.NewResult(r, similarity.MaxScore))
	}
	return &Response{Results: results, LimitInfo: s.limitInfo(ctx, orgID)}, nil
}

func (s *Service) fetch(ctx context.Context, ids []id.PIPID, elevated bool) ([]models.PIP, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := s.corpus.FetchDetails(ctx, ids, elevated)
	if err != nil {
		return nil, s.corpusFailure(ctx, err)
	}
	return records, nil
}

func (s *Service) recordSearch(ctx context.Context, p access.Principal, orgID id.OrganisationID, query string, results []models.Result) error {
	snapshot, err := encodeSnapshot(results)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode search log")
	}
	if !p.Elevated {
		return s.ledger.RecordSingleConsumption(ctx, orgID, p.UserID, query, snapshot)
	}
	return s.ledger.AppendSearchLog(ctx, quotamodels.SearchLogEntry{
		UserID:         p.UserID,
		OrganisationID: orgID,
		Query:          query,
		Result:         snapshot,
		IsBulk:         false,
		CreatedAt:      requestcontext.Now(ctx),
	})
}

// limitInfo is best effort: the search already committed, so a failed read
// drops the snapshot from the response instead of failing it.
func (s *Service) limitInfo(ctx context.Context, orgID id.OrganisationID) *quotamodels.LimitInfo {
	if orgID.IsNil() {
		return nil
	}
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

// rank scores each record against the query and orders by score, then name.
func rank(query string, records []models.PIP) []models.Result {
	results := make([]models.Result, 0, len(records))
	for _, r := range records {
		results = append(results, models.NewResult(r, similarity.MatchScore(query, r.FullName())))
	}
	slices.SortStableFunc(results, func(a, b models.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName))
	})
	return results
}

func encodeSnapshot(results []models.Result) (json.RawMessage, error) {
	items := make([]snapshotItem, 0, len(results))
	for _, r := range results {
		items = append(items, snapshotItem{ID: r.ID, FullName: r.FullName, Score: r.Score})
	}
	return json.Marshal(items)
}
