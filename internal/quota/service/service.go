package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"pipscreen/internal/quota/metrics"
	"pipscreen/internal/quota/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/requestcontext"
)

// Store is the ledger persistence contract. RunInTx must serialize every
// transaction for one organisation and make appends inside fn all-or-none.
type Store interface {
	RunInTx(ctx context.Context, orgID id.OrganisationID, fn func(ctx context.Context) error) error
	GetPackage(ctx context.Context, orgID id.OrganisationID) (*models.Package, error)
	CountSingle(ctx context.Context, orgID id.OrganisationID) (int, error)
	CountBatch(ctx context.Context, orgID id.OrganisationID) (int, error)
	AppendSearchLog(ctx context.Context, entry models.SearchLogEntry) error
	AppendBatchEntries(ctx context.Context, batch models.Batch) error
	ListSearchLogs(ctx context.Context, orgID id.OrganisationID, limit int) ([]models.SearchLogEntry, error)
}

const defaultHistoryLimit = 50

// Service is the quota ledger: it reports usage against package limits and
// commits consumption atomically per organisation.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
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

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("quota store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc, nil
}

func (s *Service) GetConsumption(ctx context.Context, orgID id.OrganisationID) (models.Consumption, error) {
	c, err := s.consumption(ctx, orgID)
	if err != nil {
		return models.Consumption{}, s.storeFailure(ctx, orgID, err, "failed to read screening consumption")
	}
	return c, nil
}

func (s *Service) GetLimits(ctx context.Context, orgID id.OrganisationID) (models.Limits, error) {
	pkg, err := s.store.GetPackage(ctx, orgID)
	if err != nil {
		return models.Limits{}, s.storeFailure(ctx, orgID, err, "failed to read package limits")
	}
	return models.LimitsFor(pkg), nil
}

// LimitInfo returns the package name and per-class usage for orgID.
func (s *Service) LimitInfo(ctx context.Context, orgID id.OrganisationID) (models.LimitInfo, error) {
	info, err := s.limitInfo(ctx, orgID)
	if err != nil {
		return models.LimitInfo{}, s.storeFailure(ctx, orgID, err, "failed to read screening usage")
	}
	return info, nil
}

// CheckSingleAllowed is advisory: the authoritative check happens again
// inside RecordSingleConsumption.
func (s *Service) CheckSingleAllowed(ctx context.Context, orgID id.OrganisationID) (*models.Decision, error) {
	info, err := s.LimitInfo(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &models.Decision{
		Allowed:   info.Single.Remaining.Covers(1),
		Remaining: info.Single.Remaining,
		Info:      info,
	}, nil
}

// CheckBatchAllowed reports whether required batch units fit. The whole
// batch must fit; there is no partial admission.
func (s *Service) CheckBatchAllowed(ctx context.Context, orgID id.OrganisationID, required int) (*models.Decision, error) {
	info, err := s.LimitInfo(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &models.Decision{
		Allowed:   info.Batch.Remaining.Covers(required),
		Remaining: info.Batch.Remaining,
		Info:      info,
	}, nil
}

// RequireSingle runs CheckSingleAllowed and turns a denial into a
// QuotaExceeded error. The rejection is audited.
func (s *Service) RequireSingle(ctx context.Context, orgID id.OrganisationID) (*models.Decision, error) {
	d, err := s.CheckSingleAllowed(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		s.rejectSingle(ctx, orgID, d.Info, "check")
		return d, QuotaExceeded(d.Info)
	}
	return d, nil
}

// RequireBatch runs CheckBatchAllowed and turns a denial into an
// InsufficientBatchQuota error. The rejection is audited.
func (s *Service) RequireBatch(ctx context.Context, orgID id.OrganisationID, required int) (*models.Decision, error) {
	d, err := s.CheckBatchAllowed(ctx, orgID, required)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		s.rejectBatch(ctx, orgID, required, d.Info, "check")
		return d, InsufficientBatchQuota(required, d.Info)
	}
	return d, nil
}

// RecordSingleConsumption re-checks the single allowance and appends one
// non-bulk search log under the organisation lock. A concurrent request that
// took the last unit makes this return QuotaExceeded with nothing written.
func (s *Service) RecordSingleConsumption(ctx context.Context, orgID id.OrganisationID, userID id.UserID, query string, snapshot json.RawMessage) error {
	var denied *models.LimitInfo
	err := s.store.RunInTx(ctx, orgID, func(ctx context.Context) error {
		info, err := s.limitInfo(ctx, orgID)
		if err != nil {
			return err
		}
		if !info.Single.Remaining.Covers(1) {
			denied = &info
			return QuotaExceeded(info)
		}
		return s.store.AppendSearchLog(ctx, models.SearchLogEntry{
			UserID:         userID,
			OrganisationID: orgID,
			Query:          query,
			Result:         snapshot,
			IsBulk:         false,
			CreatedAt:      requestcontext.Now(ctx),
		})
	})
	if denied != nil {
		// Audited outside the rolled back transaction.
		s.rejectSingle(ctx, orgID, *denied, "commit")
	}
	if err != nil {
		return s.storeFailure(ctx, orgID, err, "failed to record screening")
	}
	s.metrics.AddConsumed(string(models.ClassSingle), 1)
	return nil
}

// RecordBatchConsumption re-checks the batch allowance and writes one batch
// entry per description in a single transaction: all or none.
func (s *Service) RecordBatchConsumption(ctx context.Context, orgID id.OrganisationID, userID id.UserID, descriptions []string) error {
	required := len(descriptions)
	if required == 0 {
		return nil
	}
	var denied *models.LimitInfo
	err := s.store.RunInTx(ctx, orgID, func(ctx context.Context) error {
		info, err := s.limitInfo(ctx, orgID)
		if err != nil {
			return err
		}
		if !info.Batch.Remaining.Covers(required) {
			denied = &info
			return InsufficientBatchQuota(required, info)
		}
		return s.store.AppendBatchEntries(ctx, models.Batch{
			UserID:         userID,
			OrganisationID: orgID,
			Descriptions:   descriptions,
			ScreenedAt:     requestcontext.Now(ctx),
		})
	})
	if denied != nil {
		s.rejectBatch(ctx, orgID, required, *denied, "commit")
	}
	if err != nil {
		return s.storeFailure(ctx, orgID, err, "failed to record batch screening")
	}
	s.metrics.AddConsumed(string(models.ClassBatch), required)
	return nil
}

// AppendSearchLog writes a search log without enforcing any limit. It is
// used for the bulk summary entry and for privileged searches. Entries bound
// to an organisation still go through the organisation lock so they cannot
// interleave with a commit.
func (s *Service) AppendSearchLog(ctx context.Context, entry models.SearchLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	var err error
	if entry.OrganisationID.IsNil() {
		err = s.store.AppendSearchLog(ctx, entry)
	} else {
		err = s.store.RunInTx(ctx, entry.OrganisationID, func(ctx context.Context) error {
			return s.store.AppendSearchLog(ctx, entry)
		})
	}
	if err != nil {
		return s.storeFailure(ctx, entry.OrganisationID, err, "failed to write search log")
	}
	return nil
}

// ListSearchLogs returns recent search logs, newest first.
func (s *Service) ListSearchLogs(ctx context.Context, orgID id.OrganisationID, limit int) ([]models.SearchLogEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	logs, err := s.store.ListSearchLogs(ctx, orgID, limit)
	if err != nil {
		return nil, s.storeFailure(ctx, orgID, err, "failed to list search history")
	}
	return logs, nil
}

func (s *Service) consumption(ctx context.Context, orgID id.OrganisationID) (models.Consumption, error) {
	single, err := s.store.CountSingle(ctx, orgID)
	if err != nil {
		return models.Consumption{}, err
	}
	batch, err := s.store.CountBatch(ctx, orgID)
	if err != nil {
		return models.Consumption{}, err
	}
	return models.Consumption{SingleDone: single, BatchDone: batch}, nil
}

func (s *Service) limitInfo(ctx context.Context, orgID id.OrganisationID) (models.LimitInfo, error) {
	pkg, err := s.store.GetPackage(ctx, orgID)
	if err != nil {
		return models.LimitInfo{}, err
	}
	c, err := s.consumption(ctx, orgID)
	if err != nil {
		return models.LimitInfo{}, err
	}
	return models.NewLimitInfo(models.LimitsFor(pkg), c), nil
}

func (s *Service) rejectSingle(ctx context.Context, orgID id.OrganisationID, info models.LimitInfo, stage string) {
	s.metrics.IncrementRejected(string(models.ClassSingle), stage)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventQuotaExceeded,
		"organisation_id", orgID,
		"package", info.Package,
		"limit", info.Single.Limit.String(),
		"used", info.Single.Consumed,
		"stage", stage,
		"decision", "denied",
		"reason", "single_limit_reached",
	)
}

func (s *Service) rejectBatch(ctx context.Context, orgID id.OrganisationID, required int, info models.LimitInfo, stage string) {
	s.metrics.IncrementRejected(string(models.ClassBatch), stage)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventBatchQuotaInsufficient,
		"organisation_id", orgID,
		"package", info.Package,
		"required", required,
		"remaining", info.Batch.Remaining.String(),
		"stage", stage,
		"decision", "denied",
		"reason", "batch_limit_insufficient",
	)
}

func (s *Service) storeFailure(ctx context.Context, orgID id.OrganisationID, err error, msg string) error {
	translated := translateStoreErr(err, msg)
	if dErrors.HasCode(translated, dErrors.CodeUnavailable) {
		s.metrics.IncrementStoreFailures()
		s.logger.ErrorContext(ctx, msg,
			"organisation_id", orgID,
			"error", err,
		)
	}
	return translated
}
