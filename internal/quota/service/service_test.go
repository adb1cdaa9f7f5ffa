package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pipscreen/internal/quota/models"
	"pipscreen/internal/quota/service/mocks"
	"pipscreen/internal/quota/store"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/audit/publisher"
	auditmemory "pipscreen/pkg/platform/audit/store/memory"
)

// =============================================================================
// Quota Ledger Test Suite
// =============================================================================
// Justification for unit tests: the ledger owns the limit arithmetic, the
// all-or-none batch commit and the re-check under the organisation lock.
// Races between concurrent searches cannot be reproduced reliably end to end.

type QuotaServiceSuite struct {
	suite.Suite
	store      *store.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	service    *Service
	orgID      id.OrganisationID
	userID     id.UserID
}

func TestQuotaServiceSuite(t *testing.T) {
	suite.Run(t, new(QuotaServiceSuite))
}

func (s *QuotaServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.orgID = id.NewOrganisationID()
	s.userID = id.NewUserID()

	var err error
	s.service, err = New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
	s.Require().NoError(err)
}

func (s *QuotaServiceSuite) withPackage(single, batch models.Limit) {
	s.store.PutOrganisation(s.orgID, &models.Package{
		ID:          id.NewPackageID(),
		Name:        "Standard",
		SingleLimit: single,
		BatchLimit:  batch,
	})
}

func (s *QuotaServiceSuite) consumeSingle(n int) {
	for range n {
		s.Require().NoError(s.service.RecordSingleConsumption(context.Background(), s.orgID, s.userID, "john", nil))
	}
}

func (s *QuotaServiceSuite) descriptions(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = models.BatchDescription(i, "John", "", "Doe", "")
	}
	return out
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *QuotaServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "quota store is required")
	})

	s.Run("valid store returns configured service", func() {
		svc, err := New(s.store)
		s.NoError(err)
		s.NotNil(svc)
	})
}

// =============================================================================
// Limits and Consumption
// =============================================================================

func (s *QuotaServiceSuite) TestGetLimits() {
	ctx := context.Background()

	s.Run("organisation without package has zero allowance", func() {
		s.store.PutOrganisation(s.orgID, nil)
		limits, err := s.service.GetLimits(ctx, s.orgID)
		s.Require().NoError(err)
		s.Equal(models.NoPackageName, limits.Package)
		s.False(limits.Single.IsUnlimited())
		s.Equal(0, limits.Single.Value())
		s.Equal(0, limits.Batch.Value())
	})

	s.Run("package limits are reported", func() {
		s.withPackage(models.Capped(3), models.Unlimited())
		limits, err := s.service.GetLimits(ctx, s.orgID)
		s.Require().NoError(err)
		s.Equal("Standard", limits.Package)
		s.Equal(3, limits.Single.Value())
		s.True(limits.Batch.IsUnlimited())
	})

	s.Run("unknown organisation is not found", func() {
		_, err := s.service.GetLimits(ctx, id.NewOrganisationID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *QuotaServiceSuite) TestGetConsumption() {
	ctx := context.Background()
	s.withPackage(models.Unlimited(), models.Unlimited())

	s.consumeSingle(2)
	s.Require().NoError(s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(4)))
	s.Require().NoError(s.service.AppendSearchLog(ctx, models.SearchLogEntry{
		UserID: s.userID, OrganisationID: s.orgID, Query: "Bulk search: 4 records", IsBulk: true,
	}))

	c, err := s.service.GetConsumption(ctx, s.orgID)
	s.Require().NoError(err)
	s.Equal(2, c.SingleDone, "bulk summary log is not single consumption")
	s.Equal(4, c.BatchDone)
}

func (s *QuotaServiceSuite) TestLimitInfo() {
	s.withPackage(models.Capped(5), models.Capped(10))
	s.consumeSingle(2)

	info, err := s.service.LimitInfo(context.Background(), s.orgID)
	s.Require().NoError(err)
	s.Equal("Standard", info.Package)
	s.Equal(2, info.Single.Consumed)
	s.Equal(3, info.Single.Remaining.Count())
	s.Equal(10, info.Batch.Remaining.Count())
}

// =============================================================================
// Single Class
// =============================================================================

func (s *QuotaServiceSuite) TestCheckSingleAllowed() {
	ctx := context.Background()

	s.Run("unlimited package always allows", func() {
		s.withPackage(models.Unlimited(), models.Capped(0))
		d, err := s.service.CheckSingleAllowed(ctx, s.orgID)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.True(d.Remaining.IsUnlimited())
	})

	s.Run("zero limit denies", func() {
		s.withPackage(models.Capped(0), models.Capped(0))
		d, err := s.service.CheckSingleAllowed(ctx, s.orgID)
		s.Require().NoError(err)
		s.False(d.Allowed)
	})
}

func (s *QuotaServiceSuite) TestRequireSingle_ExhaustedLimitDeniesWithoutWriting() {
	ctx := context.Background()
	s.withPackage(models.Capped(3), models.Capped(0))
	s.consumeSingle(3)

	d, err := s.service.RequireSingle(ctx, s.orgID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))
	s.False(d.Allowed)
	s.Equal(0, d.Remaining.Count())

	details := dErrors.DetailsOf(err)
	s.Require().NotNil(details)
	s.Equal(3, details["used"])

	c, err := s.service.GetConsumption(ctx, s.orgID)
	s.Require().NoError(err)
	s.Equal(3, c.SingleDone)

	events, err := s.auditStore.ListByAction(ctx, audit.EventQuotaExceeded)
	s.Require().NoError(err)
	s.Len(events, 1)
	s.Equal(s.orgID, events[0].OrganisationID)
}

func (s *QuotaServiceSuite) TestRecordSingleConsumption() {
	ctx := context.Background()

	s.Run("appends a non-bulk log", func() {
		s.withPackage(models.Capped(2), models.Capped(0))
		s.Require().NoError(s.service.RecordSingleConsumption(ctx, s.orgID, s.userID, "jane", []byte(`[]`)))

		logs, err := s.service.ListSearchLogs(ctx, s.orgID, 10)
		s.Require().NoError(err)
		s.Require().Len(logs, 1)
		s.Equal("jane", logs[0].Query)
		s.False(logs[0].IsBulk)
		s.Equal(s.userID, logs[0].UserID)
	})

	s.Run("re-check rejects once the limit is reached", func() {
		s.consumeSingle(1)
		err := s.service.RecordSingleConsumption(ctx, s.orgID, s.userID, "late", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))

		c, err := s.service.GetConsumption(ctx, s.orgID)
		s.Require().NoError(err)
		s.Equal(2, c.SingleDone)
	})
}

func (s *QuotaServiceSuite) TestRecordSingleConsumption_ConcurrentNeverExceedsLimit() {
	const limit = 5
	s.withPackage(models.Capped(limit), models.Capped(0))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.service.RecordSingleConsumption(context.Background(), s.orgID, s.userID, "q", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if dErrors.HasCode(err, dErrors.CodeQuotaExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	s.Equal(limit, accepted)
	s.Equal(20-limit, rejected)
	c, err := s.service.GetConsumption(context.Background(), s.orgID)
	s.Require().NoError(err)
	s.Equal(limit, c.SingleDone)
}

// =============================================================================
// Batch Class
// =============================================================================

func (s *QuotaServiceSuite) TestRequireBatch_InsufficientQuotaReportsShortfall() {
	ctx := context.Background()
	s.withPackage(models.Unlimited(), models.Capped(10))
	s.Require().NoError(s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(7)))

	d, err := s.service.RequireBatch(ctx, s.orgID, 5)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientQuota))
	s.False(d.Allowed)

	details := dErrors.DetailsOf(err)
	s.Equal(5, details["required"])
	s.Equal(3, details["remaining"].(models.Remaining).Count())
	s.Equal(2, details["shortfall"])
	s.Len(s.store.BatchEntries(s.orgID), 7)
}

func (s *QuotaServiceSuite) TestRecordBatchConsumption() {
	ctx := context.Background()

	s.Run("writes one entry per row", func() {
		s.withPackage(models.Unlimited(), models.Capped(10))
		s.Require().NoError(s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(3)))

		entries := s.store.BatchEntries(s.orgID)
		s.Require().Len(entries, 3)
		s.Equal("Bulk search row 1: John  Doe (No ID)", entries[0].Description)
	})

	s.Run("batch that does not fit writes nothing", func() {
		err := s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(8))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientQuota))
		s.Len(s.store.BatchEntries(s.orgID), 3)
	})

	s.Run("batch that exactly fits is admitted", func() {
		s.Require().NoError(s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(7)))
		s.Len(s.store.BatchEntries(s.orgID), 10)
	})

	s.Run("empty batch is a no-op", func() {
		s.NoError(s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, nil))
	})
}

func (s *QuotaServiceSuite) TestRecordBatchConsumption_CancelledContextLeavesNoConsumption() {
	s.withPackage(models.Unlimited(), models.Unlimited())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.service.RecordBatchConsumption(ctx, s.orgID, s.userID, s.descriptions(2))
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Empty(s.store.BatchEntries(s.orgID))
}

func (s *QuotaServiceSuite) TestAppendSearchLog_UnboundCallerNotCounted() {
	ctx := context.Background()
	s.withPackage(models.Capped(1), models.Capped(0))

	s.Require().NoError(s.service.AppendSearchLog(ctx, models.SearchLogEntry{UserID: s.userID, Query: "admin search"}))
	s.Len(s.store.UnboundSearchLogs(), 1)

	c, err := s.service.GetConsumption(ctx, s.orgID)
	s.Require().NoError(err)
	s.Zero(c.SingleDone)
}

// =============================================================================
// Store Failures (mocked)
// =============================================================================
// Justification: driver failures cannot be provoked through the in-memory
// store; the translation to a retryable code is asserted against a mock.

type QuotaServiceFailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	service *Service
}

func TestQuotaServiceFailureSuite(t *testing.T) {
	suite.Run(t, new(QuotaServiceFailureSuite))
}

func (s *QuotaServiceFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.service, _ = New(s.store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *QuotaServiceFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *QuotaServiceFailureSuite) TestCountFailureIsUnavailable() {
	orgID := id.NewOrganisationID()
	s.store.EXPECT().GetPackage(gomock.Any(), orgID).Return(nil, nil)
	s.store.EXPECT().CountSingle(gomock.Any(), orgID).Return(0, errors.New("connection reset"))

	_, err := s.service.CheckSingleAllowed(context.Background(), orgID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *QuotaServiceFailureSuite) TestAppendFailureInsideTxIsUnavailable() {
	orgID := id.NewOrganisationID()
	s.store.EXPECT().RunInTx(gomock.Any(), orgID, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ id.OrganisationID, fn func(context.Context) error) error {
			return fn(ctx)
		})
	s.store.EXPECT().GetPackage(gomock.Any(), orgID).Return(&models.Package{Name: "Gold"}, nil)
	s.store.EXPECT().CountSingle(gomock.Any(), orgID).Return(0, nil)
	s.store.EXPECT().CountBatch(gomock.Any(), orgID).Return(0, nil)
	s.store.EXPECT().AppendSearchLog(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	err := s.service.RecordSingleConsumption(context.Background(), orgID, id.NewUserID(), "q", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *QuotaServiceFailureSuite) TestListSearchLogsDefaultsLimit() {
	orgID := id.NewOrganisationID()
	s.store.EXPECT().ListSearchLogs(gomock.Any(), orgID, defaultHistoryLimit).Return(nil, nil)

	_, err := s.service.ListSearchLogs(context.Background(), orgID, 0)
	s.NoError(err)
}
