package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipscreen/internal/quota/models"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/platform/sentinel"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestGetPackage(t *testing.T) {
	orgID := id.NewOrganisationID()
	pkgID := id.NewPackageID()

	t.Run("null limit is unlimited", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectQuery(`(?s)FROM organisations o\s+LEFT JOIN packages p`).
			WithArgs(orgID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "onboarding_screening_limit", "batch_screening_limit"}).
				AddRow(pkgID.String(), "Gold", 25, nil))

		pkg, err := s.GetPackage(context.Background(), orgID)
		require.NoError(t, err)
		require.NotNil(t, pkg)
		assert.Equal(t, pkgID, pkg.ID)
		assert.Equal(t, 25, pkg.SingleLimit.Value())
		assert.True(t, pkg.BatchLimit.IsUnlimited())
	})

	t.Run("organisation without package returns nil", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectQuery(`FROM organisations o`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "onboarding_screening_limit", "batch_screening_limit"}).
				AddRow(nil, nil, nil, nil))

		pkg, err := s.GetPackage(context.Background(), orgID)
		require.NoError(t, err)
		assert.Nil(t, pkg)
	})

	t.Run("unknown organisation is not found", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectQuery(`FROM organisations o`).WillReturnError(sql.ErrNoRows)

		_, err := s.GetPackage(context.Background(), orgID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestCounts(t *testing.T) {
	orgID := id.NewOrganisationID()
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pip_search_logs WHERE organisation_id = \$1 AND \(is_bulk_search = FALSE OR is_bulk_search IS NULL\)`).
		WithArgs(orgID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_screenings WHERE organisation_id = \$1`).
		WithArgs(orgID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	single, err := s.CountSingle(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 4, single)

	batch, err := s.CountBatch(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 9, batch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_LocksOrganisationAndCommits(t *testing.T) {
	orgID := id.NewOrganisationID()
	userID := id.NewUserID()
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM organisations WHERE id = \$1 FOR UPDATE`).
		WithArgs(orgID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(orgID.String()))
	mock.ExpectExec(`(?s)INSERT INTO batch_screenings .*SELECT unnest\(\$1::uuid\[\]\), \$2::uuid, \$3::uuid, unnest\(\$4::text\[\]\), \$5`).
		WithArgs(sqlmock.AnyArg(), userID.String(), orgID.String(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), orgID, func(ctx context.Context) error {
		return s.AppendBatchEntries(ctx, models.Batch{
			UserID:         userID,
			OrganisationID: orgID,
			Descriptions:   []string{"row 1", "row 2"},
			ScreenedAt:     time.Now(),
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	orgID := id.NewOrganisationID()
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(orgID.String()))
	mock.ExpectRollback()

	rejected := errors.New("limit reached")
	err := s.RunInTx(context.Background(), orgID, func(context.Context) error { return rejected })
	assert.ErrorIs(t, err, rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_UnknownOrganisation(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := s.RunInTx(context.Background(), id.NewOrganisationID(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.False(t, called)
}

func TestRunInTx_CancelledContext(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunInTx(ctx, id.NewOrganisationID(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSearchLog_NullOrganisation(t *testing.T) {
	s, mock := newStoreWithMock(t)
	userID := id.NewUserID()

	mock.ExpectExec(`INSERT INTO pip_search_logs`).
		WithArgs(sqlmock.AnyArg(), userID.String(), sql.NullString{}, "john", sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendSearchLog(context.Background(), models.SearchLogEntry{UserID: userID, Query: "john", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSearchLogs(t *testing.T) {
	orgID := id.NewOrganisationID()
	userID := id.NewUserID()
	s, mock := newStoreWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM pip_search_logs\s+WHERE organisation_id = \$1\s+ORDER BY created_at DESC\s+LIMIT \$2`).
		WithArgs(orgID.String(), 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "organisation_id", "search_query", "is_bulk_search", "created_at"}).
			AddRow(id.NewPIPID().String(), userID.String(), orgID.String(), "Bulk search: 3 records", true, now))

	logs, err := s.ListSearchLogs(context.Background(), orgID, 20)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, userID, logs[0].UserID)
	assert.Equal(t, orgID, logs[0].OrganisationID)
	assert.True(t, logs[0].IsBulk)
}
