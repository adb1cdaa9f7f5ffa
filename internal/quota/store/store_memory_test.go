package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipscreen/internal/quota/models"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/platform/sentinel"
)

func TestInMemoryRunInTx_RollbackDiscardsAppends(t *testing.T) {
	s := NewInMemory()
	orgID := id.NewOrganisationID()
	s.PutOrganisation(orgID, nil)

	failure := errors.New("abort")
	err := s.RunInTx(context.Background(), orgID, func(ctx context.Context) error {
		require.NoError(t, s.AppendSearchLog(ctx, models.SearchLogEntry{OrganisationID: orgID, Query: "a"}))
		require.NoError(t, s.AppendBatchEntries(ctx, models.Batch{OrganisationID: orgID, Descriptions: []string{"x", "y"}}))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	single, err := s.CountSingle(context.Background(), orgID)
	require.NoError(t, err)
	assert.Zero(t, single)
	assert.Empty(t, s.BatchEntries(orgID))
}

func TestInMemoryRunInTx_UnknownOrganisation(t *testing.T) {
	s := NewInMemory()
	err := s.RunInTx(context.Background(), id.NewOrganisationID(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryRunInTx_SerializesPerOrganisation(t *testing.T) {
	s := NewInMemory()
	orgID := id.NewOrganisationID()
	s.PutOrganisation(orgID, nil)

	var (
		wg     sync.WaitGroup
		active int
		peak   int
		mu     sync.Mutex
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunInTx(context.Background(), orgID, func(context.Context) error {
				mu.Lock()
				active++
				peak = max(peak, active)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestInMemoryCounts(t *testing.T) {
	s := NewInMemory()
	orgID := id.NewOrganisationID()
	s.PutOrganisation(orgID, &models.Package{Name: "Basic", SingleLimit: models.Capped(2)})
	ctx := context.Background()

	require.NoError(t, s.AppendSearchLog(ctx, models.SearchLogEntry{OrganisationID: orgID, Query: "one"}))
	require.NoError(t, s.AppendSearchLog(ctx, models.SearchLogEntry{OrganisationID: orgID, Query: "bulk", IsBulk: true}))
	require.NoError(t, s.AppendBatchEntries(ctx, models.Batch{OrganisationID: orgID, Descriptions: []string{"r1"}}))

	single, err := s.CountSingle(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, single)

	batch, err := s.CountBatch(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch)

	logs, err := s.ListSearchLogs(ctx, orgID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "bulk", logs[0].Query, "newest first")

	pkg, err := s.GetPackage(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "Basic", pkg.Name)
}
