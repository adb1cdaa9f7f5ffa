package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "pipscreen/pkg/domain"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/audit/publisher"
	"pipscreen/pkg/platform/audit/store/memory"
	"pipscreen/pkg/requestcontext"
)

func TestLogAuditCarriesRequestMetadata(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := publisher.NewPublisher(store)
	defer pub.Close()

	orgID := id.NewOrganisationID()
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithDevice(ctx, "Firefox on Linux x86_64")

	audit.LogAudit(ctx, nil, pub, audit.EventPIPSearchPerformed,
		"organisation_id", orgID.String(),
		"decision", "match",
	)

	events, err := store.ListByOrganisation(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "Firefox on Linux x86_64", events[0].Device)
	assert.Equal(t, "match", events[0].Decision)
}

func TestLogAuditWithoutDeviceLeavesItEmpty(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := publisher.NewPublisher(store)
	defer pub.Close()

	orgID := id.NewOrganisationID()
	audit.LogAudit(context.Background(), nil, pub, audit.EventQuotaExceeded,
		"organisation_id", orgID.String(),
	)

	events, err := store.ListByOrganisation(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Device)
}
