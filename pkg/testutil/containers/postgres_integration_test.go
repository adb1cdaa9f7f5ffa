//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateQuotesTableNames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := NewPostgresContainer(t)
	ctx := context.Background()

	_, err := pg.DB.ExecContext(ctx, `CREATE TABLE "Screening Scratch" (n int)`)
	require.NoError(t, err)
	_, err = pg.DB.ExecContext(ctx, `INSERT INTO "Screening Scratch" VALUES (1), (2)`)
	require.NoError(t, err)

	require.NoError(t, pg.Truncate(ctx, "public.Screening Scratch", "outbox"))

	var n int
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT count(*) FROM "Screening Scratch"`).Scan(&n))
	assert.Zero(t, n)

	assert.Error(t, pg.Truncate(ctx, "outbox; DROP TABLE pips"), "names are identifiers, never SQL")
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT count(*) FROM pips`).Scan(&n))
}
