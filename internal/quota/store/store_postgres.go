package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pipscreen/internal/quota/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/sentinel"
	txcontext "pipscreen/pkg/platform/tx"
)

// PostgresStore persists the ledger in PostgreSQL.
//
// RunInTx locks the organisation row (SELECT ... FOR UPDATE) before fn runs,
// so counts read and entries appended inside fn cannot interleave with another
// transaction for the same organisation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

func (s *PostgresStore) RunInTx(ctx context.Context, orgID id.OrganisationID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	return txcontext.Run(ctx, s.db, "ledger", func(ctx context.Context, tx *sql.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT id FROM organisations WHERE id = $1 FOR UPDATE`, orgID.String()).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock organisation: %w", err)
		}
		return fn(ctx)
	})
}

// GetPackage returns the organisation's package, nil when none is assigned,
// or sentinel.ErrNotFound for an unknown organisation.
func (s *PostgresStore) GetPackage(ctx context.Context, orgID id.OrganisationID) (*models.Package, error) {
	query := `
		SELECT p.id, p.name, p.onboarding_screening_limit, p.batch_screening_limit
		FROM organisations o
		LEFT JOIN packages p ON p.id = o.package_id
		WHERE o.id = $1
	`
	var (
		pkgID  uuid.NullUUID
		name   sql.NullString
		single sql.NullInt64
		batch  sql.NullInt64
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, orgID.String()).Scan(&pkgID, &name, &single, &batch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get organisation package: %w", err)
	}
	if !pkgID.Valid {
		return nil, nil
	}
	return &models.Package{
		ID:          id.PackageID(pkgID.UUID),
		Name:        name.String,
		SingleLimit: nullableLimit(single),
		BatchLimit:  nullableLimit(batch),
	}, nil
}

func (s *PostgresStore) CountSingle(ctx context.Context, orgID id.OrganisationID) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pip_search_logs WHERE organisation_id = $1 AND (is_bulk_search = FALSE OR is_bulk_search IS NULL)`,
		orgID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count single screenings: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountBatch(ctx context.Context, orgID id.OrganisationID) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_screenings WHERE organisation_id = $1`,
		orgID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batch screenings: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AppendSearchLog(ctx context.Context, entry models.SearchLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var orgID sql.NullString
	if !entry.OrganisationID.IsNil() {
		orgID = sql.NullString{String: entry.OrganisationID.String(), Valid: true}
	}
	var result []byte
	if len(entry.Result) > 0 {
		result = entry.Result
	}
	query := `
		INSERT INTO pip_search_logs (id, user_id, organisation_id, search_query, search_result, is_bulk_search, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.UserID.String(),
		orgID,
		entry.Query,
		result,
		entry.IsBulk,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search log: %w", err)
	}
	return nil
}

// AppendBatchEntries writes one row per description in a single statement.
func (s *PostgresStore) AppendBatchEntries(ctx context.Context, batch models.Batch) error {
	if len(batch.Descriptions) == 0 {
		return nil
	}
	ids := make([]string, len(batch.Descriptions))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	query := `
		INSERT INTO batch_screenings (id, user_id, organisation_id, description, screened_at)
		SELECT unnest($1::uuid[]), $2::uuid, $3::uuid, unnest($4::text[]), $5
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		pq.Array(ids),
		batch.UserID.String(),
		batch.OrganisationID.String(),
		pq.Array(batch.Descriptions),
		batch.ScreenedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch screenings: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSearchLogs(ctx context.Context, orgID id.OrganisationID, limit int) ([]models.SearchLogEntry, error) {
	query := `
		SELECT id, user_id, organisation_id, search_query, COALESCE(is_bulk_search, FALSE), created_at
		FROM pip_search_logs
		WHERE organisation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, orgID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list search logs: %w", err)
	}
	defer rows.Close()

	var out []models.SearchLogEntry
	for rows.Next() {
		var (
			e       models.SearchLogEntry
			logID   uuid.UUID
			userID  uuid.UUID
			orgUUID uuid.NullUUID
		)
		if err := rows.Scan(&logID, &userID, &orgUUID, &e.Query, &e.IsBulk, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search log: %w", err)
		}
		e.ID = logID.String()
		e.UserID = id.UserID(userID)
		if orgUUID.Valid {
			e.OrganisationID = id.OrganisationID(orgUUID.UUID)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search logs: %w", err)
	}
	return out, nil
}

func nullableLimit(v sql.NullInt64) models.Limit {
	if !v.Valid {
		return models.Unlimited()
	}
	return models.Capped(int(v.Int64))
}
