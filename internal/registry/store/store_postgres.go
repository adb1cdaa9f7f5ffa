package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/sentinel"
	txcontext "pipscreen/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// PostgresStore persists the registry in PostgreSQL. It is pure I/O: matching
// rules live in SQL, scoring and access decisions live in the services.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

// RunInTx runs fn inside a transaction carried on ctx. Every store call made
// with that ctx joins the transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	return txcontext.Run(ctx, s.db, "registry", func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}

const fullNameExpr = `LOWER(CONCAT_WS(' ', p.first_name, p.middle_name, p.last_name))`

func (s *PostgresStore) FindDirectMatches(ctx context.Context, q models.MatchQuery, facet id.Facet, elevated bool) ([]id.PIPID, error) {
	q = q.Normalized()
	if !facet.IsValid() {
		facet = id.FacetAll
	}
	if q.IsEmpty() || !facet.IncludesDirect() {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString(`
		SELECT p.id FROM pips p
		LEFT JOIN foreign_pips fp ON fp.pip_id = p.id
		WHERE (` + fullNameExpr + ` LIKE ANY($1) OR p.national_id ILIKE ANY($2))`)
	switch facet {
	case id.FacetLocal:
		b.WriteString(` AND fp.pip_id IS NULL`)
	case id.FacetForeign:
		b.WriteString(` AND fp.pip_id IS NOT NULL`)
	}
	if !elevated {
		b.WriteString(` AND (p.is_active IS NULL OR p.is_active = TRUE)`)
	}
	b.WriteString(` ORDER BY p.created_at, p.id`)

	ids, err := s.queryIDs(ctx, b.String(), pq.Array(likePatterns(q.NameTokens)), pq.Array(likePatterns(q.IdentifierTokens)))
	if err != nil {
		return nil, fmt.Errorf("find direct matches: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) FindAssociateMatches(ctx context.Context, q models.MatchQuery) ([]id.PIPID, error) {
	q = q.Normalized()
	if q.IsEmpty() {
		return nil, nil
	}
	query := `
		SELECT DISTINCT a.pip_id FROM pip_associates a
		WHERE LOWER(a.full_name) LIKE ANY($1) OR a.national_id ILIKE ANY($2)
		ORDER BY a.pip_id
	`
	ids, err := s.queryIDs(ctx, query, pq.Array(likePatterns(q.NameTokens)), pq.Array(likePatterns(q.IdentifierTokens)))
	if err != nil {
		return nil, fmt.Errorf("find associate matches: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) FetchDetails(ctx context.Context, ids []id.PIPID, elevated bool) ([]models.PIP, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where := `WHERE p.id = ANY($1)`
	if !elevated {
		where += ` AND (p.is_active IS NULL OR p.is_active = TRUE)`
	}
	pips, err := s.hydrate(ctx, where, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("fetch pip details: %w", err)
	}
	return pips, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, elevated bool) ([]models.PIP, error) {
	where := ``
	if !elevated {
		where = `WHERE (p.is_active IS NULL OR p.is_active = TRUE)`
	}
	pips, err := s.hydrate(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("list pips: %w", err)
	}
	return pips, nil
}

func (s *PostgresStore) ListAllNameAndIdentifierTokens(ctx context.Context) ([]string, error) {
	query := `
		SELECT LOWER(CONCAT_WS(' ', first_name, middle_name, last_name, national_id)) FROM pips
		UNION ALL
		SELECT LOWER(CONCAT_WS(' ', full_name, national_id)) FROM pip_associates
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list name tokens: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan name tokens: %w", err)
		}
		for _, w := range strings.Fields(line) {
			set[w] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate name tokens: %w", err)
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	slices.Sort(out)
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, pipID id.PIPID) (*models.PIP, error) {
	pips, err := s.hydrate(ctx, `WHERE p.id = $1`, pipID.String())
	if err != nil {
		return nil, fmt.Errorf("get pip: %w", err)
	}
	if len(pips) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &pips[0], nil
}

// Create inserts the record with its foreign detail and owned collections.
// Call it inside RunInTx so a partial insert never commits.
func (s *PostgresStore) Create(ctx context.Context, p *models.PIP) error {
	query := `
		INSERT INTO pips (id, first_name, middle_name, last_name, national_id, pip_type, reason, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID.String(),
		p.FirstName,
		nullIfEmpty(p.MiddleName),
		p.LastName,
		nullIfEmpty(p.NationalID),
		string(p.Type),
		p.Reason,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pip: %w", err)
	}
	if p.Foreign != nil {
		if err := s.UpsertForeign(ctx, p.ID, p.Foreign); err != nil {
			return err
		}
	}
	if err := s.insertAssociates(ctx, p.ID, p.Associates); err != nil {
		return err
	}
	return s.insertInstitutions(ctx, p.ID, p.Institutions)
}

func (s *PostgresStore) Update(ctx context.Context, p *models.PIP) error {
	query := `
		UPDATE pips SET
			first_name = $2, middle_name = $3, last_name = $4, national_id = $5,
			pip_type = $6, reason = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID.String(),
		p.FirstName,
		nullIfEmpty(p.MiddleName),
		p.LastName,
		nullIfEmpty(p.NationalID),
		string(p.Type),
		p.Reason,
		p.IsActive,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pip: %w", err)
	}
	return requireAffected(res, "update pip")
}

func (s *PostgresStore) UpsertForeign(ctx context.Context, pipID id.PIPID, detail *models.ForeignDetail) error {
	if detail == nil {
		if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM foreign_pips WHERE pip_id = $1`, pipID.String()); err != nil {
			return fmt.Errorf("delete foreign detail: %w", err)
		}
		return nil
	}
	query := `
		INSERT INTO foreign_pips (pip_id, country, additional_notes)
		VALUES ($1, $2, $3)
		ON CONFLICT (pip_id) DO UPDATE SET
			country = EXCLUDED.country,
			additional_notes = EXCLUDED.additional_notes
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, pipID.String(), detail.Country, nullIfEmpty(detail.AdditionalNotes)); err != nil {
		return fmt.Errorf("upsert foreign detail: %w", err)
	}
	return nil
}

// ReplaceAssociates deletes every associate of pipID and inserts the given
// set. Item identifiers are not preserved.
func (s *PostgresStore) ReplaceAssociates(ctx context.Context, pipID id.PIPID, associates []models.Associate) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM pip_associates WHERE pip_id = $1`, pipID.String()); err != nil {
		return fmt.Errorf("delete associates: %w", err)
	}
	return s.insertAssociates(ctx, pipID, associates)
}

func (s *PostgresStore) ReplaceInstitutions(ctx context.Context, pipID id.PIPID, institutions []models.Institution) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM pip_institutions WHERE pip_id = $1`, pipID.String()); err != nil {
		return fmt.Errorf("delete institutions: %w", err)
	}
	return s.insertInstitutions(ctx, pipID, institutions)
}

func (s *PostgresStore) SetActive(ctx context.Context, pipID id.PIPID, active bool, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE pips SET is_active = $2, updated_at = $3 WHERE id = $1`,
		pipID.String(), active, now,
	)
	if err != nil {
		return fmt.Errorf("set pip active: %w", err)
	}
	return requireAffected(res, "set pip active")
}

func (s *PostgresStore) insertAssociates(ctx context.Context, pipID id.PIPID, associates []models.Associate) error {
	query := `
		INSERT INTO pip_associates (id, pip_id, full_name, relationship_type, national_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, a := range associates {
		if _, err := s.execer(ctx).ExecContext(ctx, query,
			a.ID.String(), pipID.String(), a.FullName, string(a.Relationship), nullIfEmpty(a.NationalID),
		); err != nil {
			return fmt.Errorf("insert associate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertInstitutions(ctx context.Context, pipID id.PIPID, institutions []models.Institution) error {
	query := `
		INSERT INTO pip_institutions (id, pip_id, institution_name, institution_type, position, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, inst := range institutions {
		if _, err := s.execer(ctx).ExecContext(ctx, query,
			inst.ID.String(), pipID.String(), inst.Name,
			nullIfEmpty(inst.Type), nullIfEmpty(inst.Position),
			inst.StartDate, inst.EndDate,
		); err != nil {
			return fmt.Errorf("insert institution: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, args ...any) ([]id.PIPID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []id.PIPID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, id.PIPID(u))
	}
	return out, rows.Err()
}

// hydrate loads PIPs matching where together with their foreign detail,
// associates and institutions.
func (s *PostgresStore) hydrate(ctx context.Context, where string, args ...any) ([]models.PIP, error) {
	query := `
		SELECT p.id, p.first_name, COALESCE(p.middle_name, ''), p.last_name,
			COALESCE(p.national_id, ''), p.pip_type, COALESCE(p.reason, ''),
			COALESCE(p.is_active, TRUE), p.created_at, p.updated_at,
			fp.country, fp.additional_notes
		FROM pips p
		LEFT JOIN foreign_pips fp ON fp.pip_id = p.id
		` + where + `
		ORDER BY p.created_at, p.id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pips []models.PIP
	index := make(map[id.PIPID]int)
	for rows.Next() {
		p, err := scanPIP(rows)
		if err != nil {
			return nil, err
		}
		index[p.ID] = len(pips)
		pips = append(pips, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pips) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pips))
	for i, p := range pips {
		ids[i] = p.ID.String()
	}
	if err := s.attachAssociates(ctx, pips, index, ids); err != nil {
		return nil, err
	}
	if err := s.attachInstitutions(ctx, pips, index, ids); err != nil {
		return nil, err
	}
	return pips, nil
}

func (s *PostgresStore) attachAssociates(ctx context.Context, pips []models.PIP, index map[id.PIPID]int, ids []string) error {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, pip_id, full_name, COALESCE(relationship_type, ''), COALESCE(national_id, '')
		FROM pip_associates WHERE pip_id = ANY($1)
		ORDER BY pip_id, full_name
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load associates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			assocID, pipID uuid.UUID
			a              models.Associate
			relationship   string
		)
		if err := rows.Scan(&assocID, &pipID, &a.FullName, &relationship, &a.NationalID); err != nil {
			return fmt.Errorf("scan associate: %w", err)
		}
		a.ID = id.AssociateID(assocID)
		a.Relationship = models.NormalizeRelationship(relationship)
		if i, ok := index[id.PIPID(pipID)]; ok {
			pips[i].Associates = append(pips[i].Associates, a)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) attachInstitutions(ctx context.Context, pips []models.PIP, index map[id.PIPID]int, ids []string) error {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, pip_id, institution_name, COALESCE(institution_type, ''), COALESCE(position, ''), start_date, end_date
		FROM pip_institutions WHERE pip_id = ANY($1)
		ORDER BY pip_id, start_date NULLS LAST, institution_name
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load institutions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			instID, pipID uuid.UUID
			inst          models.Institution
			start, end    sql.NullTime
		)
		if err := rows.Scan(&instID, &pipID, &inst.Name, &inst.Type, &inst.Position, &start, &end); err != nil {
			return fmt.Errorf("scan institution: %w", err)
		}
		inst.ID = id.InstitutionID(instID)
		if start.Valid {
			inst.StartDate = &start.Time
		}
		if end.Valid {
			inst.EndDate = &end.Time
		}
		if i, ok := index[id.PIPID(pipID)]; ok {
			pips[i].Institutions = append(pips[i].Institutions, inst)
		}
	}
	return rows.Err()
}

type pipRow interface {
	Scan(dest ...any) error
}

func scanPIP(row pipRow) (*models.PIP, error) {
	var (
		p             models.PIP
		pipID         uuid.UUID
		pipType       string
		country       sql.NullString
		foreignRemark sql.NullString
	)
	if err := row.Scan(&pipID, &p.FirstName, &p.MiddleName, &p.LastName, &p.NationalID,
		&pipType, &p.Reason, &p.IsActive, &p.CreatedAt, &p.UpdatedAt, &country, &foreignRemark); err != nil {
		return nil, err
	}
	p.ID = id.PIPID(pipID)
	p.Type = models.NormalizeType(pipType)
	if country.Valid {
		p.Foreign = &models.ForeignDetail{Country: country.String, AdditionalNotes: foreignRemark.String}
	}
	p.Associates = []models.Associate{}
	p.Institutions = []models.Institution{}
	return &p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePatterns turns literal tokens into %token% patterns with LIKE
// metacharacters escaped.
func likePatterns(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = "%" + likeEscaper.Replace(t) + "%"
	}
	return out
}

func idStrings(ids []id.PIPID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
