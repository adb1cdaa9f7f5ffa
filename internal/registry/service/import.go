package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"pipscreen/internal/access"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/sentinel"
	"pipscreen/pkg/requestcontext"
)

const (
	// MaxImportRows bounds a single CSV import.
	MaxImportRows = 10000

	// maxImportSlots is how many numbered institution_N_* and associate_N_*
	// column groups are read per row.
	maxImportSlots = 5
)

var requiredImportColumns = []string{"first_name", "last_name", "reason"}

// FailedRow reports an import row that was not inserted. Row is the line
// number in the file, counting the header as line 1.
type FailedRow struct {
	Row       int    `json:"row"`
	Reference string `json:"pip_reference"`
	Reason    string `json:"reason"`
}

type ImportResult struct {
	TotalProcessed int         `json:"total_processed"`
	SuccessCount   int         `json:"success_count"`
	FailedCount    int         `json:"failed_count"`
	Errors         []FailedRow `json:"errors"`
}

// Import inserts one PIP per CSV row. Each row commits on its own, so a bad
// row is reported without discarding the rest. The token index is
// invalidated once at the end when anything was inserted.
func (s *Service) Import(ctx context.Context, p access.Principal, r io.Reader) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Import")
	defer span.End()

	if err := access.RequireElevated(p); err != nil {
		return nil, err
	}
	header, records, err := readImportFile(r)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Errors: []FailedRow{}}
	var runErr error
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			runErr = dErrors.Wrap(err, dErrors.CodeTimeout, "import interrupted")
			break
		}
		res.TotalProcessed++
		row := importRow{header: header, values: record}
		if failure := s.importRow(ctx, row); failure != "" {
			res.FailedCount++
			res.Errors = append(res.Errors, FailedRow{Row: i + 2, Reference: row.reference(), Reason: failure})
			continue
		}
		res.SuccessCount++
	}
	span.SetAttributes(
		attribute.Int("import.rows", res.TotalProcessed),
		attribute.Int("import.failed", res.FailedCount),
	)

	if res.SuccessCount > 0 {
		s.index.Invalidate(ctx)
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPIPsImported,
		"actor_id", p.UserID.String(),
		"total_processed", res.TotalProcessed,
		"success_count", res.SuccessCount,
		"failed_count", res.FailedCount,
	)
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

// importRow validates and inserts one record, returning a failure reason or
// the empty string.
func (s *Service) importRow(ctx context.Context, row importRow) string {
	req := row.request()
	if err := req.Validate(); err != nil {
		return dErrors.MessageOf(err)
	}
	pip, err := req.build(requestcontext.Now(ctx))
	if err != nil {
		return dErrors.MessageOf(err)
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, pip)
	})
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sentinel.ErrConflict):
		return "Duplicate record"
	default:
		s.logger.WarnContext(ctx, "import row insert failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return "Record could not be saved"
	}
}

func readImportFile(r io.Reader) (map[string]int, [][]string, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\ufeff" {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		header  map[string]int
		records [][]string
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeValidation, "The uploaded file is not a valid CSV file.")
		}
		if isBlankRecord(record) {
			continue
		}
		if header == nil {
			header = make(map[string]int, len(record))
			for i, col := range record {
				header[normalizeColumn(col)] = i
			}
			continue
		}
		if len(records) == MaxImportRows {
			return nil, nil, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("The uploaded file exceeds the limit of %d rows.", MaxImportRows))
		}
		records = append(records, record)
	}

	if header == nil {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "The uploaded file is empty.")
	}
	var missing []string
	for _, col := range requiredImportColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, dErrors.New(dErrors.CodeValidation,
			"Invalid file structure. Missing required columns: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing_columns": missing})
	}
	if len(records) == 0 {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "The uploaded file contains no data rows.")
	}
	return header, records, nil
}

func normalizeColumn(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(v)
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type importRow struct {
	header map[string]int
	values []string
}

func (r importRow) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func (r importRow) reference() string {
	nid := r.get("national_id")
	if nid == "" {
		nid = "No ID"
	}
	return fmt.Sprintf("%s %s (%s)", r.get("first_name"), r.get("last_name"), nid)
}

func (r importRow) request() *CreatePIPRequest {
	req := &CreatePIPRequest{
		FirstName:  r.get("first_name"),
		MiddleName: r.get("middle_name"),
		LastName:   r.get("last_name"),
		NationalID: r.get("national_id"),
		PIPType:    r.get("pip_type"),
		Reason:     r.get("reason"),
	}
	if isTruthy(r.get("is_foreign")) {
		req.Foreign = &ForeignInput{
			IsForeign:       true,
			Country:         r.get("country"),
			AdditionalNotes: r.get("additional_notes"),
		}
	}
	for n := 1; n <= maxImportSlots; n++ {
		inst := "institution_" + strconv.Itoa(n) + "_"
		if name := r.get(inst + "name"); name != "" {
			req.Institutions = append(req.Institutions, InstitutionInput{
				Name:      name,
				Type:      r.get(inst + "type"),
				Position:  r.get(inst + "position"),
				StartDate: r.get(inst + "start"),
				EndDate:   r.get(inst + "end"),
			})
		}
		assoc := "associate_" + strconv.Itoa(n) + "_"
		first, last := r.get(assoc+"first"), r.get(assoc+"last")
		if first != "" && last != "" {
			req.Associates = append(req.Associates, AssociateInput{
				FirstName:    first,
				MiddleName:   r.get(assoc + "middle"),
				LastName:     last,
				Relationship: r.get(assoc + "relationship"),
				NationalID:   r.get(assoc + "national_id"),
			})
		}
	}
	return req
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}
