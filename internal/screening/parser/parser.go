// Package parser reads bulk screening uploads.
//
// CSV and XLSX files are accepted. The first non-blank line is the header;
// column names are normalized and common aliases are mapped onto the
// canonical first_name, middle_name, last_name and national_id columns.
// Structural problems are reported as validation errors before any row is
// looked at by the screening service.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"pipscreen/internal/screening/models"
	dErrors "pipscreen/pkg/domain-errors"
)

// MaxRows bounds a single upload.
const MaxRows = 10000

const (
	colFirstName  = "first_name"
	colMiddleName = "middle_name"
	colLastName   = "last_name"
	colNationalID = "national_id"
)

var requiredColumns = []string{colFirstName, colLastName}

var columnAliases = map[string]string{
	"firstname":          colFirstName,
	"first":              colFirstName,
	"given_name":         colFirstName,
	"middlename":         colMiddleName,
	"middle":             colMiddleName,
	"lastname":           colLastName,
	"surname":            colLastName,
	"last":               colLastName,
	"family_name":        colLastName,
	"nationalid":         colNationalID,
	"id_number":          colNationalID,
	"idnumber":           colNationalID,
	"national_id_number": colNationalID,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads rows from an upload. The format is chosen by the file
// extension.
func Parse(filename string, r io.Reader) ([]models.Row, error) {
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	case ".xls":
		// excelize reads only the OOXML format.
		return nil, dErrors.New(dErrors.CodeValidation,
			"Legacy Excel (.xls) files are not supported. Save the file as .xlsx or .csv and upload again.").
			WithDetails(map[string]any{"extension": ext})
	default:
		return nil, dErrors.New(dErrors.CodeValidation,
			"Invalid file format. Only CSV or Excel (.xlsx) files are allowed.").
			WithDetails(map[string]any{"extension": ext})
	}
	if err != nil {
		return nil, err
	}
	return rowsFromRecords(records)
}

// NormalizeHeader maps a raw column name onto its canonical form.
func NormalizeHeader(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	if canonical, ok := columnAliases[h]; ok {
		return canonical
	}
	return h
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "could not read uploaded file")
	}
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation,
				fmt.Sprintf("malformed CSV at line %d", perr.Line))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed CSV")
	}
	return records, nil
}

// readXLSX returns the rows of the first sheet.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "could not read spreadsheet")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "spreadsheet has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "could not read spreadsheet")
	}
	return rows, nil
}

func rowsFromRecords(records [][]string) ([]models.Row, error) {
	start := firstNonBlank(records)
	if start < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "The uploaded file is empty.")
	}

	index := make(map[string]int)
	for i, raw := range records[start] {
		name := NormalizeHeader(raw)
		if _, dup := index[name]; !dup && name != "" {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("Invalid file structure. Missing required columns: %s. Required columns are: %s",
				strings.Join(missing, ", "), strings.Join(requiredColumns, ", "))).
			WithDetails(map[string]any{"missing_columns": missing})
	}

	cell := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	rows := make([]models.Row, 0, len(records)-start-1)
	for _, record := range records[start+1:] {
		row := models.Row{
			FirstName:  cell(record, colFirstName),
			MiddleName: cell(record, colMiddleName),
			LastName:   cell(record, colLastName),
			NationalID: cell(record, colNationalID),
		}.Normalized()
		if row.IsBlank() {
			continue
		}
		rows = append(rows, row)
		if len(rows) > MaxRows {
			return nil, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("The uploaded file has more than %d rows.", MaxRows))
		}
	}
	if len(rows) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "The uploaded file contains no data rows.")
	}
	return rows, nil
}

func firstNonBlank(records [][]string) int {
	for i, record := range records {
		for _, v := range record {
			if strings.TrimSpace(v) != "" {
				return i
			}
		}
	}
	return -1
}
