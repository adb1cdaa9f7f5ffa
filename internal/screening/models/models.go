package models

import (
	"strings"
	"time"

	quotamodels "pipscreen/internal/quota/models"
	registrymodels "pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
)

// Row is one identity from an uploaded screening file.
type Row struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
	NationalID string `json:"national_id,omitempty"`
}

// Normalized returns a copy with every field trimmed.
func (r Row) Normalized() Row {
	return Row{
		FirstName:  strings.TrimSpace(r.FirstName),
		MiddleName: strings.TrimSpace(r.MiddleName),
		LastName:   strings.TrimSpace(r.LastName),
		NationalID: strings.TrimSpace(r.NationalID),
	}
}

// IsComplete reports whether the row carries the required name fields.
func (r Row) IsComplete() bool {
	return strings.TrimSpace(r.FirstName) != "" && strings.TrimSpace(r.LastName) != ""
}

// IsBlank reports whether every field is empty.
func (r Row) IsBlank() bool {
	return strings.TrimSpace(r.FirstName) == "" &&
		strings.TrimSpace(r.MiddleName) == "" &&
		strings.TrimSpace(r.LastName) == "" &&
		strings.TrimSpace(r.NationalID) == ""
}

// FullName joins the populated name fields.
func (r Row) FullName() string {
	return strings.Join(r.names(), " ")
}

// MatchQuery turns the row into corpus lookup tokens. Each populated name
// field is one token; the national id is the only identifier token.
func (r Row) MatchQuery() registrymodels.MatchQuery {
	q := registrymodels.MatchQuery{NameTokens: r.names()}
	if nid := strings.TrimSpace(r.NationalID); nid != "" {
		q.IdentifierTokens = []string{nid}
	}
	return q
}

// Words splits every populated field into whitespace-delimited words,
// keeping their original spelling.
func (r Row) Words() []string {
	var out []string
	for _, f := range []string{r.FirstName, r.MiddleName, r.LastName, r.NationalID} {
		out = append(out, strings.Fields(f)...)
	}
	return out
}

// Description is the audit text stored for the i-th (0-based) row.
func (r Row) Description(i int) string {
	return quotamodels.BatchDescription(i, r.FirstName, r.MiddleName, r.LastName, r.NationalID)
}

func (r Row) names() []string {
	out := make([]string, 0, 3)
	for _, n := range []string{r.FirstName, r.MiddleName, r.LastName} {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// BulkInfo summarises one bulk screening.
type BulkInfo struct {
	TotalSearched     int                 `json:"total_searched"`
	TotalMatches      int                 `json:"total_matches"`
	RecordsProcessed  int                 `json:"records_processed"`
	UnmatchedKeywords []string            `json:"unmatched_keywords"`
	Suggestions       map[string][]string `json:"suggestions,omitempty"`
}

// BulkResult is what a bulk screening returns.
type BulkResult struct {
	Results   []registrymodels.Result `json:"results"`
	LimitInfo *quotamodels.LimitInfo  `json:"limit_info,omitempty"`
	BulkInfo  BulkInfo                `json:"bulk_info"`
}

// Stage is where a bulk screening job currently is.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageResolving  Stage = "resolving"
	StageCommitting Stage = "committing"
	StageHydrating  Stage = "hydrating"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// IsTerminal reports whether the job has finished either way.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Progress is the server-side view of a bulk screening job.
type Progress struct {
	JobID          string            `json:"job_id"`
	OrganisationID id.OrganisationID `json:"organisation_id"`
	Total          int               `json:"total"`
	Processed      int               `json:"processed"`
	Stage          Stage             `json:"stage"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Percent is the share of rows resolved so far, 0-100.
func (p Progress) Percent() int {
	if p.Stage == StageDone {
		return 100
	}
	if p.Total <= 0 {
		return 0
	}
	return min(100, p.Processed*100/p.Total)
}
