package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	id "pipscreen/pkg/domain"
)

// UnlimitedLabel is how an uncapped limit or remaining allowance is rendered.
const UnlimitedLabel = "Unlimited"

// NoPackageName is reported for organisations without an assigned package.
const NoPackageName = "none"

// Class is a quota class. Single and batch allowances are independent.
type Class string

const (
	ClassSingle Class = "single"
	ClassBatch  Class = "batch"
)

// Limit is a package ceiling. The zero value is unlimited.
type Limit struct {
	capped bool
	value  int
}

func Unlimited() Limit { return Limit{} }

// Capped returns a finite limit. Negative values are treated as zero.
func Capped(n int) Limit {
	return Limit{capped: true, value: max(0, n)}
}

// LimitFromNullable maps a nullable package column onto a Limit.
func LimitFromNullable(v *int) Limit {
	if v == nil {
		return Unlimited()
	}
	return Capped(*v)
}

func (l Limit) IsUnlimited() bool { return !l.capped }

// Value returns the ceiling; meaningless when unlimited.
func (l Limit) Value() int { return l.value }

// Remaining computes max(0, limit - done), or Unlimited.
func (l Limit) Remaining(done int) Remaining {
	if !l.capped {
		return Remaining{unlimited: true}
	}
	return Remaining{count: max(0, l.value-done)}
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.capped {
		return json.Marshal(UnlimitedLabel)
	}
	return json.Marshal(l.value)
}

func (l Limit) String() string {
	if !l.capped {
		return UnlimitedLabel
	}
	return fmt.Sprintf("%d", l.value)
}

// Remaining is an allowance left in a class: a count or Unlimited.
type Remaining struct {
	unlimited bool
	count     int
}

func (r Remaining) IsUnlimited() bool { return r.unlimited }

// Count returns the finite remaining allowance; meaningless when unlimited.
func (r Remaining) Count() int { return r.count }

// Covers reports whether n more units fit.
func (r Remaining) Covers(n int) bool {
	return r.unlimited || r.count >= n
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.unlimited {
		return json.Marshal(UnlimitedLabel)
	}
	return json.Marshal(r.count)
}

func (r Remaining) String() string {
	if r.unlimited {
		return UnlimitedLabel
	}
	return fmt.Sprintf("%d", r.count)
}

// Package is the slice of a tier definition the ledger needs.
type Package struct {
	ID          id.PackageID
	Name        string
	SingleLimit Limit
	BatchLimit  Limit
}

// Limits are the effective ceilings for an organisation.
type Limits struct {
	Package string
	Single  Limit
	Batch   Limit
}

// LimitsFor derives effective limits. An organisation without a package has
// zero allowance in both classes.
func LimitsFor(pkg *Package) Limits {
	if pkg == nil {
		return Limits{Package: NoPackageName, Single: Capped(0), Batch: Capped(0)}
	}
	name := pkg.Name
	if strings.TrimSpace(name) == "" {
		name = NoPackageName
	}
	return Limits{Package: name, Single: pkg.SingleLimit, Batch: pkg.BatchLimit}
}

// Consumption is what an organisation has used so far.
type Consumption struct {
	SingleDone int `json:"single_done"`
	BatchDone  int `json:"batch_done"`
}

// ClassUsage is one quota class as rendered to clients.
type ClassUsage struct {
	Limit     Limit     `json:"limit"`
	Consumed  int       `json:"consumed"`
	Remaining Remaining `json:"remaining"`
}

// LimitInfo is the usage snapshot surfaced with every search response and
// with quota errors.
type LimitInfo struct {
	Package string     `json:"package"`
	Single  ClassUsage `json:"single"`
	Batch   ClassUsage `json:"batch"`
}

// NewLimitInfo combines limits and consumption.
func NewLimitInfo(l Limits, c Consumption) LimitInfo {
	return LimitInfo{
		Package: l.Package,
		Single:  ClassUsage{Limit: l.Single, Consumed: c.SingleDone, Remaining: l.Single.Remaining(c.SingleDone)},
		Batch:   ClassUsage{Limit: l.Batch, Consumed: c.BatchDone, Remaining: l.Batch.Remaining(c.BatchDone)},
	}
}

// Decision is the outcome of an advisory quota check.
type Decision struct {
	Allowed   bool
	Remaining Remaining
	Info      LimitInfo
}

// SearchLogEntry is one append-only record of a search. Single-class
// consumption is the count of non-bulk entries for an organisation.
type SearchLogEntry struct {
	ID             string            `json:"id"`
	UserID         id.UserID         `json:"user_id"`
	OrganisationID id.OrganisationID `json:"organisation_id"`
	Query          string            `json:"search_query"`
	Result         json.RawMessage   `json:"search_result,omitempty"`
	IsBulk         bool              `json:"is_bulk_search"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Batch is the set of batch screening entries produced by one upload. One
// entry is written per description.
type Batch struct {
	UserID         id.UserID
	OrganisationID id.OrganisationID
	Descriptions   []string
	ScreenedAt     time.Time
}

// BatchEntry is one stored unit of batch consumption.
type BatchEntry struct {
	ID             string
	UserID         id.UserID
	OrganisationID id.OrganisationID
	Description    string
	ScreenedAt     time.Time
}

// BatchDescription renders the audit description for the i-th (0-based)
// uploaded row.
func BatchDescription(i int, first, middle, last, nationalID string) string {
	if strings.TrimSpace(nationalID) == "" {
		nationalID = "No ID"
	}
	return fmt.Sprintf("Bulk search row %d: %s %s %s (%s)", i+1, first, middle, last, nationalID)
}
