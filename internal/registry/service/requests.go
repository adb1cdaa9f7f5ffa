package service

import (
	"strconv"
	"strings"
	"time"

	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
)

const (
	dateLayout       = "2006-01-02"
	maxNameLength    = 100
	maxReasonLength  = 2000
	maxCollectionLen = 50
)

// AssociateInput describes an associate. FullName wins over the split name
// parts when both are given.
type AssociateInput struct {
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name"`
	LastName     string `json:"last_name"`
	FullName     string `json:"full_name"`
	Relationship string `json:"relationship_type"`
	NationalID   string `json:"national_id"`
}

func (a AssociateInput) toModel() models.Associate {
	name := strings.TrimSpace(a.FullName)
	if name == "" {
		name = joinName(a.FirstName, a.MiddleName, a.LastName)
	}
	return models.Associate{
		ID:           id.NewAssociateID(),
		FullName:     name,
		Relationship: models.NormalizeRelationship(a.Relationship),
		NationalID:   strings.TrimSpace(a.NationalID),
	}
}

// InstitutionInput describes an institution affiliation. Dates are YYYY-MM-DD.
type InstitutionInput struct {
	Name      string `json:"institution_name"`
	Type      string `json:"institution_type"`
	Position  string `json:"position"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (in InstitutionInput) toModel(field string) (models.Institution, error) {
	start, err := parseDate(in.StartDate, field+".start_date")
	if err != nil {
		return models.Institution{}, err
	}
	end, err := parseDate(in.EndDate, field+".end_date")
	if err != nil {
		return models.Institution{}, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return models.Institution{}, dErrors.New(dErrors.CodeValidation, field+".end_date must not be before start_date")
	}
	return models.Institution{
		ID:        id.NewInstitutionID(),
		Name:      strings.TrimSpace(in.Name),
		Type:      strings.TrimSpace(in.Type),
		Position:  strings.TrimSpace(in.Position),
		StartDate: start,
		EndDate:   end,
	}, nil
}

// ForeignInput attaches or detaches foreign detail.
type ForeignInput struct {
	IsForeign       bool   `json:"is_foreign"`
	Country         string `json:"country"`
	AdditionalNotes string `json:"additional_notes"`
}

func (f *ForeignInput) toModel() (*models.ForeignDetail, error) {
	if f == nil || !f.IsForeign {
		return nil, nil
	}
	country := strings.TrimSpace(f.Country)
	if country == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "foreign.country is required for foreign PIPs")
	}
	return &models.ForeignDetail{Country: country, AdditionalNotes: strings.TrimSpace(f.AdditionalNotes)}, nil
}

// CreatePIPRequest is the body of POST /pips.
type CreatePIPRequest struct {
	FirstName    string             `json:"first_name"`
	MiddleName   string             `json:"middle_name"`
	LastName     string             `json:"last_name"`
	NationalID   string             `json:"national_id"`
	PIPType      string             `json:"pip_type"`
	Reason       string             `json:"reason"`
	IsActive     *bool              `json:"is_active"`
	Foreign      *ForeignInput      `json:"foreign"`
	Associates   []AssociateInput   `json:"associates"`
	Institutions []InstitutionInput `json:"institutions"`
}

// Validate implements httputil.Validatable.
func (r *CreatePIPRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.MiddleName = strings.TrimSpace(r.MiddleName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.Reason = strings.TrimSpace(r.Reason)

	if len(r.Associates) > maxCollectionLen || len(r.Institutions) > maxCollectionLen {
		return dErrors.New(dErrors.CodeValidation, "too many associates or institutions")
	}
	return validateCore(r.FirstName, r.MiddleName, r.LastName, r.Reason)
}

// build turns a validated request into a new record stamped at now.
func (r *CreatePIPRequest) build(now time.Time) (*models.PIP, error) {
	foreign, err := r.Foreign.toModel()
	if err != nil {
		return nil, err
	}
	institutions, err := buildInstitutions(r.Institutions)
	if err != nil {
		return nil, err
	}
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &models.PIP{
		ID:           id.NewPIPID(),
		FirstName:    r.FirstName,
		MiddleName:   r.MiddleName,
		LastName:     r.LastName,
		NationalID:   r.NationalID,
		Type:         models.NormalizeType(r.PIPType),
		Reason:       r.Reason,
		IsActive:     active,
		Foreign:      foreign,
		Associates:   buildAssociates(r.Associates),
		Institutions: institutions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdatePIPRequest is the body of PATCH /pips/{id}. Nil fields are left
// untouched. Associates and Institutions, when present, replace the whole
// collection; an empty list clears it.
type UpdatePIPRequest struct {
	FirstName    *string             `json:"first_name"`
	MiddleName   *string             `json:"middle_name"`
	LastName     *string             `json:"last_name"`
	NationalID   *string             `json:"national_id"`
	PIPType      *string             `json:"pip_type"`
	Reason       *string             `json:"reason"`
	IsActive     *bool               `json:"is_active"`
	Foreign      *ForeignInput       `json:"foreign"`
	Associates   *[]AssociateInput   `json:"associates"`
	Institutions *[]InstitutionInput `json:"institutions"`
}

// Validate implements httputil.Validatable. Required fields are checked
// against the merged record in the service.
func (r *UpdatePIPRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Associates != nil && len(*r.Associates) > maxCollectionLen {
		return dErrors.New(dErrors.CodeValidation, "too many associates")
	}
	if r.Institutions != nil && len(*r.Institutions) > maxCollectionLen {
		return dErrors.New(dErrors.CodeValidation, "too many institutions")
	}
	return nil
}

// apply overwrites the scalar fields of p that the request carries.
func (r *UpdatePIPRequest) apply(p *models.PIP) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&p.FirstName, r.FirstName)
	set(&p.MiddleName, r.MiddleName)
	set(&p.LastName, r.LastName)
	set(&p.NationalID, r.NationalID)
	set(&p.Reason, r.Reason)
	if r.PIPType != nil {
		p.Type = models.NormalizeType(*r.PIPType)
	}
	if r.IsActive != nil {
		p.IsActive = *r.IsActive
	}
}

func validateCore(first, middle, last, reason string) error {
	var missing []string
	if first == "" {
		missing = append(missing, "first_name")
	}
	if last == "" {
		missing = append(missing, "last_name")
	}
	if reason == "" {
		missing = append(missing, "reason")
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeValidation, "Missing required fields: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing_fields": missing})
	}
	for _, n := range []string{first, middle, last} {
		if len(n) > maxNameLength {
			return dErrors.New(dErrors.CodeValidation, "names must be at most "+strconv.Itoa(maxNameLength)+" characters")
		}
	}
	if len(reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most "+strconv.Itoa(maxReasonLength)+" characters")
	}
	return nil
}

func buildAssociates(in []AssociateInput) []models.Associate {
	out := make([]models.Associate, 0, len(in))
	for _, a := range in {
		m := a.toModel()
		if m.IsBlank() {
			continue
		}
		out = append(out, m)
	}
	return out
}

func buildInstitutions(in []InstitutionInput) ([]models.Institution, error) {
	out := make([]models.Institution, 0, len(in))
	for i, inst := range in {
		m, err := inst.toModel("institutions[" + strconv.Itoa(i) + "]")
		if err != nil {
			return nil, err
		}
		if m.IsBlank() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func parseDate(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be a date in YYYY-MM-DD format")
	}
	return &t, nil
}

func joinName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
