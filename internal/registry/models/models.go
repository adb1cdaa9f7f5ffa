package models

import (
	"strings"
	"time"

	id "pipscreen/pkg/domain"
)

// Type classifies a PIP by the jurisdiction of their influence.
type Type string

const (
	TypeDomestic      Type = "Domestic PIP"
	TypeForeign       Type = "Foreign PIP"
	TypeInternational Type = "International Organisation PIP"
)

// NormalizeType maps free-text classifications from data capture and CSV
// imports onto the three supported types. Anything unrecognised is Domestic.
func NormalizeType(raw string) Type {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case v == "":
		return TypeDomestic
	case strings.Contains(v, "international") || strings.Contains(v, "organisation") || strings.Contains(v, "organization"):
		return TypeInternational
	case strings.Contains(v, "foreign"):
		return TypeForeign
	default:
		return TypeDomestic
	}
}

// Relationship is how an associate is related to their PIP.
type Relationship string

const (
	RelationshipSpouse          Relationship = "spouse"
	RelationshipChild           Relationship = "child"
	RelationshipParent          Relationship = "parent"
	RelationshipSibling         Relationship = "sibling"
	RelationshipBusinessPartner Relationship = "business_partner"
	RelationshipOther           Relationship = "other"
)

// NormalizeRelationship maps free text onto a Relationship, defaulting to other.
func NormalizeRelationship(raw string) Relationship {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch Relationship(v) {
	case RelationshipSpouse, RelationshipChild, RelationshipParent, RelationshipSibling, RelationshipBusinessPartner:
		return Relationship(v)
	case "wife", "husband", "partner":
		return RelationshipSpouse
	case "son", "daughter":
		return RelationshipChild
	case "mother", "father":
		return RelationshipParent
	case "brother", "sister":
		return RelationshipSibling
	case "business_associate", "associate":
		return RelationshipBusinessPartner
	default:
		return RelationshipOther
	}
}

// DefaultCountry is reported for PIPs without a foreign attachment.
const DefaultCountry = "Namibia"

// PIP is a primary registry subject. Records are never hard-deleted; IsActive
// is the soft toggle.
//
// Associates and Institutions are owned collections. Updates replace them
// wholesale, so their IDs are not stable across edits.
type PIP struct {
	ID           id.PIPID       `json:"id"`
	FirstName    string         `json:"first_name"`
	MiddleName   string         `json:"middle_name,omitempty"`
	LastName     string         `json:"last_name"`
	NationalID   string         `json:"national_id,omitempty"`
	Type         Type           `json:"pip_type"`
	Reason       string         `json:"reason"`
	IsActive     bool           `json:"is_active"`
	Foreign      *ForeignDetail `json:"foreign,omitempty"`
	Associates   []Associate    `json:"associates"`
	Institutions []Institution  `json:"institutions"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// FullName joins the populated name parts with single spaces.
func (p *PIP) FullName() string {
	parts := make([]string, 0, 3)
	for _, n := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// IsForeign reports whether the record carries a foreign-country attachment.
func (p *PIP) IsForeign() bool {
	return p.Foreign != nil
}

// Country returns the foreign country or DefaultCountry.
func (p *PIP) Country() string {
	if p.Foreign != nil && strings.TrimSpace(p.Foreign.Country) != "" {
		return p.Foreign.Country
	}
	return DefaultCountry
}

// Position joins the positions held across institutions.
func (p *PIP) Position() string {
	positions := make([]string, 0, len(p.Institutions))
	for _, inst := range p.Institutions {
		if pos := strings.TrimSpace(inst.Position); pos != "" {
			positions = append(positions, pos)
		}
	}
	return strings.Join(positions, ", ")
}

// ForeignDetail is attached to PIPs whose influence lies outside Namibia.
type ForeignDetail struct {
	Country         string `json:"country"`
	AdditionalNotes string `json:"additional_notes,omitempty"`
}

// Associate is a person linked to exactly one PIP.
type Associate struct {
	ID           id.AssociateID `json:"id"`
	FullName     string         `json:"full_name"`
	Relationship Relationship   `json:"relationship_type"`
	NationalID   string         `json:"national_id,omitempty"`
}

// IsBlank reports whether the entry carries no usable data. Blank entries
// are skipped when a collection is replaced.
func (a Associate) IsBlank() bool {
	return strings.TrimSpace(a.FullName) == "" && strings.TrimSpace(a.NationalID) == ""
}

// Institution is a position a PIP holds or held at an organisation.
type Institution struct {
	ID        id.InstitutionID `json:"id"`
	Name      string           `json:"institution_name"`
	Type      string           `json:"institution_type,omitempty"`
	Position  string           `json:"position,omitempty"`
	StartDate *time.Time       `json:"start_date,omitempty"`
	EndDate   *time.Time       `json:"end_date,omitempty"`
}

func (i Institution) IsBlank() bool {
	return strings.TrimSpace(i.Name) == "" && strings.TrimSpace(i.Position) == ""
}

// MatchQuery is a tokenized lookup against the corpus. A record matches when
// any name token is a substring of one of its names, or any identifier token
// is a substring of its national identifier.
type MatchQuery struct {
	NameTokens       []string
	IdentifierTokens []string
}

// IsEmpty reports whether the query has nothing to match on.
func (q MatchQuery) IsEmpty() bool {
	return len(q.NameTokens) == 0 && len(q.IdentifierTokens) == 0
}

// Normalized returns a copy with tokens trimmed, lowercased, and blanks removed.
func (q MatchQuery) Normalized() MatchQuery {
	return MatchQuery{
		NameTokens:       normalizeTokens(q.NameTokens),
		IdentifierTokens: normalizeTokens(q.IdentifierTokens),
	}
}

func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Result is a hydrated PIP as returned to search callers, with its
// similarity score against the query.
type Result struct {
	PIP
	FullName    string `json:"full_name"`
	Position    string `json:"position"`
	CountryName string `json:"country"`
	Score       int    `json:"score"`
}

// NewResult hydrates the derived presentation fields of p.
func NewResult(p PIP, score int) Result {
	return Result{
		PIP:         p,
		FullName:    p.FullName(),
		Position:    p.Position(),
		CountryName: p.Country(),
		Score:       score,
	}
}
