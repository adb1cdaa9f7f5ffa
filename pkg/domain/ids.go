// Package domain holds the identifier types and small value objects shared by
// every bounded context.
//
// IDs are distinct named types over uuid.UUID so a PIPID can never be passed
// where an OrganisationID is expected. Parse at trust boundaries; New* for
// freshly minted identifiers.
package domain

import (
	"github.com/google/uuid"

	dErrors "pipscreen/pkg/domain-errors"
)

type (
	UserID         uuid.UUID
	OrganisationID uuid.UUID
	PackageID      uuid.UUID
	PIPID          uuid.UUID
	AssociateID    uuid.UUID
	InstitutionID  uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	if len(s) > 45 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

func ParseOrganisationID(s string) (OrganisationID, error) {
	u, err := parseUUID(s, "organisation_id")
	return OrganisationID(u), err
}

func ParsePackageID(s string) (PackageID, error) {
	u, err := parseUUID(s, "package_id")
	return PackageID(u), err
}

func ParsePIPID(s string) (PIPID, error) {
	u, err := parseUUID(s, "pip_id")
	return PIPID(u), err
}

func ParseAssociateID(s string) (AssociateID, error) {
	u, err := parseUUID(s, "associate_id")
	return AssociateID(u), err
}

func NewUserID() UserID                 { return UserID(uuid.New()) }
func NewOrganisationID() OrganisationID { return OrganisationID(uuid.New()) }
func NewPackageID() PackageID           { return PackageID(uuid.New()) }
func NewPIPID() PIPID                   { return PIPID(uuid.New()) }
func NewAssociateID() AssociateID       { return AssociateID(uuid.New()) }
func NewInstitutionID() InstitutionID   { return InstitutionID(uuid.New()) }

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id OrganisationID) String() string { return uuid.UUID(id).String() }
func (id PackageID) String() string      { return uuid.UUID(id).String() }
func (id PIPID) String() string          { return uuid.UUID(id).String() }
func (id AssociateID) String() string    { return uuid.UUID(id).String() }
func (id InstitutionID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id OrganisationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PackageID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PIPID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id AssociateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id InstitutionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// The named types drop uuid.UUID's methods, so JSON encoding is restored
// explicitly; otherwise IDs would serialize as byte arrays.

func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id OrganisationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id PackageID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id PIPID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id AssociateID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id InstitutionID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OrganisationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PackageID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PIPID) UnmarshalText(b []byte) error          { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AssociateID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *InstitutionID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
