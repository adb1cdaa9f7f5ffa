// Package access models the authenticated caller and the single capability
// check that decides whether they see the whole registry.
package access

import (
	"context"
	"strings"

	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
)

const (
	PermissionDataCapturer = "data_capturer"
	roleAdmin              = "admin"
	roleDataCapturer       = "data capturer"
)

// Principal is the caller of a request, resolved once by the auth middleware.
type Principal struct {
	UserID         id.UserID
	OrganisationID id.OrganisationID
	IsSystemAdmin  bool
	Roles          []string
	Permissions    []string

	// Elevated caches HasElevatedAccess for the lifetime of the request.
	Elevated bool
}

// NewPrincipal builds a Principal and computes its capability once.
func NewPrincipal(userID id.UserID, orgID id.OrganisationID, systemAdmin bool, roles, permissions []string) Principal {
	p := Principal{
		UserID:         userID,
		OrganisationID: orgID,
		IsSystemAdmin:  systemAdmin,
		Roles:          roles,
		Permissions:    permissions,
	}
	p.Elevated = HasElevatedAccess(p)
	return p
}

// HasElevatedAccess reports whether p may see inactive records, list the
// whole corpus and maintain the registry. System admins, holders of the
// data_capturer permission, any role naming "data capturer" and the admin
// role qualify.
func HasElevatedAccess(p Principal) bool {
	if p.IsSystemAdmin {
		return true
	}
	for _, perm := range p.Permissions {
		if strings.EqualFold(strings.TrimSpace(perm), PermissionDataCapturer) {
			return true
		}
	}
	for _, role := range p.Roles {
		r := strings.ToLower(strings.TrimSpace(role))
		if r == roleAdmin || strings.Contains(r, roleDataCapturer) {
			return true
		}
	}
	return false
}

// ResolveOrganisation picks the organisation a quota-bearing operation is
// charged to. Elevated callers may name one explicitly; everyone else is
// bound to their own and may not charge another organisation.
func ResolveOrganisation(p Principal, requested id.OrganisationID) (id.OrganisationID, error) {
	if !requested.IsNil() {
		if requested != p.OrganisationID && !p.Elevated {
			return id.OrganisationID{}, dErrors.New(dErrors.CodeForbidden, "cannot act on behalf of another organisation")
		}
		return requested, nil
	}
	if p.OrganisationID.IsNil() {
		if p.Elevated {
			return id.OrganisationID{}, dErrors.New(dErrors.CodeBadRequest, "organisation_id is required for this operation")
		}
		return id.OrganisationID{}, dErrors.New(dErrors.CodeForbidden, "user is not associated with an organisation")
	}
	return p.OrganisationID, nil
}

// RequireElevated fails with CodeForbidden unless p has elevated access.
func RequireElevated(p Principal) error {
	if !p.Elevated {
		return dErrors.New(dErrors.CodeForbidden, "insufficient privileges")
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the request principal set by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// FromRequestContext returns the principal or CodeUnauthorized when the auth
// middleware did not run.
func FromRequestContext(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}
