package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"pipscreen/internal/access"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID         string
	OrganisationID string
	IsSystemAdmin  bool
	Roles          []string
	Permissions    []string
	JTI            string
}

// Principal parses the claim identifiers and computes the caller's
// capability. An empty organisation is allowed for system administrators
// and unaffiliated users.
func (c *JWTClaims) Principal() (access.Principal, error) {
	userID, err := id.ParseUserID(c.UserID)
	if err != nil {
		return access.Principal{}, err
	}
	var orgID id.OrganisationID
	if c.OrganisationID != "" {
		if orgID, err = id.ParseOrganisationID(c.OrganisationID); err != nil {
			return access.Principal{}, err
		}
	}
	return access.NewPrincipal(userID, orgID, c.IsSystemAdmin, c.Roles, c.Permissions), nil
}

// RequireAuth validates the bearer token and stores the resulting principal
// in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			p, err := claims.Principal()
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed claims",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid token claims"))
				return
			}

			ctx = access.WithPrincipal(ctx, p)
			ctx = requestcontext.WithUserID(ctx, p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
