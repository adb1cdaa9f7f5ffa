package testutil

import (
	"net/http"

	"pipscreen/internal/access"
	"pipscreen/pkg/requestcontext"
)

// WithPrincipal attaches p to the request context the way the auth
// middleware does for an authenticated request.
func WithPrincipal(req *http.Request, p access.Principal) *http.Request {
	ctx := access.WithPrincipal(req.Context(), p)
	ctx = requestcontext.WithUserID(ctx, p.UserID)
	return req.WithContext(ctx)
}

// PrincipalMiddleware authenticates every request as p. Handler tests mount
// it in place of the JWT middleware.
func PrincipalMiddleware(p access.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, WithPrincipal(r, p))
		})
	}
}
