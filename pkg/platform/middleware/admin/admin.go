package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/platform/secrets"
	"pipscreen/pkg/requestcontext"
)

// RequireAdminToken guards operator endpoints with a shared X-Admin-Token.
// An empty expected token disables the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireToken(logger, func(token string) bool {
		// Use constant-time comparison to prevent timing attacks
		return expectedToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1
	})
}

// RequireAdminTokenHash is RequireAdminToken for a bcrypt hash of the token,
// so the plaintext never sits in configuration.
func RequireAdminTokenHash(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireToken(logger, func(token string) bool {
		return tokenHash != "" && token != "" && secrets.Verify(token, tokenHash) == nil
	})
}

func requireToken(logger *slog.Logger, valid func(token string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !valid(r.Header.Get("X-Admin-Token")) {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
