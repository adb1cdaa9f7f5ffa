package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipscreen/internal/access"
	ratelimitmodels "pipscreen/internal/ratelimit/models"
	id "pipscreen/pkg/domain"
	authmw "pipscreen/pkg/platform/middleware/auth"
	"pipscreen/pkg/platform/middleware/request"
	"pipscreen/pkg/platform/secrets"
	"pipscreen/pkg/testutil"
)

type fakeValidator struct{}

func (fakeValidator) ValidateToken(token string) (*authmw.JWTClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return &authmw.JWTClaims{UserID: id.NewUserID().String(), OrganisationID: id.NewOrganisationID().String()}, nil
}

type registrarFunc func(r chi.Router)

func (f registrarFunc) Register(r chi.Router) { f(r) }

func whoAmI() Registrar {
	return registrarFunc(func(r chi.Router) {
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			if _, err := access.FromRequestContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func adminPing() Registrar {
	return registrarFunc(func(r chi.Router) {
		r.Get("/admin/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

// blockingLimiter rejects every request in the classes it names.
type blockingLimiter map[ratelimitmodels.EndpointClass]bool

func (b blockingLimiter) Limit(class ratelimitmodels.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !b[class] {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
}

func limitedPing() Registrar {
	return registrarFunc(func(r chi.Router) {
		r.Get("/limited", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	return NewRouter(Deps{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validator:   fakeValidator{},
		AdminToken:  "s3cret",
		RateLimiter: blockingLimiter{ratelimitmodels.ClassBulk: true},
		Authenticated: []Mount{
			{Registrar: whoAmI(), Class: ratelimitmodels.ClassSearch},
			{Registrar: limitedPing(), Class: ratelimitmodels.ClassBulk},
		},
		Admin:        []Registrar{adminPing()},
		HealthChecks: checks,
	})
}

func get(router http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return testutil.DoRequest(router, req)
}

func TestRouter(t *testing.T) {
	testutil.Given(t, "a router with one authenticated and one admin route", func(t *testing.T) {
		router := newTestRouter(nil)

		testutil.When(t, "a request has no bearer token", func(t *testing.T) {
			rec := get(router, "/whoami", nil)
			testutil.Then(t, "it is rejected before the handler", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")
			})
			testutil.Then(t, "a request id is still echoed", func(t *testing.T) {
				assert.NotEmpty(t, rec.Header().Get(request.HeaderRequestID))
			})
		})

		testutil.When(t, "a request carries a valid bearer token", func(t *testing.T) {
			rec := get(router, "/whoami", map[string]string{"Authorization": "Bearer good"})
			testutil.Then(t, "the handler sees a principal", func(t *testing.T) {
				assert.Equal(t, http.StatusNoContent, rec.Code)
			})
		})

		testutil.When(t, "a route's budget class is exhausted", func(t *testing.T) {
			rec := get(router, "/limited", map[string]string{"Authorization": "Bearer good"})
			testutil.Then(t, "only that group is limited", func(t *testing.T) {
				assert.Equal(t, http.StatusTooManyRequests, rec.Code)
				assert.Equal(t, http.StatusNoContent, get(router, "/whoami", map[string]string{"Authorization": "Bearer good"}).Code)
			})
		})

		testutil.When(t, "a limited route is called without a token", func(t *testing.T) {
			rec := get(router, "/limited", nil)
			testutil.Then(t, "authentication runs first", func(t *testing.T) {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		testutil.When(t, "an admin route is called with a bearer token only", func(t *testing.T) {
			rec := get(router, "/admin/ping", map[string]string{"Authorization": "Bearer good"})
			testutil.Then(t, "the admin token is still required", func(t *testing.T) {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		testutil.When(t, "an admin route is called with the admin token", func(t *testing.T) {
			rec := get(router, "/admin/ping", map[string]string{"X-Admin-Token": "s3cret"})
			testutil.Then(t, "it is served", func(t *testing.T) {
				assert.Equal(t, http.StatusNoContent, rec.Code)
			})
		})
	})
}

func TestRouterAdminTokenHash(t *testing.T) {
	hash, err := secrets.Hash("rotated")
	require.NoError(t, err)
	router := NewRouter(Deps{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validator:      fakeValidator{},
		AdminToken:     "s3cret",
		AdminTokenHash: hash,
		Admin:          []Registrar{adminPing()},
	})

	rec := get(router, "/admin/ping", map[string]string{"X-Admin-Token": "rotated"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = get(router, "/admin/ping", map[string]string{"X-Admin-Token": "s3cret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the hash replaces the plaintext token")
}

func TestHealth(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rec := get(router, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())
	})

	t.Run("a failing check degrades", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
		})
		rec := get(router, "/health", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"unavailable"}}`, rec.Body.String())
	})

	t.Run("no checks configured", func(t *testing.T) {
		rec := get(newTestRouter(nil), "/health", nil)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})
}
