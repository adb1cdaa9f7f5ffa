package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	platformmetrics "pipscreen/internal/platform/metrics"
	ratelimitmodels "pipscreen/internal/ratelimit/models"
	"pipscreen/pkg/platform/httputil"
	adminmw "pipscreen/pkg/platform/middleware/admin"
	authmw "pipscreen/pkg/platform/middleware/auth"
	"pipscreen/pkg/platform/middleware/metadata"
	"pipscreen/pkg/platform/middleware/request"
	"pipscreen/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Mount is an authenticated registrar and the request budget its routes
// draw from. An empty Class leaves the routes unlimited.
type Mount struct {
	Registrar Registrar
	Class     ratelimitmodels.EndpointClass
}

// RateLimiter wraps a route group in a per-caller request budget.
type RateLimiter interface {
	Limit(class ratelimitmodels.EndpointClass) func(http.Handler) http.Handler
}

// HealthCheck checks one backing dependency.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs. Authenticated registrars sit behind
// bearer JWT auth; admin registrars behind the shared admin token.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *platformmetrics.Metrics
	MetricsHandler http.Handler
	Validator      authmw.JWTValidator
	AdminToken     string
	// AdminTokenHash, when set, takes precedence over AdminToken.
	AdminTokenHash string
	RateLimiter    RateLimiter
	Authenticated  []Mount
	Admin          []Registrar
	HealthChecks   map[string]HealthCheck
}

// NewRouter builds the HTTP surface. Middleware order: request id first so
// every later log line carries it, recovery before anything that may panic.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(d.HealthChecks))
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.Validator, d.Logger))
		for _, m := range d.Authenticated {
			r.Group(func(r chi.Router) {
				if d.RateLimiter != nil && m.Class != "" {
					r.Use(d.RateLimiter.Limit(m.Class))
				}
				m.Registrar.Register(r)
			})
		}
	})

	r.Group(func(r chi.Router) {
		if d.AdminTokenHash != "" {
			r.Use(adminmw.RequireAdminTokenHash(d.AdminTokenHash, d.Logger))
		} else {
			r.Use(adminmw.RequireAdminToken(d.AdminToken, d.Logger))
		}
		for _, reg := range d.Admin {
			reg.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
