package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pipscreen/internal/access"
	quotamodels "pipscreen/internal/quota/models"
	"pipscreen/internal/search/service"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/requestcontext"
)

const maxHistoryLimit = 200

// Searcher runs interactive searches.
type Searcher interface {
	Search(ctx context.Context, req service.Request) (*service.Response, error)
}

// Usage exposes the quota ledger to the dashboard endpoints.
type Usage interface {
	LimitInfo(ctx context.Context, orgID id.OrganisationID) (quotamodels.LimitInfo, error)
	ListSearchLogs(ctx context.Context, orgID id.OrganisationID, limit int) ([]quotamodels.SearchLogEntry, error)
}

// Handler serves interactive search and the usage dashboard.
type Handler struct {
	search Searcher
	usage  Usage
	logger *slog.Logger
}

func New(search Searcher, usage Usage, logger *slog.Logger) *Handler {
	return &Handler{search: search, usage: usage, logger: logger}
}

// Register mounts the routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/pips/search", h.handleSearch)
	r.Get("/screening/usage", h.handleUsage)
	r.Get("/screening/history", h.handleHistory)
}

type historyResponse struct {
	Logs []quotamodels.SearchLogEntry `json:"logs"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	q := r.URL.Query()
	facet := id.FacetOrAll(q.Get("filter"))
	orgID, err := optionalOrganisation(q.Get("organisation_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	minScore, err := parseMinScore(q.Get("min_score"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.search.Search(ctx, service.Request{
		Principal:      p,
		OrganisationID: orgID,
		Query:          q.Get("q"),
		Facet:          facet,
		MinScore:       minScore,
	})
	if err != nil {
		h.logFailure(ctx, "search failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.resolveOrganisation(w, r)
	if !ok {
		return
	}
	info, err := h.usage.LimitInfo(ctx, orgID)
	if err != nil {
		h.logFailure(ctx, "usage lookup failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.resolveOrganisation(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	logs, err := h.usage.ListSearchLogs(ctx, orgID, limit)
	if err != nil {
		h.logFailure(ctx, "history lookup failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	if logs == nil {
		logs = []quotamodels.SearchLogEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Logs: logs})
}

func (h *Handler) resolveOrganisation(w http.ResponseWriter, r *http.Request) (id.OrganisationID, bool) {
	p, err := access.FromRequestContext(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrganisationID{}, false
	}
	requested, err := optionalOrganisation(r.URL.Query().Get("organisation_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrganisationID{}, false
	}
	orgID, err := access.ResolveOrganisation(p, requested)
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrganisationID{}, false
	}
	return orgID, true
}

// logFailure logs server-side faults at error level and client errors at warn.
func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
}

func optionalOrganisation(raw string) (id.OrganisationID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return id.OrganisationID{}, nil
	}
	return id.ParseOrganisationID(raw)
}

func parseMinScore(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 100 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "min_score must be an integer between 0 and 100")
	}
	return n, nil
}
