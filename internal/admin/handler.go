// Package admin serves operator endpoints guarded by the admin token.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/requestcontext"
)

// TokenIndex is the operator view of the corpus token index.
type TokenIndex interface {
	Refresh(ctx context.Context) (int, error)
	Size() int
}

type Handler struct {
	index  TokenIndex
	logger *slog.Logger
}

func New(index TokenIndex, logger *slog.Logger) *Handler {
	return &Handler{index: index, logger: logger}
}

// Register mounts the admin routes. The admin token check is applied by the
// caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/token-index", h.handleStatus)
	r.Post("/admin/token-index/refresh", h.handleRefresh)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, TokenIndexResponse{Words: h.index.Size()})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	n, err := h.index.Refresh(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "token index refresh failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "token index refresh failed"))
		return
	}
	now := requestcontext.Now(ctx)
	h.logger.InfoContext(ctx, "token index refreshed",
		"request_id", requestID,
		"words", n,
	)
	httputil.WriteJSON(w, http.StatusOK, TokenIndexResponse{Words: n, RefreshedAt: &now})
}
