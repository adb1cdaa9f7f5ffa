package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pipscreen/internal/access"
	"pipscreen/internal/registry/models"
	"pipscreen/internal/registry/service"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/requestcontext"
)

// MaxImportBytes bounds a CSV import upload.
const MaxImportBytes = 10 << 20

// Registry is the write path behind data capture.
type Registry interface {
	Create(ctx context.Context, p access.Principal, req service.CreatePIPRequest) (*models.PIP, error)
	Update(ctx context.Context, p access.Principal, pipID id.PIPID, req service.UpdatePIPRequest) (*models.PIP, error)
	SetActive(ctx context.Context, p access.Principal, pipID id.PIPID, active bool) (*models.PIP, error)
	Import(ctx context.Context, p access.Principal, r io.Reader) (*service.ImportResult, error)
}

type Handler struct {
	registry Registry
	logger   *slog.Logger
}

func New(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register mounts the data capture routes. Authentication is applied by the
// caller; elevation is checked by the service.
func (h *Handler) Register(r chi.Router) {
	r.Post("/pips", h.handleCreate)
	r.Post("/pips/import", h.handleImport)
	r.Patch("/pips/{id}", h.handleUpdate)
	r.Post("/pips/{id}/status", h.handleSetStatus)
}

// statusRequest is the body of POST /pips/{id}/status.
type statusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (r *statusRequest) Validate() error {
	if r == nil || r.IsActive == nil {
		return dErrors.New(dErrors.CodeValidation, "is_active is required")
	}
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[service.CreatePIPRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pip, err := h.registry.Create(ctx, p, *req)
	if err != nil {
		h.logFailure(ctx, "create PIP failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.NewResult(*pip, 0))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pipID, err := id.ParsePIPID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[service.UpdatePIPRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pip, err := h.registry.Update(ctx, p, pipID, *req)
	if err != nil {
		h.logFailure(ctx, "update PIP failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewResult(*pip, 0))
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pipID, err := id.ParsePIPID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[statusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pip, err := h.registry.SetActive(ctx, p, pipID, *req.IsActive)
	if err != nil {
		h.logFailure(ctx, "set PIP status failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewResult(*pip, 0))
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)
	if err := r.ParseMultipartForm(MaxImportBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "The uploaded file is too large."))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected a multipart upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "No file uploaded."))
		return
	}
	defer file.Close()

	res, err := h.registry.Import(ctx, p, file)
	if err != nil {
		h.logFailure(ctx, "PIP import failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "PIP import finished",
		"request_id", requestID,
		"success_count", res.SuccessCount,
		"failed_count", res.FailedCount,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
}
