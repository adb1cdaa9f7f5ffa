package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pipscreen/internal/access"
	"pipscreen/internal/screening/models"
	"pipscreen/internal/screening/parser"
	"pipscreen/internal/screening/service"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/httputil"
	"pipscreen/pkg/requestcontext"
)

const (
	// MaxUploadBytes bounds a bulk screening upload.
	MaxUploadBytes = 10 << 20

	jobIDHeader = "X-Job-ID"
	fileField   = "file"
)

// Screener runs bulk screenings and reports their progress.
type Screener interface {
	BulkSearch(ctx context.Context, req service.BulkRequest) (*models.BulkResult, error)
	Progress(ctx context.Context, p access.Principal, jobID string) (*models.Progress, error)
}

// Handler serves bulk screening uploads.
type Handler struct {
	screener Screener
	logger   *slog.Logger
}

func New(screener Screener, logger *slog.Logger) *Handler {
	return &Handler{screener: screener, logger: logger}
}

// Register mounts the routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/screening/bulk", h.handleBulk)
	r.Get("/screening/bulk/{jobID}/progress", h.handleProgress)
}

type progressResponse struct {
	*models.Progress
	Percent int `json:"percent"`
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "The uploaded file is too large."))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected a multipart upload"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(fileField)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "No file uploaded."))
		return
	}
	defer file.Close()

	var orgID id.OrganisationID
	if raw := strings.TrimSpace(r.FormValue("organisation_id")); raw != "" {
		if orgID, err = id.ParseOrganisationID(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	rows, err := parser.Parse(header.Filename, file)
	if err != nil {
		h.logger.WarnContext(ctx, "bulk upload rejected",
			"request_id", requestID,
			"filename", header.Filename,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.screener.BulkSearch(ctx, service.BulkRequest{
		Principal:      p,
		OrganisationID: orgID,
		Rows:           rows,
		JobID:          r.Header.Get(jobIDHeader),
	})
	if err != nil {
		h.logFailure(ctx, "bulk screening failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := access.FromRequestContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	prog, err := h.screener.Progress(ctx, p, chi.URLParam(r, "jobID"))
	if err != nil {
		h.logFailure(ctx, "progress lookup failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progressResponse{Progress: prog, Percent: prog.Percent()})
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
}
