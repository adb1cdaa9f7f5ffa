package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipscreen/internal/access"
	quotamodels "pipscreen/internal/quota/models"
	quotaservice "pipscreen/internal/quota/service"
	"pipscreen/internal/screening/models"
	"pipscreen/internal/screening/service"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
)

type stubScreener struct {
	gotReq   service.BulkRequest
	calls    int
	result   *models.BulkResult
	err      error
	progress *models.Progress
}

func (s *stubScreener) BulkSearch(_ context.Context, req service.BulkRequest) (*models.BulkResult, error) {
	s.calls++
	s.gotReq = req
	return s.result, s.err
}

func (s *stubScreener) Progress(_ context.Context, _ access.Principal, jobID string) (*models.Progress, error) {
	if s.progress == nil || s.progress.JobID != jobID {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	return s.progress, nil
}

func newRouter(t *testing.T, screener Screener, p *access.Principal) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	if p != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(access.WithPrincipal(req.Context(), *p)))
			})
		})
	}
	New(screener, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandleBulk(t *testing.T) {
	orgID := id.NewOrganisationID()
	user := access.NewPrincipal(id.NewUserID(), orgID, false, nil, nil)

	t.Run("parses the upload and forwards rows, org and job id", func(t *testing.T) {
		stub := &stubScreener{result: &models.BulkResult{BulkInfo: models.BulkInfo{TotalSearched: 2}}}
		router := newRouter(t, stub, &user)

		body, contentType := multipartUpload(t, "batch.csv",
			"first_name,last_name\nJane,Smith\nXavier,Quill\n",
			map[string]string{"organisation_id": orgID.String()})
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Job-ID", "upload-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, stub.gotReq.Rows, 2)
		assert.Equal(t, orgID, stub.gotReq.OrganisationID)
		assert.Equal(t, "upload-1", stub.gotReq.JobID)
		assert.Equal(t, user.UserID, stub.gotReq.Principal.UserID)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp, "bulk_info")
	})

	t.Run("missing columns are rejected before screening", func(t *testing.T) {
		stub := &stubScreener{}
		router := newRouter(t, stub, &user)

		body, contentType := multipartUpload(t, "batch.csv", "name\nJane\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "first_name, last_name")
		assert.Equal(t, 0, stub.calls)
	})

	t.Run("missing file", func(t *testing.T) {
		stub := &stubScreener{}
		router := newRouter(t, stub, &user)

		body, contentType := multipartUpload(t, "", "", map[string]string{"organisation_id": orgID.String()})
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, stub.calls)
	})

	t.Run("insufficient quota reports the shortfall", func(t *testing.T) {
		info := quotamodels.NewLimitInfo(
			quotamodels.Limits{Package: "Standard", Single: quotamodels.Capped(3), Batch: quotamodels.Capped(10)},
			quotamodels.Consumption{BatchDone: 7},
		)
		stub := &stubScreener{err: quotaservice.InsufficientBatchQuota(5, info)}
		router := newRouter(t, stub, &user)

		body, contentType := multipartUpload(t, "batch.csv", "first_name,last_name\nJane,Smith\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		var resp struct {
			Error   string         `json:"error"`
			Details map[string]any `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "insufficient_quota", resp.Error)
		assert.EqualValues(t, 5, resp.Details["required"])
		assert.EqualValues(t, 3, resp.Details["remaining"])
		assert.EqualValues(t, 2, resp.Details["shortfall"])
	})

	t.Run("transient failures are distinct from business rejections", func(t *testing.T) {
		stub := &stubScreener{err: dErrors.New(dErrors.CodeUnavailable, "registry temporarily unavailable")}
		router := newRouter(t, stub, &user)

		body, contentType := multipartUpload(t, "batch.csv", "first_name,last_name\nJane,Smith\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router := newRouter(t, &stubScreener{}, nil)
		body, contentType := multipartUpload(t, "batch.csv", "first_name,last_name\nJane,Smith\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/screening/bulk", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleProgress(t *testing.T) {
	orgID := id.NewOrganisationID()
	user := access.NewPrincipal(id.NewUserID(), orgID, false, nil, nil)
	stub := &stubScreener{progress: &models.Progress{
		JobID: "upload-1", OrganisationID: orgID, Total: 4, Processed: 1, Stage: models.StageResolving,
	}}
	router := newRouter(t, stub, &user)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screening/bulk/upload-1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "resolving", resp["stage"])
	assert.EqualValues(t, 25, resp["percent"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screening/bulk/other/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
