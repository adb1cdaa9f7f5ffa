package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipscreen/pkg/platform/secrets"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		expected string
		sent     string
		want     int
	}{
		{name: "matching token", expected: "s3cret", sent: "s3cret", want: http.StatusNoContent},
		{name: "wrong token", expected: "s3cret", sent: "guess", want: http.StatusUnauthorized},
		{name: "missing token", expected: "s3cret", sent: "", want: http.StatusUnauthorized},
		{name: "endpoints disabled", expected: "", sent: "", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin/token-index/refresh", nil)
			if tt.sent != "" {
				r.Header.Set("X-Admin-Token", tt.sent)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tt.expected, logger)(ok).ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireAdminTokenHash(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	hash, err := secrets.Hash("s3cret")
	require.NoError(t, err)

	tests := []struct {
		name string
		hash string
		sent string
		want int
	}{
		{name: "matching token", hash: hash, sent: "s3cret", want: http.StatusNoContent},
		{name: "wrong token", hash: hash, sent: "guess", want: http.StatusUnauthorized},
		{name: "missing token", hash: hash, sent: "", want: http.StatusUnauthorized},
		{name: "plaintext hash is not accepted as the token", hash: hash, sent: hash, want: http.StatusUnauthorized},
		{name: "endpoints disabled", hash: "", sent: "s3cret", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin/token-index/refresh", nil)
			if tt.sent != "" {
				r.Header.Set("X-Admin-Token", tt.sent)
			}
			rec := httptest.NewRecorder()
			RequireAdminTokenHash(tt.hash, logger)(ok).ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
