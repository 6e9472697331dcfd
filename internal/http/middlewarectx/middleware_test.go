package middlewarectx_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/lib/password"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAdminTokenMiddleware(t *testing.T) {
	hash, err := password.Hash("admin-secret")
	require.NoError(t, err)
	handler := middlewarectx.AdminTokenMiddleware(hash, newNoopLogger())(okHandler)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", authHeader: "Basic admin-secret", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", authHeader: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", authHeader: "Bearer admin-secret", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := middlewarectx.RateLimitMiddleware(rate.NewLimiter(rate.Limit(0.001), 2), newNoopLogger())(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type staticBlogs []int64

func (b staticBlogs) BlogIDs(_ context.Context) ([]int64, error) {
	return b, nil
}

func TestBlogMiddleware(t *testing.T) {
	var got int64
	r := chi.NewRouter()
	r.With(middlewarectx.BlogMiddleware(staticBlogs{1, 2}, newNoopLogger())).
		Get("/blogs/{blogID}", func(w http.ResponseWriter, r *http.Request) {
			got, _ = middlewarectx.BlogIDFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		})

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBlog   int64
	}{
		{name: "known blog", url: "/blogs/2", wantStatus: http.StatusOK, wantBlog: 2},
		{name: "unknown blog", url: "/blogs/9", wantStatus: http.StatusNotFound},
		{name: "not a number", url: "/blogs/abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = 0
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBlog, got)
		})
	}
}
