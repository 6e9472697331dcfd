package license

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Activate(ctx context.Context, blogID, licenseID int64, key string) (*models.License, error) {
	args := m.Called(ctx, blogID, licenseID, key)
	if res := args.Get(0); res != nil {
		return res.(*models.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) Deactivate(ctx context.Context, blogID int64) error {
	return m.Called(ctx, blogID).Error(0)
}

func (m *MockService) StartTrial(ctx context.Context, blogID, planID int64) (*models.Site, error) {
	args := m.Called(ctx, blogID, planID)
	if res := args.Get(0); res != nil {
		return res.(*models.Site), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) CancelTrialOrSubscription(ctx context.Context, blogID int64) error {
	return m.Called(ctx, blogID).Error(0)
}

func (m *MockService) Current(ctx context.Context, blogID int64) (*models.Site, *models.License, error) {
	args := m.Called(ctx, blogID)
	site, _ := args.Get(0).(*models.Site)
	l, _ := args.Get(1).(*models.License)
	return site, l, args.Error(2)
}

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) SyncNow(ctx context.Context, blogID int64) error {
	return m.Called(ctx, blogID).Error(0)
}

type blogs []int64

func (b blogs) BlogIDs(_ context.Context) ([]int64, error) { return b, nil }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/blogs/{blogID}", func(r chi.Router) {
		r.Use(middlewarectx.BlogMiddleware(blogs{1}, newNoopLogger()))
		r.Post("/license/activate", h.Activate)
		r.Post("/license/deactivate", h.Deactivate)
		r.Post("/license/sync", h.Sync)
		r.Post("/trial", h.StartTrial)
		r.Delete("/trial", h.CancelTrial)
	})
	return r
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		url            string
		body           string
		setupMock      func(s *MockService, sy *MockSyncer)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "activate by key",
			method: http.MethodPost,
			url:    "/blogs/1/license/activate",
			body:   `{"license_key": "sk_abc"}`,
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("Activate", mock.Anything, int64(1), int64(0), "sk_abc").Return(&models.License{ID: 77}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"id":77`,
		},
		{
			name:           "activate without id and key",
			method:         http.MethodPost,
			url:            "/blogs/1/license/activate",
			body:           `{}`,
			setupMock:      func(_ *MockService, _ *MockSyncer) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `license_id or license_key is required`,
		},
		{
			name:   "activate foreign product license",
			method: http.MethodPost,
			url:    "/blogs/1/license/activate",
			body:   `{"license_id": 5}`,
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("Activate", mock.Anything, int64(1), int64(5), "").Return(nil, models.ErrLicenseMismatch)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `This license is not valid for this product.`,
		},
		{
			name:   "activate with server rejection",
			method: http.MethodPost,
			url:    "/blogs/1/license/activate",
			body:   `{"license_key": "bad"}`,
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("Activate", mock.Anything, int64(1), int64(0), "bad").
					Return(nil, &remote.Error{Kind: remote.KindValidation, Code: "invalid_license_key", Message: "Invalid license key."})
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"error":"Invalid license key.","code":"invalid_license_key"`,
		},
		{
			name:   "deactivate without license",
			method: http.MethodPost,
			url:    "/blogs/1/license/deactivate",
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("Deactivate", mock.Anything, int64(1)).Return(models.ErrNoLicense)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "sync returns current license",
			method: http.MethodPost,
			url:    "/blogs/1/license/sync",
			setupMock: func(s *MockService, sy *MockSyncer) {
				sy.On("SyncNow", mock.Anything, int64(1)).Return(nil)
				s.On("Current", mock.Anything, int64(1)).Return(&models.Site{ID: 100}, &models.License{ID: 77}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"license":{"id":77`,
		},
		{
			name:   "sync while remote unreachable",
			method: http.MethodPost,
			url:    "/blogs/1/license/sync",
			setupMock: func(_ *MockService, sy *MockSyncer) {
				sy.On("SyncNow", mock.Anything, int64(1)).Return(&remote.Error{Kind: remote.KindTransport})
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "start trial on plan without trial",
			method: http.MethodPost,
			url:    "/blogs/1/trial",
			body:   `{"plan_id": 2}`,
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("StartTrial", mock.Anything, int64(1), int64(2)).Return(nil, models.ErrTrialNotSupported)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   models.ErrTrialNotSupported.Error(),
		},
		{
			name:           "start trial without plan",
			method:         http.MethodPost,
			url:            "/blogs/1/trial",
			body:           `{}`,
			setupMock:      func(_ *MockService, _ *MockSyncer) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field PlanID is a required field`,
		},
		{
			name:   "cancel when not on subscription",
			method: http.MethodDelete,
			url:    "/blogs/1/trial",
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("CancelTrialOrSubscription", mock.Anything, int64(1)).Return(models.ErrNoSubscription)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   models.ErrNoSubscription.Error(),
		},
		{
			name:           "unknown blog",
			method:         http.MethodPost,
			url:            "/blogs/7/license/deactivate",
			setupMock:      func(_ *MockService, _ *MockSyncer) {},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `blog not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, syncer := new(MockService), new(MockSyncer)
			tt.setupMock(service, syncer)
			router := newRouter(New(newNoopLogger(), service, syncer))

			req := httptest.NewRequest(tt.method, tt.url, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			service.AssertExpectations(t)
			syncer.AssertExpectations(t)
		})
	}
}
