package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/license-sync/internal/account"
	"github.com/magabrotheeeer/license-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-sync/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) OptIn(ctx context.Context, blogID int64, req account.OptInRequest) (account.State, error) {
	args := m.Called(ctx, blogID, req)
	return args.Get(0).(account.State), args.Error(1)
}

func (m *MockService) OptInNetwork(ctx context.Context, req account.OptInRequest) (account.State, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(account.State), args.Error(1)
}

func (m *MockService) Skip(ctx context.Context, blogID int64) error {
	return m.Called(ctx, blogID).Error(0)
}

func (m *MockService) SkipNetwork(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockService) Reconnect(ctx context.Context, blogID int64) (account.State, error) {
	args := m.Called(ctx, blogID)
	return args.Get(0).(account.State), args.Error(1)
}

func (m *MockService) ConfirmPending(ctx context.Context, blogID int64, creds account.UserCredentials) (account.State, error) {
	args := m.Called(ctx, blogID, creds)
	return args.Get(0).(account.State), args.Error(1)
}

type MockDelegator struct {
	mock.Mock
}

func (m *MockDelegator) Delegate(ctx context.Context, blogIDs []int64) ([]int64, error) {
	args := m.Called(ctx, blogIDs)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) FirstSync(ctx context.Context, blogID int64) (bool, error) {
	args := m.Called(ctx, blogID)
	return args.Bool(0), args.Error(1)
}

type blogs []int64

func (b blogs) BlogIDs(_ context.Context) ([]int64, error) { return b, nil }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/network/opt-in", h.OptInNetwork)
	r.Post("/network/skip", h.SkipNetwork)
	r.Post("/network/delegate", h.Delegate)
	r.Route("/blogs/{blogID}", func(r chi.Router) {
		r.Use(middlewarectx.BlogMiddleware(blogs{1, 2}, newNoopLogger()))
		r.Post("/opt-in", h.OptIn)
		r.Post("/skip", h.Skip)
		r.Post("/reconnect", h.Reconnect)
		r.Post("/pending/confirm", h.ConfirmPending)
	})
	return r
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           string
		setupMock      func(s *MockService, d *MockDelegator)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "opt-in registers",
			url:  "/blogs/1/opt-in",
			body: `{"email": "admin@site.test"}`,
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("OptIn", mock.Anything, int64(1), account.OptInRequest{Email: "admin@site.test"}).Return(account.StateRegistered, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"state":"REGISTERED"`,
		},
		{
			name: "opt-in with empty body",
			url:  "/blogs/2/opt-in",
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("OptIn", mock.Anything, int64(2), account.OptInRequest{}).Return(account.StatePendingActivation, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"state":"PENDING_ACTIVATION"`,
		},
		{
			name:           "opt-in with invalid email",
			url:            "/blogs/1/opt-in",
			body:           `{"email": "nope"}`,
			setupMock:      func(_ *MockService, _ *MockDelegator) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field Email must be a valid email`,
		},
		{
			name: "network opt-in",
			url:  "/network/opt-in",
			body: `{"email": "admin@site.test"}`,
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("OptInNetwork", mock.Anything, account.OptInRequest{Email: "admin@site.test"}).Return(account.StateRegistered, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "skip",
			url:  "/blogs/1/skip",
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("Skip", mock.Anything, int64(1)).Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"state":"ANONYMOUS"`,
		},
		{
			name: "network skip",
			url:  "/network/skip",
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("SkipNetwork", mock.Anything).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "reconnect unregistered",
			url:  "/blogs/1/reconnect",
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("Reconnect", mock.Anything, int64(1)).Return(account.State(""), models.ErrNotRegistered)
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "confirm pending",
			url:  "/blogs/1/pending/confirm",
			body: `{"user_id": 5, "user_public_key": "pk_u", "user_secret_key": "sk_u"}`,
			setupMock: func(s *MockService, _ *MockDelegator) {
				s.On("ConfirmPending", mock.Anything, int64(1), account.UserCredentials{UserID: 5, PublicKey: "pk_u", SecretKey: "sk_u"}).
					Return(account.StateRegistered, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "confirm pending without keys",
			url:            "/blogs/1/pending/confirm",
			body:           `{"user_id": 5}`,
			setupMock:      func(_ *MockService, _ *MockDelegator) {},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "delegate all",
			url:  "/network/delegate",
			setupMock: func(_ *MockService, d *MockDelegator) {
				d.On("Delegate", mock.Anything, []int64(nil)).Return([]int64{2}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"delegated":[2]`,
		},
		{
			name: "delegate outside network",
			url:  "/network/delegate",
			body: `{"blog_ids": [2]}`,
			setupMock: func(_ *MockService, d *MockDelegator) {
				d.On("Delegate", mock.Anything, []int64{2}).Return(nil, models.ErrNotNetwork)
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, delegator, syncer := new(MockService), new(MockDelegator), new(MockSyncer)
			tt.setupMock(service, delegator)
			syncer.On("FirstSync", mock.Anything, mock.Anything).Return(false, nil).Maybe()
			router := newRouter(New(newNoopLogger(), service, delegator, syncer))

			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			service.AssertExpectations(t)
			delegator.AssertExpectations(t)
		})
	}
}

func TestFirstSyncAfterRegistration(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           string
		setupMock      func(s *MockService, f *MockSyncer)
		expectedStatus int
	}{
		{
			name: "opt-in triggers first sync",
			url:  "/blogs/1/opt-in",
			setupMock: func(s *MockService, f *MockSyncer) {
				s.On("OptIn", mock.Anything, int64(1), account.OptInRequest{}).Return(account.StateRegistered, nil)
				f.On("FirstSync", mock.Anything, int64(1)).Return(true, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "confirm pending triggers first sync",
			url:  "/blogs/2/pending/confirm",
			body: `{"user_id": 5, "user_public_key": "pk_u", "user_secret_key": "sk_u"}`,
			setupMock: func(s *MockService, f *MockSyncer) {
				s.On("ConfirmPending", mock.Anything, int64(2), account.UserCredentials{UserID: 5, PublicKey: "pk_u", SecretKey: "sk_u"}).
					Return(account.StateRegistered, nil)
				f.On("FirstSync", mock.Anything, int64(2)).Return(true, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "first sync failure keeps registration",
			url:  "/blogs/1/opt-in",
			setupMock: func(s *MockService, f *MockSyncer) {
				s.On("OptIn", mock.Anything, int64(1), account.OptInRequest{}).Return(account.StateRegistered, nil)
				f.On("FirstSync", mock.Anything, int64(1)).Return(false, errors.New("connection refused")).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "pending activation does not sync",
			url:  "/blogs/1/opt-in",
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("OptIn", mock.Anything, int64(1), account.OptInRequest{}).Return(account.StatePendingActivation, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "failed opt-in does not sync",
			url:  "/blogs/1/opt-in",
			setupMock: func(s *MockService, _ *MockSyncer) {
				s.On("OptIn", mock.Anything, int64(1), account.OptInRequest{}).Return(account.State(""), models.ErrNotNetwork)
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, syncer := new(MockService), new(MockSyncer)
			tt.setupMock(service, syncer)
			router := newRouter(New(newNoopLogger(), service, new(MockDelegator), syncer))

			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			service.AssertExpectations(t)
			syncer.AssertExpectations(t)
		})
	}
}
