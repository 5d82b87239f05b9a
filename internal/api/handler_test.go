package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/snaplink/snaplink/internal/api"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/service"
)

// MockLinkService mocks the service layer
type MockLinkService struct {
	mock.Mock
}

func (m *MockLinkService) Create(ctx context.Context, req *model.CreateLinkRequest) (*model.ShortLink, string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*model.ShortLink), args.String(1), args.Error(2)
}

func (m *MockLinkService) Get(ctx context.Context, key string) (*model.ShortLink, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ShortLink), args.Error(1)
}

func (m *MockLinkService) Update(ctx context.Context, key string, req *model.UpdateLinkRequest) (*model.ShortLink, string, error) {
	args := m.Called(ctx, key, req)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*model.ShortLink), args.String(1), args.Error(2)
}

func (m *MockLinkService) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockLinkService) Resolve(ctx context.Context, key, password, visitorID string, r *http.Request) (string, error) {
	args := m.Called(ctx, key, password)
	return args.String(0), args.Error(1)
}

func (m *MockLinkService) ListAnalytics(ctx context.Context, key string) ([]*model.DailyAnalytics, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DailyAnalytics), args.Error(1)
}

func (m *MockLinkService) ListVersions(ctx context.Context, key string) ([]*model.LinkVersion, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LinkVersion), args.Error(1)
}

func (m *MockLinkService) CurrentVersion(ctx context.Context, key string) (*model.LinkVersion, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LinkVersion), args.Error(1)
}

func (m *MockLinkService) CompareVersions(ctx context.Context, key string, from, to int) (map[string]model.FieldDiff, error) {
	args := m.Called(ctx, key, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]model.FieldDiff), args.Error(1)
}

func (m *MockLinkService) Rollback(ctx context.Context, key string, target int) (*model.ShortLink, error) {
	args := m.Called(ctx, key, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ShortLink), args.Error(1)
}

func (m *MockLinkService) DeleteVersion(ctx context.Context, key string, number int) error {
	args := m.Called(ctx, key, number)
	return args.Error(0)
}

// MockDB for health check
type MockDB struct {
	shouldFail bool
}

func (m *MockDB) Ping(ctx context.Context) error {
	if m.shouldFail {
		return assert.AnError
	}
	return nil
}

// MockCache for health check
type MockCache struct {
	shouldFail bool
}

func (m *MockCache) Ping(ctx context.Context) error {
	if m.shouldFail {
		return assert.AnError
	}
	return nil
}

func newRouter(svc api.LinkService, db *MockDB, cacheMock *MockCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := api.NewHandler(svc, db, cacheMock, "http://sl.test", logger)
	r := gin.New()
	handler.RegisterRoutes(r)
	return r
}

func sampleLink() *model.ShortLink {
	return &model.ShortLink{
		ID:             1,
		Code:           "abc123",
		DestinationURL: "https://example.com/a",
		CurrentVersion: 1,
		CreatedAt:      time.Now(),
	}
}

func TestHandler_HealthCheck(t *testing.T) {
	t.Run("ok when dependencies are healthy", func(t *testing.T) {
		r := newRouter(new(MockLinkService), &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("degraded when the cache is down", func(t *testing.T) {
		r := newRouter(new(MockLinkService), &MockDB{}, &MockCache{shouldFail: true})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandler_CreateLink(t *testing.T) {
	t.Run("returns 201 with short url", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("Create", mock.Anything, mock.Anything).Return(sampleLink(), "", nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		body, _ := json.Marshal(model.CreateLinkRequest{URL: "https://example.com/a"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/links", bytes.NewReader(body)))

		require.Equal(t, http.StatusCreated, w.Code)
		var resp model.LinkResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "http://sl.test/abc123", resp.ShortURL)
	})

	t.Run("rejects missing body", func(t *testing.T) {
		r := newRouter(new(MockLinkService), &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/links", bytes.NewReader([]byte("{}"))))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps service errors to statuses", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{service.ErrInvalidURL, http.StatusBadRequest},
			{service.ErrInvalidAlias, http.StatusBadRequest},
			{service.ErrAliasTaken, http.StatusConflict},
			{service.ErrAmbiguousExpiry, http.StatusConflict},
			{assert.AnError, http.StatusInternalServerError},
		}
		for _, tt := range tests {
			svc := new(MockLinkService)
			svc.On("Create", mock.Anything, mock.Anything).Return(nil, "", tt.err)
			r := newRouter(svc, &MockDB{}, &MockCache{})

			body, _ := json.Marshal(model.CreateLinkRequest{URL: "https://example.com/a"})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/links", bytes.NewReader(body)))
			assert.Equal(t, tt.want, w.Code, "error %v", tt.err)
		}
	})
}

func TestHandler_Redirect(t *testing.T) {
	t.Run("302 to destination", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("Resolve", mock.Anything, "abc123", "").Return("https://example.com/a", nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123", nil))

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.com/a", w.Header().Get("Location"))
	})

	t.Run("sets a visitor cookie", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("Resolve", mock.Anything, "abc123", "").Return("https://example.com/a", nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123", nil))

		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, "sl_visitor", cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
	})

	t.Run("passes the password through", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("Resolve", mock.Anything, "abc123", "hunter2").Return("https://example.com/a", nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123?password=hunter2", nil))
		assert.Equal(t, http.StatusFound, w.Code)
	})

	t.Run("maps resolution failures", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{service.ErrNotFound, http.StatusNotFound},
			{service.ErrExpired, http.StatusGone},
			{service.ErrPasswordRequired, http.StatusUnauthorized},
			{service.ErrWrongPassword, http.StatusUnauthorized},
			{service.ErrTooManyAttempts, http.StatusTooManyRequests},
		}
		for _, tt := range tests {
			svc := new(MockLinkService)
			svc.On("Resolve", mock.Anything, "abc123", "").Return("", tt.err)
			r := newRouter(svc, &MockDB{}, &MockCache{})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123", nil))
			assert.Equal(t, tt.want, w.Code, "error %v", tt.err)
		}
	})
}

func TestHandler_Versions(t *testing.T) {
	t.Run("compare validates query params", func(t *testing.T) {
		r := newRouter(new(MockLinkService), &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/links/abc123/versions/compare?from=x&to=2", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("compare returns the diff", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("CompareVersions", mock.Anything, "abc123", 1, 2).Return(map[string]model.FieldDiff{
			"alias": {Old: "old-name", New: "new-name"},
		}, nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/links/abc123/versions/compare?from=1&to=2", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "new-name")
	})

	t.Run("deleting the current version conflicts", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("DeleteVersion", mock.Anything, "abc123", 2).Return(service.ErrCurrentVersion)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/links/abc123/versions/2", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rollback returns the restored link", func(t *testing.T) {
		svc := new(MockLinkService)
		svc.On("Rollback", mock.Anything, "abc123", 1).Return(sampleLink(), nil)
		r := newRouter(svc, &MockDB{}, &MockCache{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/links/abc123/versions/1/rollback", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandler_DeleteLink(t *testing.T) {
	svc := new(MockLinkService)
	svc.On("Delete", mock.Anything, "abc123").Return(nil)
	r := newRouter(svc, &MockDB{}, &MockCache{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/links/abc123", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
