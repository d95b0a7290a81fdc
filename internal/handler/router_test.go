package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/cabinet/internal/metrics"
	"github.com/hitoshi/cabinet/internal/middleware"
	"github.com/hitoshi/cabinet/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// mockSessionFinder はmiddleware.SessionFinderのモック実装。
type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// validSessionFinder は "valid-session" をユーザー "user-1" のセッションとして解決する。
func validSessionFinder() *mockSessionFinder {
	return &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session" {
				return &model.Session{ID: id, UserID: "user-1"}, nil
			}
			return nil, nil
		},
	}
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.SessionFinder == nil {
		deps.SessionFinder = validSessionFinder()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(deps.RateLimiter.Stop)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if deps.KVStore == nil {
		deps.KVStore = &mockKVStore{}
	}
	if deps.AccountService == nil {
		deps.AccountService = &mockAccountService{}
	}
	return NewRouter(deps)
}

func TestRouter_Health_OK(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{HealthChecker: &mockHealthChecker{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", w.Body.String(), "ok")
	}
}

func TestRouter_Health_DatabaseDown(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	router := newTestRouter(t, &RouterDeps{HealthChecker: checker})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_Metrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	router := newTestRouter(t, &RouterDeps{MetricsHandler: metrics.SetupMetricsRoute(reg)})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "cabinet_") {
		t.Error("expected cabinet metrics in /metrics output")
	}
}

func TestRouter_APIRoutes_RequireAuth(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/kv"},
		{http.MethodGet, "/api/kv/sections"},
		{http.MethodPut, "/api/kv/sections"},
		{http.MethodDelete, "/api/kv/sections"},
		{http.MethodGet, "/api/accounts"},
		{http.MethodPost, "/api/accounts"},
		{http.MethodDelete, "/api/accounts/acc-1"},
		{http.MethodPost, "/api/accounts/from-extension"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_KVList_AuthenticatedRequest(t *testing.T) {
	store := &mockKVStore{
		listByUserIDFn: func(ctx context.Context, userID string) ([]*model.StoredValue, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want %q", userID, "user-1")
			}
			return nil, nil
		},
	}
	router := newTestRouter(t, &RouterDeps{KVStore: store})

	req := httptest.NewRequest(http.MethodGet, "/api/kv", nil)
	req.Header.Set("Authorization", "Bearer valid-session")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_IngestRoute_OpenCORSPreflight(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{CORSAllowedOrigin: "https://cabinet.example.com"})

	// ブラウザ拡張オリジンからのプリフライトは認証なしで通過する
	req := httptest.NewRequest(http.MethodOptions, "/api/accounts/from-extension", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", origin, "*")
	}
}

func TestRouter_DashboardRoute_RestrictedCORS(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{CORSAllowedOrigin: "https://cabinet.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/kv", nil)
	req.Header.Set("Origin", "https://cabinet.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "https://cabinet.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", origin, "https://cabinet.example.com")
	}
}

func TestRouter_UnknownRoute_NotFound(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.Header.Set("Authorization", "Bearer valid-session")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
