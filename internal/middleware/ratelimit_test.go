package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// testRateLimiterConfig は即座に枯渇させられる小さなテスト用設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    2,
		IngestRate:      rate.Limit(1),
		IngestBurst:     1,
		CleanupInterval: time.Hour,
	}
}

func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/kv", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}
}

func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/kv", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want %d", lastCode, http.StatusTooManyRequests)
	}
}

func TestGeneralMiddleware_RejectsWithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.IngestMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト1を使い切る
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/from-extension", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header on 429 response")
			}
		}
	}
}

func TestRateLimiter_PerUserIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.IngestMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1のバーストを使い切る
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	// user-2には影響しない
	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2 = req2.WithContext(ContextWithUserID(req2.Context(), "user-2"))
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want %d", rec2.Code, http.StatusOK)
	}

	if got := rl.IngestLimiterCount(); got != 2 {
		t.Errorf("IngestLimiterCount = %d, want 2", got)
	}
}

func TestRateLimiter_RequiresUserID(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without user ID")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/kv", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreateGeneralLimiter("user-1")
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Fatalf("GeneralLimiterCount = %d, want 1", got)
	}

	// lastAccessを過去に倒してクリーンアップ対象にする
	rl.generalMu.Lock()
	rl.generalLimiters["user-1"].lastAccess = time.Now().Add(-time.Hour)
	rl.generalMu.Unlock()

	rl.cleanup()

	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("GeneralLimiterCount after cleanup = %d, want 0", got)
	}
}
