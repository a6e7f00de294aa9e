package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newLimitedHandler(cfg RateLimiterConfig) (*RateLimiter, http.Handler, *int) {
	rl := NewRateLimiter(cfg)
	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	return rl, handler, &calls
}

func requestAs(key, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if key != "" {
		req = req.WithContext(ContextWithIdentityKey(req.Context(), key))
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl, handler, calls := newLimitedHandler(RateLimiterConfig{Rate: 2, Burst: 5, CleanupInterval: time.Minute})
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("40123456", ""))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if *calls != 5 {
		t.Errorf("handler call count = %d, want 5", *calls)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl, handler, _ := newLimitedHandler(RateLimiterConfig{Rate: 0.5, Burst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("40123456", ""))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("40123456", ""))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("body = %+v err = %v", body, err)
	}
}

func TestRateLimitMiddleware_IndependentPerIdentity(t *testing.T) {
	rl, handler, _ := newLimitedHandler(RateLimiterConfig{Rate: 0.1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	for _, key := range []string{"1", "2", "3"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(key, ""))
		if w.Code != http.StatusOK {
			t.Errorf("identity %s: status = %d, want 200", key, w.Code)
		}
	}
	if rl.LimiterCount() != 3 {
		t.Errorf("LimiterCount = %d, want 3", rl.LimiterCount())
	}
}

// セッション確認前のルートでは接続元IPごとに制限する
func TestRateLimitMiddleware_FallsBackToRemoteIP(t *testing.T) {
	rl, handler, _ := newLimitedHandler(RateLimiterConfig{Rate: 0.1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("", "203.0.113.7:50000"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("", "203.0.113.7:50001"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same IP different port: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("", "203.0.113.8:50000"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl, handler, _ := newLimitedHandler(RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("40123456", ""))
	if rl.LimiterCount() != 1 {
		t.Fatalf("LimiterCount = %d, want 1", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(30 * time.Second))
	if rl.LimiterCount() != 1 {
		t.Error("recent entry must survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.LimiterCount() != 0 {
		t.Errorf("LimiterCount after cleanup = %d, want 0", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60)
	if cfg.Rate != 1 || cfg.Burst != 60 {
		t.Errorf("cfg = %+v", cfg)
	}
	if def := RateLimiterConfigPerMinute(0); def.Burst != 120 {
		t.Errorf("default burst = %d, want 120", def.Burst)
	}
}
