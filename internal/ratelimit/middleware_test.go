package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/raisan/backend-ads/internal/store"
)

type stubSettingsQuerier struct {
	row   store.RateLimitSetting
	err   error
	calls int
}

func (s *stubSettingsQuerier) GetRateLimitSetting(ctx context.Context, scope string) (store.RateLimitSetting, error) {
	s.calls++
	return s.row, s.err
}

func TestLimiterSlidingWindow(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, _, _, err := l.Allow(context.Background(), "k", time.Minute, 3)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, remaining, _, _ := l.Allow(context.Background(), "k", time.Minute, 3)
	if allowed {
		t.Fatal("fourth request within the window must be denied")
	}
	if remaining != 0 {
		t.Fatalf("remaining: got %d", remaining)
	}

	// Sliding forward past the window frees the slots again.
	now = now.Add(61 * time.Second)
	allowed, _, _, _ = l.Allow(context.Background(), "k", time.Minute, 3)
	if !allowed {
		t.Fatal("request after the window must be allowed")
	}
}

func TestLimiterSweepDropsIdleKeys(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), "idle", time.Minute, 5)
	now = now.Add(10 * time.Minute)
	l.Sweep(time.Minute)

	l.mu.Lock()
	_, exists := l.events["idle"]
	l.mu.Unlock()
	if exists {
		t.Fatal("idle key must be removed by the sweep")
	}
}

func TestSettingsCachesAndFailsOpen(t *testing.T) {
	q := &stubSettingsQuerier{row: store.RateLimitSetting{
		Scope:         "purchase",
		MaxRequests:   5,
		WindowSeconds: 30,
		UpdatedAt:     pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}}
	s := &Settings{Q: q, CacheTTL: time.Minute, FallbackMax: 10, FallbackWindow: time.Minute}

	max, window := s.Resolve(context.Background(), "purchase")
	if max != 5 || window != 30*time.Second {
		t.Fatalf("got max=%d window=%v", max, window)
	}
	s.Resolve(context.Background(), "purchase")
	if q.calls != 1 {
		t.Fatalf("expected the second resolve to hit the cache, got %d calls", q.calls)
	}

	// A broken settings table falls back to the configured defaults.
	broken := &Settings{Q: &stubSettingsQuerier{err: errors.New("table missing")}, FallbackMax: 7, FallbackWindow: 2 * time.Minute}
	max, window = broken.Resolve(context.Background(), "purchase")
	if max != 7 || window != 2*time.Minute {
		t.Fatalf("fallback not applied: max=%d window=%v", max, window)
	}
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	q := &stubSettingsQuerier{row: store.RateLimitSetting{MaxRequests: 1, WindowSeconds: 60}}
	handler := Handler{
		Limiter:  NewLimiter(),
		Settings: &Settings{Q: q, CacheTTL: time.Minute},
		Config: Config{
			Key:   func(*http.Request) string { return "static" },
			Scope: "purchase",
		},
	}

	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/purchase", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d", rr2.Code)
	}
	if rr2.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header: %q", rr2.Header().Get("X-RateLimit-Limit"))
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}
