package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/raisan/backend-ads/internal/store"
)

// Querier loads limiter thresholds for a scope from the database.
type Querier interface {
	GetRateLimitSetting(ctx context.Context, scope string) (store.RateLimitSetting, error)
}

// Settings resolves per-scope thresholds from the database with a small time
// cache. Any load failure falls back to the configured defaults so a broken
// settings table can never take the API down.
type Settings struct {
	Q        Querier
	CacheTTL time.Duration

	FallbackMax    int
	FallbackWindow time.Duration

	mu    sync.Mutex
	cache map[string]cachedSetting
	now   func() time.Time
}

type cachedSetting struct {
	max      int
	window   time.Duration
	loadedAt time.Time
}

// Resolve returns the effective max/window for a scope.
func (s *Settings) Resolve(ctx context.Context, scope string) (int, time.Duration) {
	if s == nil || s.Q == nil {
		return s.fallback()
	}
	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string]cachedSetting)
	}
	if s.now == nil {
		s.now = time.Now
	}
	now := s.now()
	if hit, ok := s.cache[scope]; ok && now.Sub(hit.loadedAt) < s.ttl() {
		s.mu.Unlock()
		return hit.max, hit.window
	}
	s.mu.Unlock()

	row, err := s.Q.GetRateLimitSetting(ctx, scope)
	if err != nil || row.MaxRequests <= 0 || row.WindowSeconds <= 0 {
		return s.fallback()
	}
	max := int(row.MaxRequests)
	window := time.Duration(row.WindowSeconds) * time.Second

	s.mu.Lock()
	s.cache[scope] = cachedSetting{max: max, window: window, loadedAt: now}
	s.mu.Unlock()
	return max, window
}

func (s *Settings) fallback() (int, time.Duration) {
	max := 10
	window := time.Minute
	if s != nil {
		if s.FallbackMax > 0 {
			max = s.FallbackMax
		}
		if s.FallbackWindow > 0 {
			window = s.FallbackWindow
		}
	}
	return max, window
}

func (s *Settings) ttl() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return 5 * time.Minute
}
