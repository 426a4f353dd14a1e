package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/raisan/backend-ads/internal/lock"
)

type stubExpireQuerier struct {
	expired int64
	err     error
	calls   int
}

func (s *stubExpireQuerier) ExpireTransactions(ctx context.Context, now time.Time) (int64, error) {
	s.calls++
	return s.expired, s.err
}

func newTestExpirer(t *testing.T, q *stubExpireQuerier) *Expirer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Expirer{
		Q:       q,
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Log:     zerolog.Nop(),
	}
}

func TestHandleExpireSweeps(t *testing.T) {
	q := &stubExpireQuerier{expired: 3}
	e := newTestExpirer(t, q)
	if err := e.HandleExpire(context.Background(), NewExpireTask()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.calls != 1 {
		t.Fatalf("expected one sweep, got %d", q.calls)
	}
}

func TestHandleExpirePropagatesError(t *testing.T) {
	boom := errors.New("db down")
	e := newTestExpirer(t, &stubExpireQuerier{err: boom})
	if err := e.HandleExpire(context.Background(), NewExpireTask()); !errors.Is(err, boom) {
		t.Fatalf("expected db error, got %v", err)
	}
}
