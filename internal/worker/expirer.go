package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/raisan/backend-ads/internal/lock"
)

// TaskExpireTransactions is the periodic task that expires overdue pending
// transactions, releasing their settlement codes.
const TaskExpireTransactions = "tx:expire"

const expireLockKey = "locks:tx-expire"

// Querier captures the store writes the expirer performs.
type Querier interface {
	ExpireTransactions(ctx context.Context, now time.Time) (int64, error)
}

// Expirer sweeps pending transactions past their expiry horizon. The redis
// lock keeps concurrent worker replicas from racing on the same sweep.
type Expirer struct {
	Q       Querier
	Locker  lock.Locker
	LockTTL time.Duration
	Log     zerolog.Logger
	Now     func() time.Time
}

// NewExpireTask builds the asynq task for the scheduler.
func NewExpireTask() *asynq.Task {
	return asynq.NewTask(TaskExpireTransactions, nil)
}

// HandleExpire processes one sweep.
func (e *Expirer) HandleExpire(ctx context.Context, _ *asynq.Task) error {
	return e.Locker.WithLock(ctx, expireLockKey, e.LockTTL, func(ctx context.Context) error {
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		expired, err := e.Q.ExpireTransactions(ctx, now)
		if err != nil {
			e.Log.Error().Err(err).Msg("expire transactions sweep failed")
			return err
		}
		if expired > 0 {
			e.Log.Info().Int64("expired", expired).Msg("expired overdue transactions")
		}
		return nil
	})
}
