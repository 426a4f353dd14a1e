package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/raisan/backend-ads/internal/money"
	"github.com/raisan/backend-ads/internal/store"
)

// Duration modes an add-on purchase can be billed under.
const (
	DurationFixed30Days           = "fixed_30_days"
	DurationFollowingSubscription = "following_subscription"
)

var (
	// ErrInvalidInput is returned for out-of-range quantities or an
	// unknown duration mode.
	ErrInvalidInput = errors.New("invalid purchase input")
	// ErrNoActiveSubscription is returned when following_subscription
	// pricing finds nothing to follow.
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrSubscriptionEndingSoon is returned when the remaining window is
	// too short to bill pro-rata.
	ErrSubscriptionEndingSoon = errors.New("subscription expiring too soon for this mode")
)

// Querier captures the store reads the duration pricer needs.
type Querier interface {
	GetActiveSubscriptionByUser(ctx context.Context, userID pgtype.UUID) (store.Subscription, error)
}

// Quote is the priced duration of a purchase before discounts and tax.
type Quote struct {
	Base     money.Money
	StartsAt time.Time
	EndsAt   time.Time
}

// Service prices purchase durations. MinDays is the shortest remaining window
// following_subscription will bill for; BaseDays is the standard billing
// period the monthly rate covers.
type Service struct {
	Q        Querier
	MinDays  int
	BaseDays int
	QtyMin   int
	QtyMax   int
	Now      func() time.Time
}

// PriceSubscription quotes a subscription plan at its full price for one
// standard period starting now.
func (s *Service) PriceSubscription(plan store.Plan) Quote {
	now := s.now()
	return Quote{
		Base:     plan.Price,
		StartsAt: now,
		EndsAt:   now.AddDate(0, 0, s.baseDays()),
	}
}

// PriceAddon quotes an add-on purchase under the requested duration mode.
// following_subscription requires an active subscription and enough remaining
// days; both checks run before any money math.
func (s *Service) PriceAddon(ctx context.Context, userID pgtype.UUID, plan store.Plan, quantity int, mode string) (Quote, error) {
	if quantity < s.qtyMin() || quantity > s.qtyMax() {
		return Quote{}, ErrInvalidInput
	}
	now := s.now()

	switch mode {
	case DurationFixed30Days:
		return Quote{
			Base:     money.Money(quantity) * plan.MonthlyRate,
			StartsAt: now,
			EndsAt:   now.AddDate(0, 0, s.baseDays()),
		}, nil
	case DurationFollowingSubscription:
		sub, err := s.Q.GetActiveSubscriptionByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Quote{}, ErrNoActiveSubscription
			}
			return Quote{}, err
		}
		days := RemainingDays(sub.EndsAt.Time, now)
		if days < s.minDays() {
			return Quote{}, ErrSubscriptionEndingSoon
		}
		unit := ProRata(plan.MonthlyRate, days, s.baseDays())
		return Quote{
			Base:     money.Money(quantity) * unit,
			StartsAt: now,
			EndsAt:   sub.EndsAt.Time,
		}, nil
	default:
		return Quote{}, ErrInvalidInput
	}
}

// RemainingDays counts the days left until ends, rounding any partial day up
// so a sliver of remaining time still counts as a billable day.
func RemainingDays(ends, now time.Time) int {
	remaining := ends.Sub(now)
	if remaining <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	days := remaining / day
	if remaining%day > 0 {
		days++
	}
	return int(days)
}

// ProRata prices a partial period: round(monthlyRate × days / baseDays),
// half-up.
func ProRata(monthlyRate money.Money, days, baseDays int) money.Money {
	if monthlyRate <= 0 || days <= 0 || baseDays <= 0 {
		return 0
	}
	num := monthlyRate * money.Money(days)
	return (num + money.Money(baseDays)/2) / money.Money(baseDays)
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) baseDays() int {
	if s == nil || s.BaseDays <= 0 {
		return 30
	}
	return s.BaseDays
}

func (s *Service) minDays() int {
	if s == nil || s.MinDays <= 0 {
		return 7
	}
	return s.MinDays
}

func (s *Service) qtyMin() int {
	if s == nil || s.QtyMin <= 0 {
		return 1
	}
	return s.QtyMin
}

func (s *Service) qtyMax() int {
	if s == nil || s.QtyMax <= 0 {
		return 20
	}
	return s.QtyMax
}
