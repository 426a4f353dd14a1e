package voucher

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/raisan/backend-ads/internal/money"
)

var (
	// ErrNotFound is returned when the code matches neither voucher source.
	ErrNotFound = errors.New("voucher not found")
	// ErrInactive is returned when the voucher has been switched off.
	ErrInactive = errors.New("voucher not active")
	// ErrExpired is returned when the validity window has closed.
	ErrExpired = errors.New("voucher expired")
	// ErrNotYetValid is returned when the validity window has not opened.
	ErrNotYetValid = errors.New("voucher not yet valid")
	// ErrPlanMismatch indicates the voucher is restricted to other plans.
	ErrPlanMismatch = errors.New("voucher not applicable to this plan")
	// ErrBelowMinimum indicates the purchase is under the voucher's floor.
	ErrBelowMinimum = errors.New("voucher minimum purchase not met")
	// ErrWrongType indicates a subscription-only or addon-only voucher was
	// used for the other purchase category.
	ErrWrongType = errors.New("voucher not applicable to this purchase type")
	// ErrExhausted indicates the voucher's usage quota is spent.
	ErrExhausted = errors.New("voucher usage limit reached")
)

// Purchase carries the context a voucher is evaluated against.
type Purchase struct {
	Base     money.Money
	PlanID   uuid.UUID
	Category string
}

// Rule captures the runtime constraints of a generic voucher.
type Rule struct {
	Code        string
	Kind        string
	Value       int64
	PercentBps  *int32
	MinPurchase money.Money
	MaxDiscount *money.Money
	ValidFrom   *time.Time
	ValidTo     *time.Time
	Active      bool
	PlanIDs     []uuid.UUID
	AppliesTo   string
	UsageLimit  *int32
	UsedCount   int32
}

// Validate checks the rule against the purchase at the provided instant. The
// checks run in a fixed order and stop at the first failure so a given
// voucher/context pair always yields the same rejection reason.
func (r Rule) Validate(now time.Time, p Purchase) error {
	if !r.Active {
		return ErrInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrExpired
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrNotYetValid
	}
	if len(r.PlanIDs) > 0 && !containsPlan(r.PlanIDs, p.PlanID) {
		return ErrPlanMismatch
	}
	if p.Base < r.MinPurchase {
		return ErrBelowMinimum
	}
	if r.AppliesTo != "" && r.AppliesTo != "all" && r.AppliesTo != p.Category {
		return ErrWrongType
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrExhausted
	}
	return nil
}

// Discount computes the rule's discount amount for the provided base.
func (r Rule) Discount(base money.Money) money.Money {
	switch r.Kind {
	case "percent":
		if r.PercentBps == nil {
			return 0
		}
		return money.PercentDiscount(base, *r.PercentBps, r.MaxDiscount)
	default:
		return money.FixedDiscount(base, r.Value)
	}
}

// AffiliateRule captures an affiliate referral code. Affiliate codes skip
// minimum-purchase, plan and window checks entirely: they are personal codes,
// not promotional campaigns.
type AffiliateRule struct {
	Code        string
	Kind        string
	Value       int64
	PercentBps  *int32
	AffiliateID uuid.UUID
	Active      bool
}

// Validate only rejects switched-off codes.
func (r AffiliateRule) Validate() error {
	if !r.Active {
		return ErrInactive
	}
	return nil
}

// Discount computes the affiliate discount, uncapped.
func (r AffiliateRule) Discount(base money.Money) money.Money {
	switch r.Kind {
	case "percent":
		if r.PercentBps == nil {
			return 0
		}
		return money.PercentDiscount(base, *r.PercentBps, nil)
	default:
		return money.FixedDiscount(base, r.Value)
	}
}

func containsPlan(ids []uuid.UUID, id uuid.UUID) bool {
	for _, el := range ids {
		if el == id {
			return true
		}
	}
	return false
}
