package voucher

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateOrderIsDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	planID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	otherPlan := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	limit := int32(5)

	// A rule failing every check still reports only the first reason in the
	// fixed order: inactive, expired, not yet valid, plan mismatch, below
	// minimum, wrong type, exhausted.
	base := Rule{
		Code:        "STACKED",
		Kind:        "fixed_amount",
		Value:       1000,
		MinPurchase: 50_000,
		ValidFrom:   &future,
		ValidTo:     &past,
		Active:      false,
		PlanIDs:     []uuid.UUID{otherPlan},
		AppliesTo:   "subscription",
		UsageLimit:  &limit,
		UsedCount:   5,
	}
	purchase := Purchase{Base: 1000, PlanID: planID, Category: "addon"}

	steps := []struct {
		fix  func(*Rule)
		want error
	}{
		{func(r *Rule) {}, ErrInactive},
		{func(r *Rule) { r.Active = true }, ErrExpired},
		{func(r *Rule) { r.ValidTo = nil }, ErrNotYetValid},
		{func(r *Rule) { r.ValidFrom = nil }, ErrPlanMismatch},
		{func(r *Rule) { r.PlanIDs = nil }, ErrBelowMinimum},
		{func(r *Rule) { r.MinPurchase = 0 }, ErrWrongType},
		{func(r *Rule) { r.AppliesTo = "all" }, ErrExhausted},
		{func(r *Rule) { r.UsageLimit = nil }, nil},
	}
	rule := base
	for i, step := range steps {
		step.fix(&rule)
		err := rule.Validate(now, purchase)
		if !errors.Is(err, step.want) && !(err == nil && step.want == nil) {
			t.Fatalf("step %d: expected %v, got %v", i, step.want, err)
		}
		// Same inputs must always produce the same reason.
		if again := rule.Validate(now, purchase); !errors.Is(again, err) && !(again == nil && err == nil) {
			t.Fatalf("step %d: validation not deterministic: %v vs %v", i, err, again)
		}
	}
}

func TestRuleDiscountPercentCapped(t *testing.T) {
	bps := int32(1000)
	cap := int64(5000)
	rule := Rule{Kind: "percent", PercentBps: &bps, MaxDiscount: &cap}
	if got := rule.Discount(100_000); got != 5000 {
		t.Fatalf("expected capped discount 5000, got %d", got)
	}
}

func TestRuleDiscountFixedClamped(t *testing.T) {
	rule := Rule{Kind: "fixed_amount", Value: 150_000}
	if got := rule.Discount(100_000); got != 100_000 {
		t.Fatalf("expected discount clamped to base, got %d", got)
	}
}

func TestAffiliateRuleSkipsCampaignChecks(t *testing.T) {
	// An affiliate rule has no minimum purchase, window or plan scope to
	// fail; only the active flag matters.
	rule := AffiliateRule{Code: "PARTNER10", Kind: "percent", Active: true}
	bps := int32(1000)
	rule.PercentBps = &bps
	if err := rule.Validate(); err != nil {
		t.Fatalf("expected active affiliate rule to validate, got %v", err)
	}
	if got := rule.Discount(1000); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	rule.Active = false
	if err := rule.Validate(); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}
