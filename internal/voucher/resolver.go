package voucher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/raisan/backend-ads/internal/money"
	"github.com/raisan/backend-ads/internal/store"
)

// Querier captures the database reads required by the resolver.
type Querier interface {
	GetAffiliateVoucherByCode(ctx context.Context, code string) (store.AffiliateVoucher, error)
	GetVoucherByCode(ctx context.Context, code string) (store.Voucher, error)
}

// Discount describes a resolved, validated discount ready to be applied.
// A zero Discount (Code == "") means the purchase proceeds undiscounted.
// For percent vouchers PercentBps holds the rate applied; the audit ledger
// copies it so a later edit of the voucher cannot rewrite history.
type Discount struct {
	Code               string
	Kind               string
	Value              int64
	PercentBps         *int32
	Amount             money.Money
	VoucherID          pgtype.UUID
	AffiliateVoucherID pgtype.UUID
	AffiliateID        *uuid.UUID
}

// Applied reports whether a voucher was actually resolved.
func (d Discount) Applied() bool {
	return d.Code != ""
}

// Service resolves voucher codes against both discount sources.
type Service struct {
	Q   Querier
	Now func() time.Time
}

// Resolve normalises the code and resolves it to a validated discount. The
// affiliate source wins when a code exists in both tables. An empty code is
// not an error: vouchers are optional.
func (s *Service) Resolve(ctx context.Context, code string, p Purchase) (Discount, error) {
	if s == nil || s.Q == nil {
		return Discount{}, errors.New("voucher resolver not configured")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Discount{}, nil
	}

	aff, err := s.Q.GetAffiliateVoucherByCode(ctx, normalized)
	if err == nil {
		rule := AffiliateRuleFromModel(aff)
		if err := rule.Validate(); err != nil {
			return Discount{}, err
		}
		affiliateID := rule.AffiliateID
		return Discount{
			Code:               aff.Code,
			Kind:               aff.Kind,
			Value:              aff.Value,
			PercentBps:         rule.PercentBps,
			Amount:             rule.Discount(p.Base),
			AffiliateVoucherID: aff.ID,
			AffiliateID:        &affiliateID,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Discount{}, err
	}

	generic, err := s.Q.GetVoucherByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Discount{}, ErrNotFound
		}
		return Discount{}, err
	}
	rule := RuleFromModel(generic)
	if err := rule.Validate(s.now(), p); err != nil {
		return Discount{}, err
	}
	return Discount{
		Code:       generic.Code,
		Kind:       generic.Kind,
		Value:      generic.Value,
		PercentBps: rule.PercentBps,
		Amount:     rule.Discount(p.Base),
		VoucherID:  generic.ID,
	}, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RuleFromModel converts a voucher row into a Rule used for evaluation.
func RuleFromModel(v store.Voucher) Rule {
	rule := Rule{
		Code:        v.Code,
		Kind:        v.Kind,
		Value:       v.Value,
		MinPurchase: v.MinPurchase,
		Active:      v.Active,
		AppliesTo:   v.AppliesTo,
		UsedCount:   v.UsedCount,
	}
	if v.PercentBps.Valid {
		bps := v.PercentBps.Int32
		rule.PercentBps = &bps
	}
	if v.MaxDiscount.Valid {
		cap := v.MaxDiscount.Int64
		rule.MaxDiscount = &cap
	}
	if v.ValidFrom.Valid {
		rule.ValidFrom = &v.ValidFrom.Time
	}
	if v.ValidTo.Valid {
		rule.ValidTo = &v.ValidTo.Time
	}
	if v.UsageLimit.Valid {
		limit := v.UsageLimit.Int32
		rule.UsageLimit = &limit
	}
	rule.PlanIDs = toUUIDSlice(v.PlanIds)
	return rule
}

// AffiliateRuleFromModel converts an affiliate voucher row into its rule.
func AffiliateRuleFromModel(v store.AffiliateVoucher) AffiliateRule {
	rule := AffiliateRule{
		Code:   v.Code,
		Kind:   v.Kind,
		Value:  v.Value,
		Active: v.Active,
	}
	if v.PercentBps.Valid {
		bps := v.PercentBps.Int32
		rule.PercentBps = &bps
	}
	if v.AffiliateID.Valid {
		rule.AffiliateID = uuid.UUID(v.AffiliateID.Bytes)
	}
	return rule
}

func toUUIDSlice(values []pgtype.UUID) []uuid.UUID {
	if len(values) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, uuid.UUID(v.Bytes))
		}
	}
	return out
}
