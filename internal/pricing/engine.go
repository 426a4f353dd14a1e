package pricing

import (
	"github.com/raisan/backend-ads/internal/money"
)

// Summary aggregates the computed pricing components of one purchase.
type Summary struct {
	Base           money.Money
	Discount       money.Money
	Tax            money.Money
	SettlementCode int32
	Total          money.Money
}

// Compute calculates the full breakdown for a purchase. The discount is
// clamped to the base, tax applies to the discounted amount only, and the
// settlement code rides on top of the total untaxed.
func Compute(base, discount money.Money, taxBps int, settlementCode int32) Summary {
	if base < 0 {
		base = 0
	}
	if discount > base {
		discount = base
	}
	if discount < 0 {
		discount = 0
	}
	taxable := base - discount
	tax := money.Tax(taxable, taxBps)
	return Summary{
		Base:           base,
		Discount:       discount,
		Tax:            tax,
		SettlementCode: settlementCode,
		Total:          money.Total(taxable, tax, settlementCode),
	}
}
