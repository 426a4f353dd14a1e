package money

// Money represents a monetary value stored in whole minor units. Fractions
// are never persisted; every operation rounds before returning.
type Money = int64

// PercentDiscount computes a basis-point share of base, truncated to whole
// units. When cap is non-nil the result is clamped to it. The result never
// exceeds base and is never negative.
func PercentDiscount(base Money, bps int32, cap *Money) Money {
	if base <= 0 || bps <= 0 {
		return 0
	}
	discount := (base * Money(bps)) / 10000
	if cap != nil && *cap >= 0 && discount > *cap {
		discount = *cap
	}
	if discount > base {
		discount = base
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// FixedDiscount clamps a fixed discount so it can never exceed the amount it
// discounts.
func FixedDiscount(base, amount Money) Money {
	if base <= 0 || amount <= 0 {
		return 0
	}
	if amount > base {
		return base
	}
	return amount
}

// Tax computes the tax due on an already-discounted amount using a basis-point
// rate, rounding half-up to the nearest whole unit.
func Tax(taxable Money, bps int) Money {
	if taxable <= 0 || bps <= 0 {
		return 0
	}
	return (taxable*Money(bps) + 5000) / 10000
}

// Total sums the discounted base, tax and settlement code. The taxable amount
// is clamped at zero so an over-sized discount cannot drive the total negative.
func Total(taxable, tax Money, settlementCode int32) Money {
	if taxable < 0 {
		taxable = 0
	}
	return taxable + tax + Money(settlementCode)
}
