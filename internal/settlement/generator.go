package settlement

import (
	"context"
	"errors"
	"math/rand/v2"
)

// ErrCodesExhausted is returned when every drawn candidate collided with a
// pending transaction. The purchase fails closed rather than reuse a code and
// make bank-transfer reconciliation ambiguous.
var ErrCodesExhausted = errors.New("settlement codes exhausted")

// Querier reports whether a candidate code is already held by a
// not-yet-settled transaction.
type Querier interface {
	SettlementCodeInUse(ctx context.Context, code int32) (bool, error)
}

// Generator draws small random codes added to transfer totals so payments
// arriving on a shared bank account can be told apart. The pre-check here is
// advisory; the partial unique index on pending transactions is the authority
// and callers retry on insert conflicts.
type Generator struct {
	Q           Querier
	Min         int32
	Max         int32
	MaxAttempts int
	// IntN draws a random int in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// Generate draws candidate codes until one is free of pending transactions or
// the attempt budget runs out.
func (g *Generator) Generate(ctx context.Context) (int32, error) {
	min, max := g.bounds()
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	span := int(max-min) + 1
	for i := 0; i < attempts; i++ {
		code := min + int32(g.intN(span))
		used, err := g.Q.SettlementCodeInUse(ctx, code)
		if err != nil {
			return 0, err
		}
		if !used {
			return code, nil
		}
	}
	return 0, ErrCodesExhausted
}

func (g *Generator) bounds() (int32, int32) {
	min, max := g.Min, g.Max
	if min <= 0 {
		min = 100
	}
	if max <= min {
		max = min + 899
	}
	return min, max
}

func (g *Generator) intN(n int) int {
	if g.IntN != nil {
		return g.IntN(n)
	}
	return rand.IntN(n)
}
