// Package backtester provides the deterministic bar-by-bar simulator and
// its validation tooling.
package backtester

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

// SlippageModel returns the fractional slippage applied to a fill. The
// engine worsens the fill in the direction of the trade: buys fill higher,
// sells fill lower.
type SlippageModel interface {
	Rate() decimal.Decimal
}

// FixedSlippage applies a constant slippage in basis points.
type FixedSlippage struct {
	bps decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{bps: bps}
}

// Rate returns the fixed fractional slippage.
func (f *FixedSlippage) Rate() decimal.Decimal {
	return f.bps.Div(decimal.NewFromInt(10000))
}

// JitteredSlippage applies a base rate with a seeded uniform jitter. The
// seed is the only randomness allowed anywhere in the simulation path, so
// runs with equal seeds produce identical fills.
type JitteredSlippage struct {
	bps    decimal.Decimal
	jitter float64
	rng    *rand.Rand
}

// NewJitteredSlippage creates a jittered model. jitter is the maximum
// relative deviation from the base rate, e.g. 0.5 for +-50%.
func NewJitteredSlippage(bps decimal.Decimal, jitter float64, seed int64) *JitteredSlippage {
	return &JitteredSlippage{
		bps:    bps,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Rate returns the jittered fractional slippage.
func (j *JitteredSlippage) Rate() decimal.Decimal {
	base := j.bps.Div(decimal.NewFromInt(10000))
	if j.jitter == 0 {
		return base
	}
	factor := 1 + j.jitter*(j.rng.Float64()*2-1)
	return base.Mul(decimal.NewFromFloat(factor))
}
