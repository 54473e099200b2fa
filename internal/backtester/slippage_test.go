package backtester

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFixedSlippageRate(t *testing.T) {
	m := NewFixedSlippage(decimal.NewFromInt(10))
	// 10 bps = 0.001
	assert.True(t, m.Rate().Equal(decimal.NewFromFloat(0.001)), "rate=%s", m.Rate())
	assert.True(t, m.Rate().Equal(m.Rate()))
}

func TestJitteredSlippageDeterministicPerSeed(t *testing.T) {
	draw := func(seed int64) []string {
		m := NewJitteredSlippage(decimal.NewFromInt(10), 0.5, seed)
		out := make([]string, 8)
		for i := range out {
			out[i] = m.Rate().String()
		}
		return out
	}

	assert.Equal(t, draw(7), draw(7))
	assert.NotEqual(t, draw(7), draw(8))
}

func TestJitteredSlippageStaysWithinBand(t *testing.T) {
	m := NewJitteredSlippage(decimal.NewFromInt(100), 0.5, 1)
	base := decimal.NewFromFloat(0.01)
	lo := base.Mul(decimal.NewFromFloat(0.5))
	hi := base.Mul(decimal.NewFromFloat(1.5))

	for i := 0; i < 100; i++ {
		r := m.Rate()
		assert.True(t, r.GreaterThanOrEqual(lo) && r.LessThanOrEqual(hi), "rate=%s", r)
	}
}

func TestJitteredSlippageZeroJitterIsFixed(t *testing.T) {
	m := NewJitteredSlippage(decimal.NewFromInt(10), 0, 1)
	fixed := NewFixedSlippage(decimal.NewFromInt(10))
	assert.True(t, m.Rate().Equal(fixed.Rate()))
}
