package backtester

import (
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// position is the single open position of a run. Created on entry, mutated
// only by the trailing-stop ratchet, destroyed on exit producing a Trade.
type position struct {
	strategyID string
	side       types.Side
	entryTime  time.Time
	entryPrice decimal.Decimal
	size       decimal.Decimal
	stopPrice  decimal.Decimal
	tpPrice    decimal.Decimal

	trailingPct float64
	maxHolding  int
	barsHeld    int

	entryCommission decimal.Decimal
}

func openPosition(strategyID string, side types.Side, entryTime time.Time, fillPrice, size decimal.Decimal, stopLossPct, takeProfitPct, trailingPct float64, maxHolding int, commission decimal.Decimal) *position {
	slFrac := decimal.NewFromFloat(stopLossPct).Div(hundred)
	tpFrac := decimal.NewFromFloat(takeProfitPct).Div(hundred)

	p := &position{
		strategyID:      strategyID,
		side:            side,
		entryTime:       entryTime,
		entryPrice:      fillPrice,
		size:            size,
		trailingPct:     trailingPct,
		maxHolding:      maxHolding,
		entryCommission: commission,
	}

	if side == types.SideLong {
		p.stopPrice = fillPrice.Mul(decimal.NewFromInt(1).Sub(slFrac))
		p.tpPrice = fillPrice.Mul(decimal.NewFromInt(1).Add(tpFrac))
	} else {
		p.stopPrice = fillPrice.Mul(decimal.NewFromInt(1).Add(slFrac))
		p.tpPrice = fillPrice.Mul(decimal.NewFromInt(1).Sub(tpFrac))
	}

	return p
}

// checkStops tests the bar's high/low against stop and take-profit to
// simulate intrabar touches. When both are touched on the same bar the
// stop-loss wins; that precedence is a deliberate, tested policy.
func (p *position) checkStops(bar types.OHLCV) (decimal.Decimal, types.ExitReason, bool) {
	if p.side == types.SideLong {
		if bar.Low.LessThanOrEqual(p.stopPrice) {
			return p.stopPrice, types.ExitReasonStopLoss, true
		}
		if bar.High.GreaterThanOrEqual(p.tpPrice) {
			return p.tpPrice, types.ExitReasonTakeProfit, true
		}
	} else {
		if bar.High.GreaterThanOrEqual(p.stopPrice) {
			return p.stopPrice, types.ExitReasonStopLoss, true
		}
		if bar.Low.LessThanOrEqual(p.tpPrice) {
			return p.tpPrice, types.ExitReasonTakeProfit, true
		}
	}
	return decimal.Zero, "", false
}

// updateTrailing ratchets the stop toward the close. The stop only ever
// tightens.
func (p *position) updateTrailing(close decimal.Decimal) {
	if p.trailingPct <= 0 {
		return
	}
	frac := decimal.NewFromFloat(p.trailingPct).Div(hundred)

	if p.side == types.SideLong {
		candidate := close.Mul(decimal.NewFromInt(1).Sub(frac))
		if candidate.GreaterThan(p.stopPrice) {
			p.stopPrice = candidate
		}
	} else {
		candidate := close.Mul(decimal.NewFromInt(1).Add(frac))
		if candidate.LessThan(p.stopPrice) {
			p.stopPrice = candidate
		}
	}
}

// value returns the position's marked value at the given price.
func (p *position) value(price decimal.Decimal) decimal.Decimal {
	return p.size.Mul(price)
}

// pnl returns the gross profit of closing at exitPrice.
func (p *position) pnl(exitPrice decimal.Decimal) decimal.Decimal {
	if p.side == types.SideLong {
		return exitPrice.Sub(p.entryPrice).Mul(p.size)
	}
	return p.entryPrice.Sub(exitPrice).Mul(p.size)
}
