package backtester

import (
	"math"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// MetricsCalculator computes performance metrics over trades and an equity
// curve.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a metrics calculator.
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes all performance metrics.
func (mc *MetricsCalculator) Calculate(trades []types.Trade, equityCurve []types.EquityCurvePoint, initialCapital decimal.Decimal) *types.PerformanceMetrics {
	metrics := &types.PerformanceMetrics{}
	if len(trades) == 0 {
		return metrics
	}

	var winning, losing int
	var totalWins, totalLosses, netProfit decimal.Decimal

	for _, trade := range trades {
		netProfit = netProfit.Add(trade.PnL)
		if trade.PnL.GreaterThan(decimal.Zero) {
			winning++
			totalWins = totalWins.Add(trade.PnL)
		} else if trade.PnL.LessThan(decimal.Zero) {
			losing++
			totalLosses = totalLosses.Add(trade.PnL.Abs())
		}
	}

	metrics.TotalTrades = len(trades)
	metrics.WinningTrades = winning
	metrics.LosingTrades = losing
	metrics.NetProfit = netProfit

	if !initialCapital.IsZero() {
		pct, _ := netProfit.Div(initialCapital).Float64()
		metrics.NetProfitPct = pct * 100
	}

	metrics.WinRate = float64(winning) / float64(len(trades))

	if winning > 0 {
		metrics.AvgWin = totalWins.Div(decimal.NewFromInt(int64(winning)))
	}
	if losing > 0 {
		metrics.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(losing)))
	}

	if !totalLosses.IsZero() {
		pf, _ := totalWins.Div(totalLosses).Float64()
		metrics.ProfitFactor = pf
	} else if !totalWins.IsZero() {
		metrics.ProfitFactor = math.Inf(1)
	}

	// Expectancy: win% * avgWin - loss% * avgLoss.
	winPct := decimal.NewFromFloat(metrics.WinRate)
	lossPct := decimal.NewFromInt(1).Sub(winPct)
	metrics.Expectancy = winPct.Mul(metrics.AvgWin).Sub(lossPct.Mul(metrics.AvgLoss))

	metrics.SharpeRatio = mc.sharpe(tradeReturns(trades))

	if len(equityCurve) > 0 {
		metrics.MaxDrawdownPct = mc.maxDrawdown(equityCurve) * 100
	} else {
		metrics.MaxDrawdownPct = mc.drawdownFromTrades(trades, initialCapital) * 100
	}

	return metrics
}

// FromTrades computes metrics for a trade slice alone, synthesizing the
// equity path from cumulative P&L. Used by walk-forward windows, which
// carry no per-bar equity curve.
func (mc *MetricsCalculator) FromTrades(trades []types.Trade, initialCapital decimal.Decimal) *types.PerformanceMetrics {
	return mc.Calculate(trades, nil, initialCapital)
}

// sharpe is the mean over standard deviation of per-trade returns. With
// trades as the sampling unit there is no calendar annualization.
func (mc *MetricsCalculator) sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := mean(returns)
	sd := stdDev(returns, mean)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

func (mc *MetricsCalculator) maxDrawdown(equityCurve []types.EquityCurvePoint) float64 {
	var maxDD decimal.Decimal
	if len(equityCurve) == 0 {
		return 0
	}
	peak := equityCurve[0].Equity

	for _, point := range equityCurve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(point.Equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	out, _ := maxDD.Float64()
	return out
}

// drawdownFromTrades walks cumulative trade P&L as a synthetic equity path.
func (mc *MetricsCalculator) drawdownFromTrades(trades []types.Trade, initialCapital decimal.Decimal) float64 {
	equity := initialCapital
	peak := equity
	var maxDD decimal.Decimal

	for _, trade := range trades {
		equity = equity.Add(trade.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	out, _ := maxDD.Float64()
	return out
}

func tradeReturns(trades []types.Trade) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.PnLPct / 100
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
