package backtester

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalkForwardConfig shapes the rolling train/test windows.
type WalkForwardConfig struct {
	TrainWindow time.Duration
	TestWindow  time.Duration
	Step        time.Duration
}

// DefaultWalkForwardConfig returns a 30d/7d split stepping weekly.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{
		TrainWindow: 30 * 24 * time.Hour,
		TestWindow:  7 * 24 * time.Hour,
		Step:        7 * 24 * time.Hour,
	}
}

// WalkForwardEvaluator splits a trade history into rolling train/test
// windows and measures how far out-of-sample performance degrades from
// in-sample.
type WalkForwardEvaluator struct {
	logger         *zap.Logger
	calc           *MetricsCalculator
	initialCapital decimal.Decimal
}

// NewWalkForwardEvaluator creates a walk-forward evaluator.
func NewWalkForwardEvaluator(logger *zap.Logger, initialCapital decimal.Decimal) *WalkForwardEvaluator {
	return &WalkForwardEvaluator{
		logger:         logger,
		calc:           NewMetricsCalculator(),
		initialCapital: initialCapital,
	}
}

// Run walks windows from the earliest to the latest trade timestamp. Each
// window's metrics are computed separately over the training slice and the
// immediately following test slice, then aggregated by arithmetic mean.
func (wf *WalkForwardEvaluator) Run(strategyID string, trades []types.Trade, cfg WalkForwardConfig) (*types.WalkForwardResult, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to evaluate")
	}
	if cfg.TrainWindow <= 0 || cfg.TestWindow <= 0 || cfg.Step <= 0 {
		return nil, fmt.Errorf("train, test and step windows must be positive")
	}

	sorted := make([]types.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	first := sorted[0].ExitTime
	last := sorted[len(sorted)-1].ExitTime

	result := &types.WalkForwardResult{StrategyID: strategyID}

	for cur := first; !cur.Add(cfg.TrainWindow + cfg.TestWindow).After(last.Add(time.Nanosecond)); cur = cur.Add(cfg.Step) {
		trainEnd := cur.Add(cfg.TrainWindow)
		testEnd := trainEnd.Add(cfg.TestWindow)

		// Windows are half-open, so a trade exiting exactly at the last
		// timestamp would fall past every window when testEnd lands on
		// it; that boundary is made inclusive.
		sliceEnd := testEnd
		if testEnd.Equal(last) {
			sliceEnd = testEnd.Add(time.Nanosecond)
		}

		trainSlice := tradesWithin(sorted, cur, trainEnd)
		testSlice := tradesWithin(sorted, trainEnd, sliceEnd)

		period := types.WalkForwardPeriod{
			TrainStart:       cur,
			TrainEnd:         trainEnd,
			TestStart:        trainEnd,
			TestEnd:          testEnd,
			InSampleMetrics:  wf.calc.FromTrades(trainSlice, wf.initialCapital),
			OutSampleMetrics: wf.calc.FromTrades(testSlice, wf.initialCapital),
		}
		result.Periods = append(result.Periods, period)
		result.TotalOOSTrades += len(testSlice)
	}

	if len(result.Periods) == 0 {
		return nil, fmt.Errorf("trade history shorter than one train+test window")
	}

	result.InSampleMetrics = wf.aggregate(result.Periods, func(p types.WalkForwardPeriod) *types.PerformanceMetrics { return p.InSampleMetrics })
	result.OutSampleMetrics = wf.aggregate(result.Periods, func(p types.WalkForwardPeriod) *types.PerformanceMetrics { return p.OutSampleMetrics })

	wf.logger.Info("Walk-forward analysis complete",
		zap.String("strategy", strategyID),
		zap.Int("windows", len(result.Periods)),
		zap.Int("oosTrades", result.TotalOOSTrades),
	)

	return result, nil
}

// ValidateRobustness applies the gate. Every check runs independently so
// the report names all failures, not just the first.
func (wf *WalkForwardEvaluator) ValidateRobustness(result *types.WalkForwardResult, gate types.RobustnessGate) *types.RobustnessReport {
	report := &types.RobustnessReport{
		Gate:           gate,
		TotalTrades:    result.TotalOOSTrades,
		MaxDrawdownPct: result.OutSampleMetrics.MaxDrawdownPct,
		OOSSharpe:      result.OutSampleMetrics.SharpeRatio,
	}

	isSharpe := result.InSampleMetrics.SharpeRatio
	if isSharpe != 0 {
		report.OOSDegradationPct = (isSharpe - report.OOSSharpe) / isSharpe * 100
	}

	if report.TotalTrades < gate.MinTrades {
		report.FailedChecks = append(report.FailedChecks, "min_trades")
	}
	if report.MaxDrawdownPct > gate.MaxDrawdownPct {
		report.FailedChecks = append(report.FailedChecks, "max_drawdown")
	}
	if report.OOSSharpe < gate.MinSharpe {
		report.FailedChecks = append(report.FailedChecks, "min_sharpe")
	}
	if report.OOSDegradationPct > gate.MaxDegradationPct {
		report.FailedChecks = append(report.FailedChecks, "max_degradation")
	}

	report.PassesGate = len(report.FailedChecks) == 0
	return report
}

// Compare ranks strategies by a weighted composite of normalized
// out-of-sample Sharpe (40%), win rate (20%), profit factor (20%) and
// inverted max drawdown (20%). Returns results sorted best first.
func (wf *WalkForwardEvaluator) Compare(results []*types.WalkForwardResult) []*types.WalkForwardResult {
	if len(results) < 2 {
		return results
	}

	sharpes := make([]float64, len(results))
	winRates := make([]float64, len(results))
	profitFactors := make([]float64, len(results))
	drawdowns := make([]float64, len(results))

	for i, r := range results {
		sharpes[i] = r.OutSampleMetrics.SharpeRatio
		winRates[i] = r.OutSampleMetrics.WinRate
		pf := r.OutSampleMetrics.ProfitFactor
		if math.IsInf(pf, 1) {
			pf = 10 // cap for normalization
		}
		profitFactors[i] = pf
		drawdowns[i] = r.OutSampleMetrics.MaxDrawdownPct
	}

	scores := make(map[string]float64, len(results))
	for i, r := range results {
		score := 0.4*normalize(sharpes[i], sharpes) +
			0.2*winRates[i] +
			0.2*normalize(profitFactors[i], profitFactors) +
			0.2*(1-normalize(drawdowns[i], drawdowns))
		scores[r.StrategyID] = score
	}

	ranked := make([]*types.WalkForwardResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].StrategyID] > scores[ranked[j].StrategyID]
	})
	return ranked
}

func (wf *WalkForwardEvaluator) aggregate(periods []types.WalkForwardPeriod, pick func(types.WalkForwardPeriod) *types.PerformanceMetrics) *types.PerformanceMetrics {
	agg := &types.PerformanceMetrics{}
	n := float64(len(periods))
	var netProfit decimal.Decimal

	for _, p := range periods {
		m := pick(p)
		agg.TotalTrades += m.TotalTrades
		agg.WinningTrades += m.WinningTrades
		agg.LosingTrades += m.LosingTrades
		agg.WinRate += m.WinRate / n
		if !math.IsInf(m.ProfitFactor, 1) {
			agg.ProfitFactor += m.ProfitFactor / n
		}
		agg.SharpeRatio += m.SharpeRatio / n
		agg.MaxDrawdownPct += m.MaxDrawdownPct / n
		agg.NetProfitPct += m.NetProfitPct / n
		netProfit = netProfit.Add(m.NetProfit)
	}

	agg.NetProfit = netProfit
	return agg
}

func tradesWithin(sorted []types.Trade, start, end time.Time) []types.Trade {
	var out []types.Trade
	for _, t := range sorted {
		if t.ExitTime.Before(start) || !t.ExitTime.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func normalize(v float64, all []float64) float64 {
	lo, hi := all[0], all[0]
	for _, x := range all {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}
