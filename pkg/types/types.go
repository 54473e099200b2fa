// Package types provides shared type definitions for the regime engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonSignal     ExitReason = "signal"
	ExitReasonMaxHolding ExitReason = "max_holding"
)

// Timeframe represents bar timeframes.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar duration for the timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case Timeframe1m:
		return time.Minute, nil
	case Timeframe5m:
		return 5 * time.Minute, nil
	case Timeframe15m:
		return 15 * time.Minute, nil
	case Timeframe1h:
		return time.Hour, nil
	case Timeframe4h:
		return 4 * time.Hour, nil
	case Timeframe1d:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe %q", string(tf))
	}
}

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IndicatorValues maps indicator identifiers to their value for one bar.
// Recomputed every bar, never persisted.
type IndicatorValues map[string]float64

// Trade represents a completed round trip.
type Trade struct {
	ID         string          `json:"id"`
	StrategyID string          `json:"strategyId"`
	Side       Side            `json:"side"`
	EntryTime  time.Time       `json:"entryTime"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitTime   time.Time       `json:"exitTime"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Size       decimal.Decimal `json:"size"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     float64         `json:"pnlPct"`
	Commission decimal.Decimal `json:"commission"`
	ExitReason ExitReason      `json:"exitReason"`
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// RegimeChange is an append-only record of one regime transition.
type RegimeChange struct {
	Timestamp  time.Time `json:"timestamp"`
	FromRegime string    `json:"fromRegime"`
	ToRegime   string    `json:"toRegime"`
	Confidence float64   `json:"confidence"`
}

// PerformanceMetrics represents performance metrics over a trade set.
type PerformanceMetrics struct {
	TotalTrades    int             `json:"totalTrades"`
	WinningTrades  int             `json:"winningTrades"`
	LosingTrades   int             `json:"losingTrades"`
	WinRate        float64         `json:"winRate"`
	ProfitFactor   float64         `json:"profitFactor"`
	NetProfit      decimal.Decimal `json:"netProfit"`
	NetProfitPct   float64         `json:"netProfitPct"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	MaxDrawdownPct float64         `json:"maxDrawdownPct"`
	Expectancy     decimal.Decimal `json:"expectancy"`
	AvgWin         decimal.Decimal `json:"avgWin"`
	AvgLoss        decimal.Decimal `json:"avgLoss"`
}

// BacktestResult represents the output of a simulation run.
type BacktestResult struct {
	Metrics       *PerformanceMetrics `json:"metrics"`
	Trades        []Trade             `json:"trades"`
	EquityCurve   []EquityCurvePoint  `json:"equityCurve"`
	RegimeHistory []RegimeChange      `json:"regimeHistory"`
	StartedAt     time.Time           `json:"startedAt"`
	CompletedAt   time.Time           `json:"completedAt"`
	BarsProcessed int                 `json:"barsProcessed"`
}

// WalkForwardPeriod is one rolling train/test window.
type WalkForwardPeriod struct {
	TrainStart       time.Time           `json:"trainStart"`
	TrainEnd         time.Time           `json:"trainEnd"`
	TestStart        time.Time           `json:"testStart"`
	TestEnd          time.Time           `json:"testEnd"`
	InSampleMetrics  *PerformanceMetrics `json:"inSampleMetrics"`
	OutSampleMetrics *PerformanceMetrics `json:"outSampleMetrics"`
}

// WalkForwardResult aggregates walk-forward windows.
type WalkForwardResult struct {
	StrategyID       string              `json:"strategyId"`
	Periods          []WalkForwardPeriod `json:"periods"`
	InSampleMetrics  *PerformanceMetrics `json:"inSampleMetrics"`
	OutSampleMetrics *PerformanceMetrics `json:"outSampleMetrics"`
	TotalOOSTrades   int                 `json:"totalOosTrades"`
}

// RobustnessGate holds minimum-performance thresholds a strategy must pass.
type RobustnessGate struct {
	MinTrades         int     `json:"minTrades"`
	MaxDrawdownPct    float64 `json:"maxDrawdownPct"`
	MinSharpe         float64 `json:"minSharpe"`
	MaxDegradationPct float64 `json:"maxDegradationPct"`
}

// RobustnessReport is the outcome of applying a RobustnessGate.
type RobustnessReport struct {
	PassesGate        bool           `json:"passesGate"`
	FailedChecks      []string       `json:"failedChecks"`
	TotalTrades       int            `json:"totalTrades"`
	MaxDrawdownPct    float64        `json:"maxDrawdownPct"`
	OOSSharpe         float64        `json:"oosSharpe"`
	OOSDegradationPct float64        `json:"oosDegradationPct"`
	Gate              RobustnessGate `json:"gate"`
}
