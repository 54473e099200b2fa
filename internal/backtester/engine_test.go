package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/pkg/types"
)

var engineEpoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func engineBar(hourOffset int, open, high, low, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: engineEpoch.Add(time.Duration(hourOffset) * time.Hour),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(1000),
	}
}

// breakoutDoc builds a minimal document: one price indicator, one
// entry-scoped regime firing above the threshold, one long strategy.
func breakoutDoc(t *testing.T, stopLossPct, takeProfitPct float64, maxHoldingBars int) *config.Document {
	t.Helper()
	yaml := `
version: "1"
indicators:
  - id: price
    type: close
    timeframe: 1h
regimes:
  - id: bullish
    scope: entry
    priority: 10
    conditions: {left: {indicator: price}, op: gte, right: {const: 100}}
strategies:
  - id: breakout
    side: long
    entry: {left: {indicator: price}, op: gte, right: {const: 100}}
    exit: {left: {indicator: price}, op: lt, right: {const: 95}}
    risk:
      stop_loss_pct: ` + decimal.NewFromFloat(stopLossPct).String() + `
      take_profit_pct: ` + decimal.NewFromFloat(takeProfitPct).String() + `
      position_size_pct: 10
      max_holding_bars: ` + decimal.NewFromInt(int64(maxHoldingBars)).String() + `
strategy_sets:
  - id: main
    strategies: [breakout]
routing_rules:
  - match: {all_of: [bullish]}
    strategy_set: main
    priority: 1
`
	doc, err := config.Parse(zap.NewNop(), []byte(yaml))
	require.NoError(t, err)
	return doc
}

func zeroCostConfig() Config {
	cfg := DefaultConfig()
	cfg.CommissionRate = decimal.Zero
	cfg.SlippageBps = decimal.Zero
	return cfg
}

func TestRunRejectsEmptySeries(t *testing.T) {
	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	_, err := engine.Run(context.Background(), breakoutDoc(t, 2, 4, 0), nil)
	require.Error(t, err)
}

func TestRunRejectsTooFineIndicatorUpFront(t *testing.T) {
	doc, err := config.Parse(zap.NewNop(), []byte(`
version: "1"
indicators:
  - id: fast
    type: close
    timeframe: 5m
`))
	require.NoError(t, err)

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	_, err = engine.Run(context.Background(), doc, []types.OHLCV{engineBar(0, 100, 100, 100, 100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-flight")
}

func TestStopLossFillsAtExactStopPrice(t *testing.T) {
	// entry at 100, 2% stop -> 98; the bar trades through to 97 but the
	// fill is the stop price itself
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 97, 99),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 50, 0), bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.ExitReasonStopLoss, trade.ExitReason)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(98)), "exit=%s", trade.ExitPrice)
	// size = 10000 * 10% / 100 = 10; pnl = (98-100)*10
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(-20)), "pnl=%s", trade.PnL)
	assert.InDelta(t, -2.0, trade.PnLPct, 1e-9)
}

func TestTakeProfitFillsAtExactTarget(t *testing.T) {
	// entry at 100, 4% take-profit -> 104; high spikes past it
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 106, 99, 103),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 4, 0), bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.ExitReasonTakeProfit, trade.ExitReason)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(104)), "exit=%s", trade.ExitPrice)
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(40)), "pnl=%s", trade.PnL)
}

func TestStopWinsWhenBothTouchedSameBar(t *testing.T) {
	// bar 1 sweeps both 98 and 104; the stop takes precedence
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 106, 97, 100),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 4, 0), bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, types.ExitReasonStopLoss, result.Trades[0].ExitReason)
}

func TestSignalExitAtClose(t *testing.T) {
	// wide stop and take-profit so only the exit condition (price < 95)
	// can fire; no costs, so the fill is the close
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 96, 97),
		engineBar(2, 97, 97, 94, 94),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 50, 50, 0), bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.ExitReasonSignal, trade.ExitReason)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(94)), "exit=%s", trade.ExitPrice)
}

func TestMaxHoldingBarsExit(t *testing.T) {
	bars := []types.OHLCV{
		engineBar(0, 100, 101, 100, 100),
		engineBar(1, 100, 101, 100, 100),
		engineBar(2, 100, 101, 100, 100),
		engineBar(3, 100, 101, 100, 100),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 50, 50, 2), bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.ExitReasonMaxHolding, trade.ExitReason)
	assert.Equal(t, engineEpoch.Add(2*time.Hour), trade.ExitTime)
}

func TestRegimeHistoryRecordsTransitions(t *testing.T) {
	// global scope keeps the regime a candidate whether or not a position
	// is open, so the history reflects market state alone
	yaml := `
version: "1"
indicators:
  - id: price
    type: close
    timeframe: 1h
regimes:
  - id: bullish
    scope: global
    priority: 10
    conditions: {left: {indicator: price}, op: gte, right: {const: 100}}
strategies:
  - id: breakout
    side: long
    entry: {left: {indicator: price}, op: gte, right: {const: 100}}
    exit: {left: {indicator: price}, op: lt, right: {const: 95}}
    risk: {stop_loss_pct: 50, take_profit_pct: 50, position_size_pct: 10}
strategy_sets:
  - id: main
    strategies: [breakout]
routing_rules:
  - match: {all_of: [bullish]}
    strategy_set: main
    priority: 1
`
	doc, err := config.Parse(zap.NewNop(), []byte(yaml))
	require.NoError(t, err)

	bars := []types.OHLCV{
		engineBar(0, 90, 91, 89, 90),    // below threshold: no regime
		engineBar(1, 100, 101, 99, 100), // bullish appears
		engineBar(2, 101, 102, 100, 101),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), doc, bars)
	require.NoError(t, err)

	require.Len(t, result.RegimeHistory, 1)
	change := result.RegimeHistory[0]
	assert.Equal(t, "none", change.FromRegime)
	assert.Equal(t, "bullish", change.ToRegime)
	assert.Equal(t, 1.0, change.Confidence)
	assert.Equal(t, engineEpoch.Add(time.Hour), change.Timestamp)
}

// Same seed, same inputs: bit-for-bit identical trades, ids included.
func TestRunDeterministicWithSeed(t *testing.T) {
	bars := []types.OHLCV{
		engineBar(0, 100, 101, 100, 100),
		engineBar(1, 100, 100, 97, 99),
		engineBar(2, 100, 101, 100, 100),
		engineBar(3, 100, 100, 97, 99),
	}

	cfg := zeroCostConfig()
	cfg.SlippageBps = decimal.NewFromInt(5)
	cfg.SlippageJitter = 0.5
	cfg.Seed = 1234

	run := func() *types.BacktestResult {
		engine := NewEngine(zap.NewNop(), cfg)
		result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 50, 0), bars)
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	require.Equal(t, len(first.Trades), len(second.Trades))
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.RegimeHistory, second.RegimeHistory)
}

func TestReusedEngineDeterministicWithSeed(t *testing.T) {
	bars := []types.OHLCV{
		engineBar(0, 100, 101, 100, 100),
		engineBar(1, 100, 100, 97, 99),
		engineBar(2, 100, 101, 100, 100),
		engineBar(3, 100, 100, 97, 99),
	}

	cfg := zeroCostConfig()
	cfg.SlippageBps = decimal.NewFromInt(5)
	cfg.SlippageJitter = 0.5
	cfg.Seed = 1234

	// One engine, two runs: the jitter stream must restart with each
	// run, not continue from where the first one left off.
	engine := NewEngine(zap.NewNop(), cfg)
	doc := breakoutDoc(t, 2, 50, 0)

	first, err := engine.Run(context.Background(), doc, bars)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), doc, bars)
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.RegimeHistory, second.RegimeHistory)
}

func TestDocSourceSwapsDocumentMidRun(t *testing.T) {
	// The initial document's regime threshold is unreachable, so nothing
	// routes until the source hands out the breakout document at bar 3.
	dormant, err := config.Parse(zap.NewNop(), []byte(`
version: "1"
indicators:
  - id: price
    type: close
    timeframe: 1h
regimes:
  - id: bullish
    scope: entry
    priority: 10
    conditions: {left: {indicator: price}, op: gte, right: {const: 1000}}
strategies:
  - id: breakout
    side: long
    entry: {left: {indicator: price}, op: gte, right: {const: 1000}}
    exit: {left: {indicator: price}, op: lt, right: {const: 95}}
    risk:
      stop_loss_pct: 2
      take_profit_pct: 4
      position_size_pct: 10
strategy_sets:
  - id: main
    strategies: [breakout]
routing_rules:
  - match: {all_of: [bullish]}
    strategy_set: main
    priority: 1
`))
	require.NoError(t, err)
	live := breakoutDoc(t, 2, 4, 0)

	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 100, 100),
		engineBar(2, 100, 100, 100, 100),
		engineBar(3, 100, 100, 100, 100),
		engineBar(4, 100, 105, 100, 100),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	calls := 0
	engine.DocSource = func() *config.Document {
		calls++
		if calls <= 3 {
			return dormant
		}
		return live
	}

	result, err := engine.Run(context.Background(), dormant, bars)
	require.NoError(t, err)

	// Entry happens on the first bar after the swap, not before.
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, bars[3].Timestamp, trade.EntryTime)
	assert.Equal(t, types.ExitReasonTakeProfit, trade.ExitReason)

	require.NotEmpty(t, result.RegimeHistory)
	assert.Equal(t, bars[3].Timestamp, result.RegimeHistory[0].Timestamp)
	assert.Equal(t, "bullish", result.RegimeHistory[0].ToRegime)
}

func TestDifferentSeedsProduceDifferentTradeIDs(t *testing.T) {
	bars := []types.OHLCV{
		engineBar(0, 100, 101, 100, 100),
		engineBar(1, 100, 100, 97, 99),
	}

	cfg := zeroCostConfig()
	run := func(seed int64) *types.BacktestResult {
		c := cfg
		c.Seed = seed
		engine := NewEngine(zap.NewNop(), c)
		result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 50, 0), bars)
		require.NoError(t, err)
		return result
	}

	a := run(1)
	b := run(2)
	require.Len(t, a.Trades, 1)
	require.Len(t, b.Trades, 1)
	assert.NotEqual(t, a.Trades[0].ID, b.Trades[0].ID)
}

func TestRunHonorsCancellation(t *testing.T) {
	bars := []types.OHLCV{engineBar(0, 100, 101, 100, 100)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	_, err := engine.Run(ctx, breakoutDoc(t, 2, 4, 0), bars)
	assert.ErrorIs(t, err, context.Canceled)
}

// Routing to a set with a strategy risk override must bake the overridden
// stop into the position opened during that cycle.
func TestStrategyOverrideWidensStop(t *testing.T) {
	yaml := `
version: "1"
indicators:
  - id: price
    type: close
    timeframe: 1h
regimes:
  - id: bullish
    scope: entry
    priority: 10
    conditions: {left: {indicator: price}, op: gte, right: {const: 100}}
strategies:
  - id: breakout
    side: long
    entry: {left: {indicator: price}, op: gte, right: {const: 100}}
    exit: {left: {indicator: price}, op: lt, right: {const: 0}}
    risk:
      stop_loss_pct: 2
      take_profit_pct: 50
      position_size_pct: 10
strategy_sets:
  - id: wide_stop
    strategies: [breakout]
    strategy_overrides:
      breakout: {stop_loss_pct: 10}
routing_rules:
  - match: {all_of: [bullish]}
    strategy_set: wide_stop
    priority: 1
`
	doc, err := config.Parse(zap.NewNop(), []byte(yaml))
	require.NoError(t, err)

	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 95, 96), // breaches the base 2% stop only
		engineBar(2, 96, 96, 89, 92),   // breaches the overridden 10% stop
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), doc, bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.ExitReasonStopLoss, trade.ExitReason)
	assert.Equal(t, engineEpoch.Add(2*time.Hour), trade.ExitTime)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(90)), "exit=%s", trade.ExitPrice)
}

func TestShortSideMirrorsStops(t *testing.T) {
	yaml := `
version: "1"
indicators:
  - id: price
    type: close
    timeframe: 1h
regimes:
  - id: bearish
    scope: entry
    priority: 10
    conditions: {left: {indicator: price}, op: lte, right: {const: 100}}
strategies:
  - id: fade
    side: short
    entry: {left: {indicator: price}, op: lte, right: {const: 100}}
    exit: {left: {indicator: price}, op: gt, right: {const: 1000}}
    risk:
      stop_loss_pct: 2
      take_profit_pct: 4
      position_size_pct: 10
strategy_sets:
  - id: main
    strategies: [fade]
routing_rules:
  - match: {all_of: [bearish]}
    strategy_set: main
    priority: 1
`
	doc, err := config.Parse(zap.NewNop(), []byte(yaml))
	require.NoError(t, err)

	// short from 100: stop 102 above, take-profit 96 below
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 95, 97), // trades through 96
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), doc, bars)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, types.SideShort, trade.Side)
	assert.Equal(t, types.ExitReasonTakeProfit, trade.ExitReason)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(96)), "exit=%s", trade.ExitPrice)
	// size 10, short pnl = (100-96)*10
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(40)), "pnl=%s", trade.PnL)
	assert.InDelta(t, 4.0, trade.PnLPct, 1e-9)
}

func TestEquityCurveTracksCash(t *testing.T) {
	bars := []types.OHLCV{
		engineBar(0, 100, 100, 100, 100),
		engineBar(1, 100, 100, 97, 99),
	}

	engine := NewEngine(zap.NewNop(), zeroCostConfig())
	result, err := engine.Run(context.Background(), breakoutDoc(t, 2, 50, 0), bars)
	require.NoError(t, err)

	require.Len(t, result.EquityCurve, 2)
	// after the -20 stop-loss, equity is 9980
	final := result.EquityCurve[1]
	assert.True(t, final.Equity.Equal(decimal.NewFromInt(9980)), "equity=%s", final.Equity)
	assert.True(t, final.Drawdown.IsPositive())
}
