package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/internal/rules"
	"github.com/regimeflow/regimeflow/pkg/types"
)

const sampleDocument = `
version: "1"
indicators:
  - id: adx
    type: adx
    timeframe: 1h
    params: {period: 14}
  - id: rsi
    type: rsi
    timeframe: 1h
    params: {period: 14}
  - id: atr_daily
    type: atr
    timeframe: 1d
    params: {period: 14}
regimes:
  - id: trending
    name: Trending
    scope: entry
    priority: 10
    conditions:
      left: {indicator: adx}
      op: gt
      right: {const: 25}
  - id: ranging
    name: Ranging
    priority: 5
    conditions:
      all:
        - left: {indicator: adx}
          op: lte
          right: {const: 25}
        - left: {indicator: rsi}
          op: between
          right: {bounds: [40, 60]}
strategies:
  - id: trend_follow
    side: long
    entry:
      left: {indicator: rsi}
      op: gt
      right: {const: 55}
    exit:
      left: {indicator: rsi}
      op: lt
      right: {const: 45}
    risk:
      stop_loss_pct: 2
      take_profit_pct: 4
      position_size_pct: 10
strategy_sets:
  - id: aggressive_set
    strategies: [trend_follow]
    indicator_overrides:
      rsi: {period: 7}
    strategy_overrides:
      trend_follow: {stop_loss_pct: 3}
routing_rules:
  - match:
      all_of: [trending]
      none_of: [ranging]
    strategy_set: aggressive_set
    priority: 100
`

func TestParseSampleDocument(t *testing.T) {
	doc, err := Parse(zap.NewNop(), []byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "1", doc.Version)
	assert.Len(t, doc.Indicators, 3)
	assert.Len(t, doc.Regimes, 2)
	assert.Len(t, doc.Strategies, 1)
	assert.Len(t, doc.StrategySets, 1)
	assert.Len(t, doc.RoutingRules, 1)

	trending, ok := doc.Regime("trending")
	require.True(t, ok)
	assert.Equal(t, ScopeEntry, trending.Scope)
	assert.Equal(t, 10, trending.Priority)
	require.NotNil(t, trending.Conditions.Cond)
	assert.Equal(t, rules.OpGT, trending.Conditions.Cond.Op)

	ranging, ok := doc.Regime("ranging")
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, ranging.Scope) // unset scope defaults to global
	require.NotNil(t, ranging.Conditions.Group)
	assert.Len(t, ranging.Conditions.Group.All, 2)
	between := ranging.Conditions.Group.All[1].Cond
	require.NotNil(t, between)
	assert.Equal(t, rules.OperandBounds, between.Right.Kind)
	assert.Equal(t, 40.0, between.Right.Low)
	assert.Equal(t, 60.0, between.Right.High)

	strat, ok := doc.Strategy("trend_follow")
	require.True(t, ok)
	assert.Equal(t, types.SideLong, strat.Side)
	assert.Equal(t, 2.0, strat.Risk.StopLossPct)

	set, ok := doc.StrategySet("aggressive_set")
	require.True(t, ok)
	assert.Equal(t, 7.0, set.IndicatorOverrides["rsi"]["period"])
	assert.Equal(t, 3.0, set.StrategyOverrides["trend_follow"]["stop_loss_pct"])
}

func TestParseRejectsDanglingReferences(t *testing.T) {
	broken := `
version: "1"
indicators:
  - id: adx
    type: adx
    timeframe: 1h
regimes:
  - id: trending
    scope: entry
    priority: 1
    conditions:
      left: {indicator: ghost}
      op: gt
      right: {const: 25}
strategies:
  - id: s1
    entry:
      left: {indicator: adx}
      op: gt
      right: {const: 20}
    exit:
      left: {indicator: adx}
      op: lt
      right: {const: 15}
    risk: {stop_loss_pct: 2, take_profit_pct: 4, position_size_pct: 10}
strategy_sets:
  - id: set1
    strategies: [s1, missing_strategy]
routing_rules:
  - match: {all_of: [trending, missing_regime]}
    strategy_set: missing_set
    priority: 1
`
	_, err := Parse(zap.NewNop(), []byte(broken))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	// every problem reported at once, nothing partially applied
	assert.Len(t, verr.Problems, 4)
	assert.Contains(t, err.Error(), `unknown indicator "ghost"`)
	assert.Contains(t, err.Error(), `unknown strategy "missing_strategy"`)
	assert.Contains(t, err.Error(), `unknown regime "missing_regime"`)
	assert.Contains(t, err.Error(), `unknown strategy set "missing_set"`)
}

func TestParseRejectsInvalidScope(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: adx
    type: adx
    timeframe: 1h
regimes:
  - id: r1
    scope: bogus
    priority: 1
    conditions:
      left: {indicator: adx}
      op: gt
      right: {const: 25}
`
	_, err := Parse(zap.NewNop(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid scope "bogus"`)
}

func TestParseRejectsInvertedBounds(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: rsi
    type: rsi
    timeframe: 1h
regimes:
  - id: r1
    scope: entry
    priority: 1
    conditions:
      left: {indicator: rsi}
      op: between
      right: {bounds: [60, 40]}
`
	_, err := Parse(zap.NewNop(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bounds inverted")
}

func TestParseRejectsAmbiguousOperand(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: rsi
    type: rsi
    timeframe: 1h
regimes:
  - id: r1
    scope: entry
    priority: 1
    conditions:
      left: {indicator: rsi, const: 5}
      op: gt
      right: {const: 50}
`
	_, err := Parse(zap.NewNop(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be both const and indicator")
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: rsi
    type: rsi
    timeframe: 1h
  - id: rsi
    type: rsi
    timeframe: 4h
`
	_, err := Parse(zap.NewNop(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseRejectsNonPositiveRisk(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: rsi
    type: rsi
    timeframe: 1h
strategies:
  - id: s1
    entry:
      left: {indicator: rsi}
      op: gt
      right: {const: 50}
    exit:
      left: {indicator: rsi}
      op: lt
      right: {const: 40}
    risk: {stop_loss_pct: 0, take_profit_pct: 4, position_size_pct: 10}
`
	_, err := Parse(zap.NewNop(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_loss_pct must be positive")
}

func TestRoutingRulesSortedByPriority(t *testing.T) {
	doc := `
version: "1"
indicators:
  - id: adx
    type: adx
    timeframe: 1h
regimes:
  - id: r1
    scope: entry
    priority: 1
    conditions:
      left: {indicator: adx}
      op: gt
      right: {const: 25}
strategies:
  - id: s1
    entry:
      left: {indicator: adx}
      op: gt
      right: {const: 20}
    exit:
      left: {indicator: adx}
      op: lt
      right: {const: 15}
    risk: {stop_loss_pct: 2, take_profit_pct: 4, position_size_pct: 10}
strategy_sets:
  - id: low_a
    strategies: [s1]
  - id: high
    strategies: [s1]
  - id: low_b
    strategies: [s1]
routing_rules:
  - match: {all_of: [r1]}
    strategy_set: low_a
    priority: 1
  - match: {all_of: [r1]}
    strategy_set: high
    priority: 10
  - match: {all_of: [r1]}
    strategy_set: low_b
    priority: 1
`
	parsed, err := Parse(zap.NewNop(), []byte(doc))
	require.NoError(t, err)

	require.Len(t, parsed.RoutingRules, 3)
	assert.Equal(t, "high", parsed.RoutingRules[0].StrategySetID)
	// stable sort keeps configuration order for equal priorities
	assert.Equal(t, "low_a", parsed.RoutingRules[1].StrategySetID)
	assert.Equal(t, "low_b", parsed.RoutingRules[2].StrategySetID)
}
