package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/pkg/types"
)

func leafGT(indicator string, threshold float64) Node {
	return Leaf(Condition{Left: Indicator(indicator), Op: OpGT, Right: Constant(threshold)})
}

func TestEvaluateComparisons(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	values := types.IndicatorValues{"rsi": 55}

	cases := []struct {
		name string
		op   Operator
		rhs  float64
		want bool
	}{
		{"gt true", OpGT, 50, true},
		{"gt false", OpGT, 55, false},
		{"gte boundary", OpGTE, 55, true},
		{"lt false", OpLT, 55, false},
		{"lte boundary", OpLTE, 55, true},
		{"eq", OpEQ, 55, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eval.Evaluate(Leaf(Condition{
				Left:  Indicator("rsi"),
				Op:    tc.op,
				Right: Constant(tc.rhs),
			}), values)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateBetweenInclusive(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	node := Leaf(Condition{Left: Indicator("rsi"), Op: OpBetween, Right: Bounds(40, 60)})

	for _, tc := range []struct {
		value float64
		want  bool
	}{
		{39.999, false},
		{40, true},
		{50, true},
		{60, true},
		{60.001, false},
	} {
		got, err := eval.Evaluate(node, types.IndicatorValues{"rsi": tc.value})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "rsi=%v", tc.value)
	}
}

func TestEvaluateScaledIndicator(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	// 2*atr + 1 > 5 with atr=3 -> 7 > 5
	node := Leaf(Condition{
		Left:  ScaledIndicator("atr", 2, 1),
		Op:    OpGT,
		Right: Constant(5),
	})
	got, err := eval.Evaluate(node, types.IndicatorValues{"atr": 3})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateIndicatorVsIndicator(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	node := Leaf(Condition{Left: Indicator("ema_fast"), Op: OpGT, Right: Indicator("ema_slow")})

	got, err := eval.Evaluate(node, types.IndicatorValues{"ema_fast": 101, "ema_slow": 100})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = eval.Evaluate(node, types.IndicatorValues{"ema_fast": 99, "ema_slow": 100})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMissingIndicatorFailsClosed(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	got, err := eval.Evaluate(leafGT("adx", 25), types.IndicatorValues{})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMissingIndicatorStrictErrors(t *testing.T) {
	eval := NewStrictEvaluator(zap.NewNop())
	_, err := eval.Evaluate(leafGT("adx", 25), types.IndicatorValues{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingIndicator)
}

func TestEmptyNodeAndGroupVacuouslyTrue(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())

	got, err := eval.Evaluate(Node{}, types.IndicatorValues{})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = eval.Evaluate(Nested(Group{}), types.IndicatorValues{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestGroupSemantics(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	values := types.IndicatorValues{"adx": 30, "rsi": 45}

	t.Run("all requires every child", func(t *testing.T) {
		node := Nested(Group{All: []Node{leafGT("adx", 25), leafGT("rsi", 50)}})
		got, err := eval.Evaluate(node, values)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("any requires one child", func(t *testing.T) {
		node := Nested(Group{Any: []Node{leafGT("adx", 25), leafGT("rsi", 50)}})
		got, err := eval.Evaluate(node, values)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("all and any combine with and", func(t *testing.T) {
		node := Nested(Group{
			All: []Node{leafGT("adx", 25)},
			Any: []Node{leafGT("rsi", 50), leafGT("rsi", 60)},
		})
		got, err := eval.Evaluate(node, values)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("nested groups", func(t *testing.T) {
		node := Nested(Group{All: []Node{
			leafGT("adx", 25),
			Nested(Group{Any: []Node{leafGT("rsi", 40), leafGT("rsi", 90)}}),
		}})
		got, err := eval.Evaluate(node, values)
		require.NoError(t, err)
		assert.True(t, got)
	})
}

// Two evaluations with identical inputs must agree; the evaluator carries
// no state between calls.
func TestEvaluatePure(t *testing.T) {
	eval := NewEvaluator(zap.NewNop())
	node := Nested(Group{All: []Node{leafGT("adx", 25), leafGT("rsi", 40)}})
	values := types.IndicatorValues{"adx": 30, "rsi": 45}

	first, err := eval.Evaluate(node, values)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := eval.Evaluate(node, values)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIndicatorRefs(t *testing.T) {
	node := Nested(Group{
		All: []Node{
			leafGT("adx", 25),
			Leaf(Condition{Left: Indicator("ema_fast"), Op: OpGT, Right: Indicator("ema_slow")}),
		},
		Any: []Node{leafGT("rsi", 50)},
	})

	refs := node.IndicatorRefs()
	assert.ElementsMatch(t, []string{"adx", "ema_fast", "ema_slow", "rsi"}, refs)
}
