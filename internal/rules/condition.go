// Package rules provides boolean condition trees evaluated against
// indicator values.
package rules

import (
	"errors"
	"fmt"

	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// ErrMissingIndicator is returned in strict mode when a condition references
// an indicator that has no value for the current bar.
var ErrMissingIndicator = errors.New("missing indicator value")

// Operator is a comparison operator applied between two operands.
type Operator string

const (
	OpGT      Operator = "gt"
	OpLT      Operator = "lt"
	OpEQ      Operator = "eq"
	OpGTE     Operator = "gte"
	OpLTE     Operator = "lte"
	OpBetween Operator = "between"
)

// OperandKind discriminates the operand union.
type OperandKind int

const (
	// OperandConst is a constant numeric value.
	OperandConst OperandKind = iota
	// OperandIndicator references an indicator value, optionally scaled
	// and offset: value*Scale + Offset.
	OperandIndicator
	// OperandBounds carries the [low, high] pair for a between comparison.
	OperandBounds
)

// Operand is one side of a comparison.
type Operand struct {
	Kind      OperandKind
	Const     float64
	Indicator string
	Offset    float64
	Scale     float64
	Low       float64
	High      float64
}

// Constant returns a constant operand.
func Constant(v float64) Operand {
	return Operand{Kind: OperandConst, Const: v}
}

// Indicator returns an operand referencing an indicator value.
func Indicator(id string) Operand {
	return Operand{Kind: OperandIndicator, Indicator: id, Scale: 1}
}

// ScaledIndicator returns an indicator operand with scale and offset applied.
func ScaledIndicator(id string, scale, offset float64) Operand {
	return Operand{Kind: OperandIndicator, Indicator: id, Scale: scale, Offset: offset}
}

// Bounds returns the right-hand operand of a between comparison.
func Bounds(low, high float64) Operand {
	return Operand{Kind: OperandBounds, Low: low, High: high}
}

// Condition is a single comparison between two operands. Immutable once
// constructed.
type Condition struct {
	Left  Operand
	Op    Operator
	Right Operand
}

// Group combines child nodes: AND over All, OR over Any, and an implicit
// AND between the two slots. An empty slot is vacuously true.
type Group struct {
	All []Node
	Any []Node
}

// Node is either a leaf Condition or a nested Group; exactly one is set.
type Node struct {
	Cond  *Condition
	Group *Group
}

// Leaf wraps a condition into a node.
func Leaf(c Condition) Node { return Node{Cond: &c} }

// Nested wraps a group into a node.
func Nested(g Group) Node { return Node{Group: &g} }

// Evaluator evaluates condition trees. It is pure: identical inputs always
// produce identical output. In strict mode a missing indicator is an error;
// otherwise the condition fails closed to false.
type Evaluator struct {
	logger *zap.Logger
	strict bool
}

// NewEvaluator creates a fail-closed evaluator.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// NewStrictEvaluator creates an evaluator that surfaces missing indicators.
func NewStrictEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger, strict: true}
}

// Evaluate evaluates a node against the given indicator values.
func (e *Evaluator) Evaluate(n Node, values types.IndicatorValues) (bool, error) {
	switch {
	case n.Cond != nil:
		return e.evalCondition(n.Cond, values)
	case n.Group != nil:
		return e.evalGroup(n.Group, values)
	default:
		// An empty node is vacuously true, same as an empty group.
		return true, nil
	}
}

func (e *Evaluator) evalGroup(g *Group, values types.IndicatorValues) (bool, error) {
	for _, child := range g.All {
		ok, err := e.Evaluate(child, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(g.Any) > 0 {
		anyOK := false
		for _, child := range g.Any {
			ok, err := e.Evaluate(child, values)
			if err != nil {
				return false, err
			}
			if ok {
				anyOK = true
				break
			}
		}
		if !anyOK {
			return false, nil
		}
	}

	return true, nil
}

func (e *Evaluator) evalCondition(c *Condition, values types.IndicatorValues) (bool, error) {
	left, ok, err := e.resolve(c.Left, values)
	if err != nil || !ok {
		return false, err
	}

	if c.Op == OpBetween {
		low, high := c.Right.Low, c.Right.High
		if c.Right.Kind != OperandBounds {
			return false, fmt.Errorf("between requires a bounds operand")
		}
		return left >= low && left <= high, nil
	}

	right, ok, err := e.resolve(c.Right, values)
	if err != nil || !ok {
		return false, err
	}

	switch c.Op {
	case OpGT:
		return left > right, nil
	case OpLT:
		return left < right, nil
	case OpEQ:
		return left == right, nil
	case OpGTE:
		return left >= right, nil
	case OpLTE:
		return left <= right, nil
	default:
		return false, fmt.Errorf("unknown operator %q", string(c.Op))
	}
}

// resolve returns the numeric value of an operand. The second return is
// false when a referenced indicator is absent and the evaluator is not
// strict; the caller then fails the whole condition closed.
func (e *Evaluator) resolve(op Operand, values types.IndicatorValues) (float64, bool, error) {
	switch op.Kind {
	case OperandConst:
		return op.Const, true, nil
	case OperandIndicator:
		v, present := values[op.Indicator]
		if !present {
			if e.strict {
				return 0, false, fmt.Errorf("%w: %s", ErrMissingIndicator, op.Indicator)
			}
			e.logger.Debug("indicator missing, condition fails closed",
				zap.String("indicator", op.Indicator))
			return 0, false, nil
		}
		return v*op.Scale + op.Offset, true, nil
	case OperandBounds:
		return 0, false, fmt.Errorf("bounds operand only valid on the right of between")
	default:
		return 0, false, fmt.Errorf("unknown operand kind %d", op.Kind)
	}
}
