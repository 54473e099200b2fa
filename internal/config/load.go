package config

import (
	"fmt"
	"os"

	"github.com/regimeflow/regimeflow/internal/rules"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Raw YAML shapes. The public Document uses resolved types; these exist only
// to decode the file.

type rawDocument struct {
	Version      string           `yaml:"version"`
	Indicators   []rawIndicator   `yaml:"indicators"`
	Regimes      []rawRegime      `yaml:"regimes"`
	Strategies   []rawStrategy    `yaml:"strategies"`
	StrategySets []rawStrategySet `yaml:"strategy_sets"`
	RoutingRules []rawRoutingRule `yaml:"routing_rules"`
}

type rawIndicator struct {
	ID        string             `yaml:"id"`
	Type      string             `yaml:"type"`
	Timeframe string             `yaml:"timeframe"`
	Params    map[string]float64 `yaml:"params"`
}

type rawRegime struct {
	ID         string           `yaml:"id"`
	Name       string           `yaml:"name"`
	Scope      string           `yaml:"scope"`
	Priority   int              `yaml:"priority"`
	Conditions rawConditionNode `yaml:"conditions"`
}

type rawStrategy struct {
	ID    string           `yaml:"id"`
	Side  string           `yaml:"side"`
	Entry rawConditionNode `yaml:"entry"`
	Exit  rawConditionNode `yaml:"exit"`
	Risk  rawRisk          `yaml:"risk"`
}

type rawRisk struct {
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	PositionSizePct float64 `yaml:"position_size_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	MaxHoldingBars  int     `yaml:"max_holding_bars"`
}

type rawStrategySet struct {
	ID                 string                        `yaml:"id"`
	Strategies         []string                      `yaml:"strategies"`
	IndicatorOverrides map[string]map[string]float64 `yaml:"indicator_overrides"`
	StrategyOverrides  map[string]map[string]float64 `yaml:"strategy_overrides"`
}

type rawRoutingRule struct {
	Match       rawRuleMatch `yaml:"match"`
	StrategySet string       `yaml:"strategy_set"`
	Priority    int          `yaml:"priority"`
}

type rawRuleMatch struct {
	AllOf  []string `yaml:"all_of"`
	AnyOf  []string `yaml:"any_of"`
	NoneOf []string `yaml:"none_of"`
}

// rawConditionNode is either a leaf comparison (op set) or a group
// (all/any set). Both forms share one struct because YAML has no tags.
type rawConditionNode struct {
	All []rawConditionNode `yaml:"all"`
	Any []rawConditionNode `yaml:"any"`

	Left  *rawOperand `yaml:"left"`
	Op    string      `yaml:"op"`
	Right *rawOperand `yaml:"right"`
}

type rawOperand struct {
	Const     *float64  `yaml:"const"`
	Indicator string    `yaml:"indicator"`
	Scale     *float64  `yaml:"scale"`
	Offset    float64   `yaml:"offset"`
	Bounds    []float64 `yaml:"bounds"`
}

// Load reads, decodes and validates a strategy document.
func Load(logger *zap.Logger, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Parse(logger, data)
}

// Parse decodes and validates a strategy document from raw bytes.
func Parse(logger *zap.Logger, data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}

	doc, err := raw.convert()
	if err != nil {
		return nil, err
	}

	if err := doc.index(); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	if err := Validate(logger, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func (raw *rawDocument) convert() (*Document, error) {
	doc := &Document{Version: raw.Version}
	var problems []string

	for _, ri := range raw.Indicators {
		doc.Indicators = append(doc.Indicators, Indicator{
			ID:        ri.ID,
			Type:      ri.Type,
			Timeframe: types.Timeframe(ri.Timeframe),
			Params:    ri.Params,
		})
	}

	for _, rr := range raw.Regimes {
		node, err := rr.Conditions.convert()
		if err != nil {
			problems = append(problems, fmt.Sprintf("regime %q: %v", rr.ID, err))
			continue
		}
		scope := Scope(rr.Scope)
		if rr.Scope == "" {
			scope = ScopeGlobal
		}
		doc.Regimes = append(doc.Regimes, Regime{
			ID:         rr.ID,
			Name:       rr.Name,
			Scope:      scope,
			Priority:   rr.Priority,
			Conditions: node,
		})
	}

	for _, rs := range raw.Strategies {
		entry, err := rs.Entry.convert()
		if err != nil {
			problems = append(problems, fmt.Sprintf("strategy %q entry: %v", rs.ID, err))
			continue
		}
		exit, err := rs.Exit.convert()
		if err != nil {
			problems = append(problems, fmt.Sprintf("strategy %q exit: %v", rs.ID, err))
			continue
		}
		side := types.Side(rs.Side)
		if rs.Side == "" {
			side = types.SideLong
		}
		doc.Strategies = append(doc.Strategies, Strategy{
			ID:    rs.ID,
			Side:  side,
			Entry: entry,
			Exit:  exit,
			Risk: RiskParams{
				StopLossPct:     rs.Risk.StopLossPct,
				TakeProfitPct:   rs.Risk.TakeProfitPct,
				PositionSizePct: rs.Risk.PositionSizePct,
				TrailingStopPct: rs.Risk.TrailingStopPct,
				MaxHoldingBars:  rs.Risk.MaxHoldingBars,
			},
		})
	}

	for _, rs := range raw.StrategySets {
		doc.StrategySets = append(doc.StrategySets, StrategySet{
			ID:                 rs.ID,
			Strategies:         rs.Strategies,
			IndicatorOverrides: rs.IndicatorOverrides,
			StrategyOverrides:  rs.StrategyOverrides,
		})
	}

	for _, rr := range raw.RoutingRules {
		doc.RoutingRules = append(doc.RoutingRules, RoutingRule{
			Match: RuleMatch{
				AllOf:  rr.Match.AllOf,
				AnyOf:  rr.Match.AnyOf,
				NoneOf: rr.Match.NoneOf,
			},
			StrategySetID: rr.StrategySet,
			Priority:      rr.Priority,
		})
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return doc, nil
}

func (rn *rawConditionNode) convert() (rules.Node, error) {
	isLeaf := rn.Op != "" || rn.Left != nil || rn.Right != nil
	isGroup := len(rn.All) > 0 || len(rn.Any) > 0

	if isLeaf && isGroup {
		return rules.Node{}, fmt.Errorf("condition node cannot be both a comparison and a group")
	}

	if isLeaf {
		if rn.Left == nil || rn.Right == nil || rn.Op == "" {
			return rules.Node{}, fmt.Errorf("comparison requires left, op and right")
		}
		op := rules.Operator(rn.Op)
		left, err := rn.Left.convert(false)
		if err != nil {
			return rules.Node{}, fmt.Errorf("left operand: %w", err)
		}
		right, err := rn.Right.convert(op == rules.OpBetween)
		if err != nil {
			return rules.Node{}, fmt.Errorf("right operand: %w", err)
		}
		return rules.Leaf(rules.Condition{Left: left, Op: op, Right: right}), nil
	}

	var group rules.Group
	for i := range rn.All {
		child, err := rn.All[i].convert()
		if err != nil {
			return rules.Node{}, err
		}
		group.All = append(group.All, child)
	}
	for i := range rn.Any {
		child, err := rn.Any[i].convert()
		if err != nil {
			return rules.Node{}, err
		}
		group.Any = append(group.Any, child)
	}
	return rules.Nested(group), nil
}

func (ro *rawOperand) convert(bounds bool) (rules.Operand, error) {
	if bounds {
		if len(ro.Bounds) != 2 {
			return rules.Operand{}, fmt.Errorf("between requires bounds: [low, high]")
		}
		if ro.Bounds[0] > ro.Bounds[1] {
			return rules.Operand{}, fmt.Errorf("between bounds inverted: low %v > high %v", ro.Bounds[0], ro.Bounds[1])
		}
		return rules.Bounds(ro.Bounds[0], ro.Bounds[1]), nil
	}

	switch {
	case ro.Const != nil && ro.Indicator != "":
		return rules.Operand{}, fmt.Errorf("operand cannot be both const and indicator")
	case ro.Const != nil:
		return rules.Constant(*ro.Const), nil
	case ro.Indicator != "":
		scale := 1.0
		if ro.Scale != nil {
			scale = *ro.Scale
		}
		return rules.ScaledIndicator(ro.Indicator, scale, ro.Offset), nil
	default:
		return rules.Operand{}, fmt.Errorf("operand requires const or indicator")
	}
}
