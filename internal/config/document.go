// Package config provides the declarative strategy document: regimes,
// strategies, strategy sets and routing rules, plus load-time validation
// and hot reload.
package config

import (
	"fmt"
	"sort"

	"github.com/regimeflow/regimeflow/internal/rules"
	"github.com/regimeflow/regimeflow/pkg/types"
)

// Scope is the lifecycle stage during which a regime is eligible.
type Scope string

const (
	ScopeEntry   Scope = "entry"
	ScopeExit    Scope = "exit"
	ScopeInTrade Scope = "in_trade"
	ScopeGlobal  Scope = "global"
)

func (s Scope) valid() bool {
	switch s {
	case ScopeEntry, ScopeExit, ScopeInTrade, ScopeGlobal:
		return true
	}
	return false
}

// Indicator declares a named indicator the engine must provide per bar.
type Indicator struct {
	ID        string
	Type      string
	Timeframe types.Timeframe
	Params    map[string]float64
}

// Regime is a named market condition. Immutable for the lifetime of one
// document version.
type Regime struct {
	ID         string
	Name       string
	Scope      Scope
	Priority   int
	Conditions rules.Node
}

// RiskParams holds per-strategy risk settings. All percentage fields are
// strictly positive; TrailingStopPct and MaxHoldingBars are optional.
type RiskParams struct {
	StopLossPct     float64
	TakeProfitPct   float64
	PositionSizePct float64
	TrailingStopPct float64
	MaxHoldingBars  int
}

// Strategy couples entry/exit condition trees with risk parameters.
type Strategy struct {
	ID    string
	Side  types.Side
	Entry rules.Node
	Exit  rules.Node
	Risk  RiskParams
}

// StrategySet bundles strategies with temporary parameter overrides.
type StrategySet struct {
	ID                 string
	Strategies         []string
	IndicatorOverrides map[string]map[string]float64
	StrategyOverrides  map[string]map[string]float64
}

// RuleMatch is a match expression over the set of active regime ids.
type RuleMatch struct {
	AllOf  []string
	AnyOf  []string
	NoneOf []string
}

// RoutingRule maps a regime match expression to a strategy set.
type RoutingRule struct {
	Match         RuleMatch
	StrategySetID string
	Priority      int
}

// Document is one immutable configuration version. Never mutate a live
// document; the reloader swaps whole snapshots.
type Document struct {
	Version      string
	Indicators   []Indicator
	Regimes      []Regime
	Strategies   []Strategy
	StrategySets []StrategySet
	RoutingRules []RoutingRule

	indicatorsByID map[string]*Indicator
	regimesByID    map[string]*Regime
	strategiesByID map[string]*Strategy
	setsByID       map[string]*StrategySet
}

// Indicator looks up an indicator by id.
func (d *Document) Indicator(id string) (*Indicator, bool) {
	ind, ok := d.indicatorsByID[id]
	return ind, ok
}

// Regime looks up a regime by id.
func (d *Document) Regime(id string) (*Regime, bool) {
	r, ok := d.regimesByID[id]
	return r, ok
}

// Strategy looks up a strategy by id.
func (d *Document) Strategy(id string) (*Strategy, bool) {
	s, ok := d.strategiesByID[id]
	return s, ok
}

// StrategySet looks up a strategy set by id.
func (d *Document) StrategySet(id string) (*StrategySet, bool) {
	s, ok := d.setsByID[id]
	return s, ok
}

// index builds lookup maps and orders routing rules by descending priority.
// The sort is stable so configuration order breaks priority ties.
func (d *Document) index() error {
	d.indicatorsByID = make(map[string]*Indicator, len(d.Indicators))
	for i := range d.Indicators {
		ind := &d.Indicators[i]
		if _, dup := d.indicatorsByID[ind.ID]; dup {
			return fmt.Errorf("duplicate indicator id %q", ind.ID)
		}
		d.indicatorsByID[ind.ID] = ind
	}

	d.regimesByID = make(map[string]*Regime, len(d.Regimes))
	for i := range d.Regimes {
		r := &d.Regimes[i]
		if _, dup := d.regimesByID[r.ID]; dup {
			return fmt.Errorf("duplicate regime id %q", r.ID)
		}
		d.regimesByID[r.ID] = r
	}

	d.strategiesByID = make(map[string]*Strategy, len(d.Strategies))
	for i := range d.Strategies {
		s := &d.Strategies[i]
		if _, dup := d.strategiesByID[s.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		d.strategiesByID[s.ID] = s
	}

	d.setsByID = make(map[string]*StrategySet, len(d.StrategySets))
	for i := range d.StrategySets {
		s := &d.StrategySets[i]
		if _, dup := d.setsByID[s.ID]; dup {
			return fmt.Errorf("duplicate strategy set id %q", s.ID)
		}
		d.setsByID[s.ID] = s
	}

	sort.SliceStable(d.RoutingRules, func(i, j int) bool {
		return d.RoutingRules[i].Priority > d.RoutingRules[j].Priority
	})

	return nil
}
