package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ValidationError collects every problem found in a document. A document
// with one dangling reference is rejected whole; nothing is partially
// applied.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document: %s", strings.Join(e.Problems, "; "))
}

// Validate checks identifier uniqueness (done during indexing), scope
// values, cross-reference resolution and risk parameter sanity. All
// problems are reported at once. A take-profit at or below the stop-loss
// only logs a warning.
func Validate(logger *zap.Logger, doc *Document) error {
	var problems []string

	for _, r := range doc.Regimes {
		if !r.Scope.valid() {
			problems = append(problems, fmt.Sprintf("regime %q: invalid scope %q", r.ID, r.Scope))
		}
		for _, ref := range r.Conditions.IndicatorRefs() {
			if _, ok := doc.Indicator(ref); !ok {
				problems = append(problems, fmt.Sprintf("regime %q references unknown indicator %q", r.ID, ref))
			}
		}
	}

	for _, s := range doc.Strategies {
		for _, ref := range s.Entry.IndicatorRefs() {
			if _, ok := doc.Indicator(ref); !ok {
				problems = append(problems, fmt.Sprintf("strategy %q entry references unknown indicator %q", s.ID, ref))
			}
		}
		for _, ref := range s.Exit.IndicatorRefs() {
			if _, ok := doc.Indicator(ref); !ok {
				problems = append(problems, fmt.Sprintf("strategy %q exit references unknown indicator %q", s.ID, ref))
			}
		}

		if s.Risk.StopLossPct <= 0 {
			problems = append(problems, fmt.Sprintf("strategy %q: stop_loss_pct must be positive", s.ID))
		}
		if s.Risk.TakeProfitPct <= 0 {
			problems = append(problems, fmt.Sprintf("strategy %q: take_profit_pct must be positive", s.ID))
		}
		if s.Risk.PositionSizePct <= 0 {
			problems = append(problems, fmt.Sprintf("strategy %q: position_size_pct must be positive", s.ID))
		}
		if s.Risk.TrailingStopPct < 0 {
			problems = append(problems, fmt.Sprintf("strategy %q: trailing_stop_pct must not be negative", s.ID))
		}
		if s.Risk.MaxHoldingBars < 0 {
			problems = append(problems, fmt.Sprintf("strategy %q: max_holding_bars must not be negative", s.ID))
		}

		if s.Risk.TakeProfitPct > 0 && s.Risk.StopLossPct > 0 &&
			s.Risk.TakeProfitPct <= s.Risk.StopLossPct {
			logger.Warn("take-profit does not exceed stop-loss",
				zap.String("strategy", s.ID),
				zap.Float64("stopLossPct", s.Risk.StopLossPct),
				zap.Float64("takeProfitPct", s.Risk.TakeProfitPct),
			)
		}
	}

	for _, set := range doc.StrategySets {
		if len(set.Strategies) == 0 {
			problems = append(problems, fmt.Sprintf("strategy set %q has no strategies", set.ID))
		}
		for _, sid := range set.Strategies {
			if _, ok := doc.Strategy(sid); !ok {
				problems = append(problems, fmt.Sprintf("strategy set %q references unknown strategy %q", set.ID, sid))
			}
		}
		for iid := range set.IndicatorOverrides {
			if _, ok := doc.Indicator(iid); !ok {
				problems = append(problems, fmt.Sprintf("strategy set %q overrides unknown indicator %q", set.ID, iid))
			}
		}
		for sid := range set.StrategyOverrides {
			if _, ok := doc.Strategy(sid); !ok {
				problems = append(problems, fmt.Sprintf("strategy set %q overrides unknown strategy %q", set.ID, sid))
			}
		}
	}

	for i, rule := range doc.RoutingRules {
		if _, ok := doc.StrategySet(rule.StrategySetID); !ok {
			problems = append(problems, fmt.Sprintf("routing rule %d references unknown strategy set %q", i, rule.StrategySetID))
		}
		for _, group := range [][]string{rule.Match.AllOf, rule.Match.AnyOf, rule.Match.NoneOf} {
			for _, rid := range group {
				if _, ok := doc.Regime(rid); !ok {
					problems = append(problems, fmt.Sprintf("routing rule %d references unknown regime %q", i, rid))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
