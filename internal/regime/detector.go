// Package regime provides declarative market regime detection and
// regime-stability tracking.
package regime

import (
	"sort"

	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/rules"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// Detector classifies market state by evaluating each regime's condition
// tree against the current indicator values. Detection is a pure function
// of its inputs.
type Detector struct {
	logger *zap.Logger
	eval   *rules.Evaluator
}

// NewDetector creates a detector with a fail-closed condition evaluator.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger: logger,
		eval:   rules.NewEvaluator(logger),
	}
}

// Detect returns the regimes whose conditions hold, filtered by scope and
// sorted by descending priority. When scopes are given, a regime is kept if
// its scope matches any of them or is global; with no scopes all regimes
// are candidates. The sort is stable so equal priorities retain input
// order.
func (d *Detector) Detect(regimes []config.Regime, values types.IndicatorValues, scopes ...config.Scope) []config.Regime {
	var active []config.Regime

	for _, r := range regimes {
		if !scopeMatches(r.Scope, scopes) {
			continue
		}

		ok, err := d.eval.Evaluate(r.Conditions, values)
		if err != nil {
			// The fail-closed evaluator never errors on missing
			// indicators; anything else means a malformed tree slipped
			// past validation.
			d.logger.Warn("Regime condition evaluation failed",
				zap.String("regime", r.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			active = append(active, r)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	return active
}

// ActiveIDs projects detected regimes onto their identifiers, preserving
// priority order.
func ActiveIDs(regimes []config.Regime) []string {
	ids := make([]string, len(regimes))
	for i, r := range regimes {
		ids[i] = r.ID
	}
	return ids
}

// Confidence scores how unambiguous a detection is: 1 when the top regime's
// priority is strictly above all other matches, 1/n when n regimes tie at
// the top, and 0 when nothing matched.
func Confidence(active []config.Regime) float64 {
	if len(active) == 0 {
		return 0
	}
	ties := 1
	for _, r := range active[1:] {
		if r.Priority == active[0].Priority {
			ties++
		}
	}
	return 1 / float64(ties)
}

func scopeMatches(have config.Scope, want []config.Scope) bool {
	if len(want) == 0 || have == config.ScopeGlobal {
		return true
	}
	for _, s := range want {
		if have == s {
			return true
		}
	}
	return false
}
