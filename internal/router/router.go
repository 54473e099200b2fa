// Package router selects a strategy set from the currently active regimes.
package router

import (
	"github.com/regimeflow/regimeflow/internal/config"
	"go.uber.org/zap"
)

// Router evaluates routing rules against the set of active regime ids.
// Matching is pure and order-sensitive: rules are walked in the order the
// document established (descending priority, configuration order on ties)
// and the first match wins.
type Router struct {
	logger *zap.Logger
}

// New creates a router.
func New(logger *zap.Logger) *Router {
	return &Router{logger: logger}
}

// Route returns the strategy set of the highest-priority matching rule. A
// false second return is a routing miss: no rule matched, a legitimate
// "no action" outcome rather than an error.
func (r *Router) Route(doc *config.Document, activeIDs []string) (*config.StrategySet, bool) {
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	for i := range doc.RoutingRules {
		rule := &doc.RoutingRules[i]
		if !Matches(rule.Match, active) {
			continue
		}

		set, ok := doc.StrategySet(rule.StrategySetID)
		if !ok {
			// Unreachable after validation; skip rather than trade on a
			// dangling reference.
			r.logger.Error("Routing rule references unknown strategy set",
				zap.String("strategySet", rule.StrategySetID))
			continue
		}

		r.logger.Debug("Routed to strategy set",
			zap.String("strategySet", set.ID),
			zap.Int("priority", rule.Priority),
			zap.Strings("activeRegimes", activeIDs),
		)
		return set, true
	}

	return nil, false
}

// Matches reports whether a match expression is satisfied by the active
// regime set: every all_of id present, at least one any_of id present when
// any_of is non-empty, and no none_of id present.
func Matches(m config.RuleMatch, active map[string]bool) bool {
	for _, id := range m.AllOf {
		if !active[id] {
			return false
		}
	}

	if len(m.AnyOf) > 0 {
		found := false
		for _, id := range m.AnyOf {
			if active[id] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, id := range m.NoneOf {
		if active[id] {
			return false
		}
	}

	return true
}
