// Package override applies temporary parameter overrides declared by a
// strategy set and guarantees their reversal.
package override

import (
	"fmt"

	"github.com/regimeflow/regimeflow/internal/config"
	"go.uber.org/zap"
)

// Store holds the live, mutable parameter state the engine reads during a
// decision cycle: per-indicator parameter maps and per-strategy risk
// settings. It is seeded from an immutable document and mutated only
// through an Executor.
type Store struct {
	indicatorParams map[string]map[string]float64
	strategyRisk    map[string]config.RiskParams
}

// NewStore seeds a parameter store from a document.
func NewStore(doc *config.Document) *Store {
	s := &Store{
		indicatorParams: make(map[string]map[string]float64, len(doc.Indicators)),
		strategyRisk:    make(map[string]config.RiskParams, len(doc.Strategies)),
	}
	for _, ind := range doc.Indicators {
		params := make(map[string]float64, len(ind.Params))
		for k, v := range ind.Params {
			params[k] = v
		}
		s.indicatorParams[ind.ID] = params
	}
	for _, st := range doc.Strategies {
		s.strategyRisk[st.ID] = st.Risk
	}
	return s
}

// IndicatorParams returns the live parameter map for an indicator.
func (s *Store) IndicatorParams(id string) map[string]float64 {
	return s.indicatorParams[id]
}

// Risk returns the live risk settings for a strategy.
func (s *Store) Risk(id string) config.RiskParams {
	return s.strategyRisk[id]
}

// ExecutionContext records what an override application actually changed.
// It lives for one decision cycle and is discarded after the mandatory
// restore.
type ExecutionContext struct {
	StrategySetID     string
	Strategies        []string
	IndicatorsTouched []string
	StrategiesTouched []string
}

// Executor applies and reverses strategy-set overrides against a Store.
// Snapshots are taken on first touch only, so stacked prepares without an
// intervening restore still roll back to the pre-first-override values.
type Executor struct {
	logger *zap.Logger
	store  *Store

	indicatorSnaps map[string]map[string]float64
	riskSnaps      map[string]config.RiskParams
}

// NewExecutor creates an executor over the given store.
func NewExecutor(logger *zap.Logger, store *Store) *Executor {
	return &Executor{
		logger:         logger,
		store:          store,
		indicatorSnaps: make(map[string]map[string]float64),
		riskSnaps:      make(map[string]config.RiskParams),
	}
}

// Prepare snapshots the original values of every entity the set overrides,
// then merges the override key/value pairs into the live maps. Overrides
// are partial updates: unspecified fields keep their previous values.
func (e *Executor) Prepare(set *config.StrategySet) (*ExecutionContext, error) {
	if set == nil {
		return nil, fmt.Errorf("nil strategy set")
	}

	ctx := &ExecutionContext{
		StrategySetID: set.ID,
		Strategies:    append([]string(nil), set.Strategies...),
	}

	for indicatorID, params := range set.IndicatorOverrides {
		live, ok := e.store.indicatorParams[indicatorID]
		if !ok {
			return nil, fmt.Errorf("override targets unknown indicator %q", indicatorID)
		}

		if _, saved := e.indicatorSnaps[indicatorID]; !saved {
			snap := make(map[string]float64, len(live))
			for k, v := range live {
				snap[k] = v
			}
			e.indicatorSnaps[indicatorID] = snap
		}

		for k, v := range params {
			live[k] = v
		}
		ctx.IndicatorsTouched = append(ctx.IndicatorsTouched, indicatorID)
	}

	for strategyID, params := range set.StrategyOverrides {
		risk, ok := e.store.strategyRisk[strategyID]
		if !ok {
			return nil, fmt.Errorf("override targets unknown strategy %q", strategyID)
		}

		if _, saved := e.riskSnaps[strategyID]; !saved {
			e.riskSnaps[strategyID] = risk
		}

		for k, v := range params {
			if err := applyRiskOverride(&risk, k, v); err != nil {
				e.logger.Warn("Ignoring unknown risk override key",
					zap.String("strategy", strategyID),
					zap.String("key", k),
				)
			}
		}
		e.store.strategyRisk[strategyID] = risk
		ctx.StrategiesTouched = append(ctx.StrategiesTouched, strategyID)
	}

	e.logger.Debug("Overrides applied",
		zap.String("strategySet", set.ID),
		zap.Strings("indicators", ctx.IndicatorsTouched),
		zap.Strings("strategies", ctx.StrategiesTouched),
	)

	return ctx, nil
}

// Restore resets every touched entity to its first-saved snapshot and
// clears the snapshot table. Restoring with no prior snapshot is a logged
// no-op.
func (e *Executor) Restore() {
	if len(e.indicatorSnaps) == 0 && len(e.riskSnaps) == 0 {
		e.logger.Debug("Restore called with no snapshots")
		return
	}

	for indicatorID, snap := range e.indicatorSnaps {
		live := e.store.indicatorParams[indicatorID]
		for k := range live {
			delete(live, k)
		}
		for k, v := range snap {
			live[k] = v
		}
	}
	for strategyID, snap := range e.riskSnaps {
		e.store.strategyRisk[strategyID] = snap
	}

	e.indicatorSnaps = make(map[string]map[string]float64)
	e.riskSnaps = make(map[string]config.RiskParams)
}

// With applies the set's overrides, runs fn, and restores on every exit
// path, including error returns and panics. Forgetting to restore silently
// corrupts all subsequent decision cycles, so callers should prefer this
// over a manual Prepare/Restore pair.
func (e *Executor) With(set *config.StrategySet, fn func(*ExecutionContext) error) error {
	ctx, err := e.Prepare(set)
	if err != nil {
		// Prepare can fail after applying part of the set; roll back
		// whatever was already touched.
		e.Restore()
		return err
	}
	defer e.Restore()
	return fn(ctx)
}

func applyRiskOverride(r *config.RiskParams, key string, value float64) error {
	switch key {
	case "stop_loss_pct":
		r.StopLossPct = value
	case "take_profit_pct":
		r.TakeProfitPct = value
	case "position_size_pct":
		r.PositionSizePct = value
	case "trailing_stop_pct":
		r.TrailingStopPct = value
	case "max_holding_bars":
		r.MaxHoldingBars = int(value)
	default:
		return fmt.Errorf("unknown risk key %q", key)
	}
	return nil
}
