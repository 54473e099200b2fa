package backtester

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/indicators"
	"github.com/regimeflow/regimeflow/internal/override"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/internal/router"
	"github.com/regimeflow/regimeflow/internal/rules"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds simulation settings.
type Config struct {
	Timeframe       types.Timeframe
	InitialCapital  decimal.Decimal
	CommissionRate  decimal.Decimal // fraction of notional per fill
	SlippageBps     decimal.Decimal
	SlippageJitter  float64
	Seed            int64
	StabilityWindow time.Duration
}

// DefaultConfig returns sensible defaults for a simulation.
func DefaultConfig() Config {
	return Config{
		Timeframe:       types.Timeframe1h,
		InitialCapital:  decimal.NewFromInt(10000),
		CommissionRate:  decimal.NewFromFloat(0.001),
		SlippageBps:     decimal.Zero,
		StabilityWindow: time.Hour,
	}
}

// Engine advances a price series bar by bar, each bar running the
// detect-route-override-decide cycle. Bars are processed strictly
// sequentially: the stop/take-profit-before-signal ordering and the
// no-look-ahead contract both depend on it. A run may be aborted only
// between bars.
type Engine struct {
	logger   *zap.Logger
	config   Config
	detector *regime.Detector
	router   *router.Router
	eval     *rules.Evaluator
	slippage SlippageModel

	// OnRegimeChange, when set, observes every transition as it happens.
	// Used by the live monitor; the backtest result carries the same
	// history.
	OnRegimeChange func(types.RegimeChange)

	// DocSource, when set, is consulted before every bar and supersedes
	// the document passed to Run from that bar on. The live monitor
	// points it at the reloader's active snapshot so a hot-swapped
	// document reaches the decision cycle mid-run.
	DocSource func() *config.Document

	idNamespace uuid.UUID
	idSeq       int
}

// NewEngine creates a simulation engine.
func NewEngine(logger *zap.Logger, cfg Config) *Engine {
	return &Engine{
		logger:   logger,
		config:   cfg,
		detector: regime.NewDetector(logger),
		router:   router.New(logger),
		eval:     rules.NewEvaluator(logger),
		slippage: newSlippageModel(cfg),
		// Trade ids must be stable across runs with the same seed.
		idNamespace: uuid.NewSHA1(uuid.NameSpaceOID, []byte("regimeflow-"+strconv.FormatInt(cfg.Seed, 10))),
	}
}

func newSlippageModel(cfg Config) SlippageModel {
	if cfg.SlippageJitter > 0 {
		return NewJitteredSlippage(cfg.SlippageBps, cfg.SlippageJitter, cfg.Seed)
	}
	return NewFixedSlippage(cfg.SlippageBps)
}

// Run executes a backtest of the document over the bar series. All
// configuration and data-compatibility problems surface here, before the
// first bar; per-bar anomalies are handled fail-closed and never halt the
// run.
func (e *Engine) Run(ctx context.Context, doc *config.Document, bars []types.OHLCV) (*types.BacktestResult, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty bar series")
	}

	store := override.NewStore(doc)
	provider, err := indicators.NewProvider(e.logger, doc, store, bars, e.config.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("pre-flight: %w", err)
	}

	executor := override.NewExecutor(e.logger, store)
	tracker := regime.NewStabilityTracker(e.logger, regime.StabilityConfig{Window: e.config.StabilityWindow})

	// The id sequence and the jitter stream both restart with the run;
	// a reused engine must produce the same trades as a fresh one.
	e.idSeq = 0
	e.slippage = newSlippageModel(e.config)
	startedAt := time.Now()

	cash := e.config.InitialCapital
	var pos *position
	var trades []types.Trade
	var equityCurve []types.EquityCurvePoint
	var regimeHistory []types.RegimeChange
	peak := cash
	prevTop := "none"

	e.logger.Info("Starting backtest",
		zap.Int("bars", len(bars)),
		zap.Int("regimes", len(doc.Regimes)),
		zap.Int64("seed", e.config.Seed),
	)

	var rejectedDoc *config.Document

	for i, bar := range bars {
		// Cancellation is only honored between bars.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if e.DocSource != nil {
			if next := e.DocSource(); next != nil && next != doc && next != rejectedDoc {
				newStore := override.NewStore(next)
				newProvider, provErr := indicators.NewProvider(e.logger, next, newStore, bars, e.config.Timeframe)
				if provErr != nil {
					// Incompatible with the running series; the previous
					// document stays active, mirroring reload failures.
					rejectedDoc = next
					e.logger.Error("Swapped document rejected mid-run",
						zap.String("version", next.Version),
						zap.Error(provErr))
				} else {
					doc = next
					store = newStore
					provider = newProvider
					executor = override.NewExecutor(e.logger, newStore)
					rejectedDoc = nil
					e.logger.Info("Document swapped mid-run",
						zap.String("version", doc.Version),
						zap.Int("bar", i))
				}
			}
		}

		values := provider.Values(i)

		var active []config.Regime
		if pos == nil {
			active = e.detector.Detect(doc.Regimes, values, config.ScopeEntry)
		} else {
			active = e.detector.Detect(doc.Regimes, values, config.ScopeExit, config.ScopeInTrade)
		}
		activeIDs := regime.ActiveIDs(active)

		top := "none"
		if len(activeIDs) > 0 {
			top = activeIDs[0]
		}
		if top != prevTop {
			change := types.RegimeChange{
				Timestamp:  bar.Timestamp,
				FromRegime: prevTop,
				ToRegime:   top,
				Confidence: regime.Confidence(active),
			}
			regimeHistory = append(regimeHistory, change)
			tracker.Record(change)
			if e.OnRegimeChange != nil {
				e.OnRegimeChange(change)
			}
			prevTop = top
		}

		set, routed := e.router.Route(doc, activeIDs)

		if pos != nil {
			pos.barsHeld++
			trade, closed := e.processExits(provider, executor, store, doc, pos, bar, i, set, routed)
			if closed {
				cash = e.settle(cash, pos, trade)
				trades = append(trades, trade)
				pos = nil
			} else {
				pos.updateTrailing(bar.Close)
			}
		} else if routed {
			pos = e.tryEnter(provider, executor, store, doc, set, bar, i, cash)
			if pos != nil {
				if pos.side == types.SideLong {
					cash = cash.Sub(pos.value(pos.entryPrice)).Sub(pos.entryCommission)
				} else {
					cash = cash.Sub(pos.entryCommission)
				}
			}
		}

		equity := cash
		if pos != nil {
			if pos.side == types.SideLong {
				equity = equity.Add(pos.value(bar.Close))
			} else {
				equity = equity.Add(pos.pnl(bar.Close))
			}
		}
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := decimal.Zero
		if peak.IsPositive() {
			drawdown = peak.Sub(equity).Div(peak)
		}
		equityCurve = append(equityCurve, types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
			Drawdown:  drawdown,
		})
	}

	calc := NewMetricsCalculator()
	metrics := calc.Calculate(trades, equityCurve, e.config.InitialCapital)

	result := &types.BacktestResult{
		Metrics:       metrics,
		Trades:        trades,
		EquityCurve:   equityCurve,
		RegimeHistory: regimeHistory,
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
		BarsProcessed: len(bars),
	}

	e.logger.Info("Backtest completed",
		zap.Int("trades", len(trades)),
		zap.Int("regimeChanges", len(regimeHistory)),
		zap.String("netProfit", metrics.NetProfit.String()),
	)

	return result, nil
}

// processExits applies the exit ladder: stop-loss and take-profit touches
// first (position-level, independent of routing), then the holding-period
// cap, then the strategy's signal exit evaluated under the routed set's
// overrides.
func (e *Engine) processExits(provider *indicators.Provider, executor *override.Executor, store *override.Store, doc *config.Document, pos *position, bar types.OHLCV, barIdx int, set *config.StrategySet, routed bool) (types.Trade, bool) {
	if price, reason, hit := pos.checkStops(bar); hit {
		return e.closePosition(pos, bar.Timestamp, price, reason), true
	}

	risk := store.Risk(pos.strategyID)
	maxHolding := pos.maxHolding
	if risk.MaxHoldingBars > 0 {
		maxHolding = risk.MaxHoldingBars
	}
	if maxHolding > 0 && pos.barsHeld >= maxHolding {
		price := e.fillPrice(bar.Close, exitSide(pos.side))
		return e.closePosition(pos, bar.Timestamp, price, types.ExitReasonMaxHolding), true
	}

	strat, ok := doc.Strategy(pos.strategyID)
	if !ok {
		// The position's strategy vanished in a reload; hold until a
		// price exit triggers.
		e.logger.Warn("Open position references unknown strategy", zap.String("strategy", pos.strategyID))
		return types.Trade{}, false
	}

	exitSignal := false
	decide := func(*override.ExecutionContext) error {
		values := provider.Values(barIdx)
		ok, err := e.eval.Evaluate(strat.Exit, values)
		if err != nil {
			return err
		}
		exitSignal = ok
		return nil
	}

	var err error
	if routed && set != nil {
		err = executor.With(set, decide)
	} else {
		err = decide(nil)
	}
	if err != nil {
		e.logger.Warn("Exit evaluation failed", zap.Error(err))
		return types.Trade{}, false
	}

	if exitSignal {
		price := e.fillPrice(bar.Close, exitSide(pos.side))
		return e.closePosition(pos, bar.Timestamp, price, types.ExitReasonSignal), true
	}
	return types.Trade{}, false
}

// tryEnter evaluates the routed set's strategies in declaration order under
// the set's overrides and opens a position for the first entry that holds.
func (e *Engine) tryEnter(provider *indicators.Provider, executor *override.Executor, store *override.Store, doc *config.Document, set *config.StrategySet, bar types.OHLCV, barIdx int, equity decimal.Decimal) *position {
	var opened *position

	err := executor.With(set, func(*override.ExecutionContext) error {
		values := provider.Values(barIdx)

		for _, strategyID := range set.Strategies {
			strat, ok := doc.Strategy(strategyID)
			if !ok {
				continue
			}

			entry, err := e.eval.Evaluate(strat.Entry, values)
			if err != nil {
				return err
			}
			if !entry {
				continue
			}

			risk := store.Risk(strategyID)
			fill := e.fillPrice(bar.Close, strat.Side)
			notional := equity.Mul(decimal.NewFromFloat(risk.PositionSizePct).Div(hundred))
			if fill.IsZero() || !notional.IsPositive() {
				return nil
			}
			size := notional.Div(fill)
			commission := notional.Mul(e.config.CommissionRate)

			opened = openPosition(strategyID, strat.Side, bar.Timestamp, fill, size,
				risk.StopLossPct, risk.TakeProfitPct, risk.TrailingStopPct, risk.MaxHoldingBars, commission)

			e.logger.Debug("Opened position",
				zap.String("strategy", strategyID),
				zap.String("side", string(strat.Side)),
				zap.String("entry", fill.String()),
			)
			return nil
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("Entry evaluation failed", zap.Error(err))
		return nil
	}

	return opened
}

// closePosition produces the trade record for an exit fill.
func (e *Engine) closePosition(pos *position, ts time.Time, exitPrice decimal.Decimal, reason types.ExitReason) types.Trade {
	exitCommission := pos.value(exitPrice).Mul(e.config.CommissionRate)
	commission := pos.entryCommission.Add(exitCommission)
	pnl := pos.pnl(exitPrice).Sub(commission)

	var pnlPct float64
	if pos.entryPrice.IsPositive() {
		move, _ := exitPrice.Sub(pos.entryPrice).Div(pos.entryPrice).Float64()
		if pos.side == types.SideShort {
			move = -move
		}
		pnlPct = move * 100
	}

	e.idSeq++
	id := uuid.NewSHA1(e.idNamespace, []byte(strconv.Itoa(e.idSeq))).String()

	return types.Trade{
		ID:         id,
		StrategyID: pos.strategyID,
		Side:       pos.side,
		EntryTime:  pos.entryTime,
		EntryPrice: pos.entryPrice,
		ExitTime:   ts,
		ExitPrice:  exitPrice,
		Size:       pos.size,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Commission: commission,
		ExitReason: reason,
	}
}

// settle applies an exit fill to cash.
func (e *Engine) settle(cash decimal.Decimal, pos *position, trade types.Trade) decimal.Decimal {
	if pos.side == types.SideLong {
		exitCommission := trade.Commission.Sub(pos.entryCommission)
		return cash.Add(pos.value(trade.ExitPrice)).Sub(exitCommission)
	}
	// Short principal never left cash; apply the net result directly.
	return cash.Add(trade.PnL).Add(pos.entryCommission)
}

// fillPrice worsens the reference price in the direction of the trade.
func (e *Engine) fillPrice(price decimal.Decimal, side types.Side) decimal.Decimal {
	rate := e.slippage.Rate()
	if rate.IsZero() {
		return price
	}
	if side == types.SideLong {
		return price.Mul(decimal.NewFromInt(1).Add(rate))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(rate))
}

func exitSide(side types.Side) types.Side {
	if side == types.SideLong {
		return types.SideShort
	}
	return types.SideLong
}
