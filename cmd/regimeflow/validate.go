package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/internal/backtester"
	"github.com/regimeflow/regimeflow/internal/montecarlo"
	"github.com/regimeflow/regimeflow/internal/workers"
	"github.com/regimeflow/regimeflow/pkg/types"
)

// validateReport is the JSON document emitted by the validate command.
type validateReport struct {
	StrategyID  string                   `json:"strategyId"`
	WalkForward *types.WalkForwardResult `json:"walkForward"`
	Robustness  *types.RobustnessReport  `json:"robustness"`
	MonteCarlo  *montecarlo.Result       `json:"monteCarlo,omitempty"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Backtest a document and gate each strategy with walk-forward analysis",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd)
		},
	}

	cmd.Flags().String("strategy", "", "strategy document (yaml)")
	cmd.Flags().String("data", "", "bar series (json)")
	cmd.Flags().String("timeframe", "1h", "base timeframe of the bar series")
	cmd.Flags().Float64("capital", 10000, "initial capital")
	cmd.Flags().Float64("commission", 0.001, "commission rate per fill (fraction of notional)")
	cmd.Flags().Float64("slippage-bps", 0, "slippage in basis points")
	cmd.Flags().Float64("slippage-jitter", 0, "random jitter fraction applied to slippage")
	cmd.Flags().Int64("seed", 42, "random seed for deterministic runs")
	cmd.Flags().Duration("stability-window", time.Hour, "regime change retention window")
	cmd.Flags().String("start", "", "only use bars at or after this time (RFC3339)")
	cmd.Flags().String("end", "", "only use bars at or before this time (RFC3339)")
	cmd.Flags().Duration("train-window", 30*24*time.Hour, "in-sample window length")
	cmd.Flags().Duration("test-window", 7*24*time.Hour, "out-of-sample window length")
	cmd.Flags().Duration("step", 7*24*time.Hour, "window advance per period")
	cmd.Flags().Int("min-trades", 30, "minimum out-of-sample trades")
	cmd.Flags().Float64("max-drawdown", 25, "maximum out-of-sample drawdown percent")
	cmd.Flags().Float64("min-sharpe", 0.5, "minimum out-of-sample Sharpe ratio")
	cmd.Flags().Float64("max-degradation", 50, "maximum in-sample to out-of-sample degradation percent")
	cmd.Flags().Int("mc-runs", 0, "bootstrap Monte Carlo resamples per strategy (0 disables)")
	cmd.Flags().Int("workers", 0, "strategies validated in parallel (0 means one per CPU)")
	cmd.Flags().String("out", "", "write the report to a file instead of stdout")
	cmd.MarkFlagRequired("strategy")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runValidate(cmd *cobra.Command) error {
	result, doc, err := executeBacktest(cmd.Context())
	if err != nil {
		return err
	}

	wfCfg := backtester.WalkForwardConfig{
		TrainWindow: viper.GetDuration("train-window"),
		TestWindow:  viper.GetDuration("test-window"),
		Step:        viper.GetDuration("step"),
	}
	gate := types.RobustnessGate{
		MinTrades:         viper.GetInt("min-trades"),
		MaxDrawdownPct:    viper.GetFloat64("max-drawdown"),
		MinSharpe:         viper.GetFloat64("min-sharpe"),
		MaxDegradationPct: viper.GetFloat64("max-degradation"),
	}

	capital := decimal.NewFromFloat(viper.GetFloat64("capital"))
	evaluator := backtester.NewWalkForwardEvaluator(logger, capital)

	var simulator *montecarlo.Simulator
	if runs := viper.GetInt("mc-runs"); runs > 0 {
		mcCfg := montecarlo.DefaultConfig()
		mcCfg.Runs = runs
		mcCfg.Seed = viper.GetInt64("seed")
		simulator = montecarlo.NewSimulator(logger, mcCfg)
	}

	var mu sync.Mutex
	reports := make([]validateReport, len(doc.Strategies))
	failed := 0

	pool := workers.NewPool(logger, viper.GetInt("workers"))
	pool.Start(cmd.Context())
	for i, strat := range doc.Strategies {
		idx, stratID := i, strat.ID
		pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
			trades := tradesForStrategy(result.Trades, stratID)
			wf, err := evaluator.Run(stratID, trades, wfCfg)
			if err != nil {
				return fmt.Errorf("walk-forward %s: %w", stratID, err)
			}
			report := validateReport{
				StrategyID:  stratID,
				WalkForward: wf,
				Robustness:  evaluator.ValidateRobustness(wf, gate),
			}
			if simulator != nil && len(trades) > 0 {
				mc, err := simulator.Run(trades, capital)
				if err != nil {
					return fmt.Errorf("monte carlo %s: %w", stratID, err)
				}
				report.MonteCarlo = mc
			}

			mu.Lock()
			defer mu.Unlock()
			reports[idx] = report
			if !report.Robustness.PassesGate {
				failed++
				logger.Warn("Strategy failed robustness gate",
					zap.String("strategy", stratID),
					zap.Strings("failedChecks", report.Robustness.FailedChecks))
			}
			return nil
		}))
	}
	if errs := pool.Close(); len(errs) > 0 {
		return errs[0]
	}

	if err := writeJSON(viper.GetString("out"), reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d strategies failed the robustness gate", failed, len(reports))
	}
	return nil
}

func tradesForStrategy(trades []types.Trade, strategyID string) []types.Trade {
	out := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if t.StrategyID == strategyID {
			out = append(out, t)
		}
	}
	return out
}
