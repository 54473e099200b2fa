package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/internal/backtester"
	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/pkg/types"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a simulation of a strategy document over historical bars",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd)
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
	cmd.Flags().String("out", "", "write the result to a file instead of stdout")
	cmd.MarkFlagRequired("strategy")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runBacktest(cmd *cobra.Command) error {
	result, _, err := executeBacktest(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(viper.GetString("out"), result)
}

// executeBacktest is shared by the backtest and validate commands: load
// the document and bars, run the engine, return the result.
func executeBacktest(ctx context.Context) (*types.BacktestResult, *config.Document, error) {
	doc, err := config.Load(logger, viper.GetString("strategy"))
	if err != nil {
		return nil, nil, err
	}

	store := data.NewStore(logger)
	bars, err := store.LoadBars(viper.GetString("data"))
	if err != nil {
		return nil, nil, err
	}
	bars, err = filterBars(bars)
	if err != nil {
		return nil, nil, err
	}

	cfg := backtester.Config{
		Timeframe:       types.Timeframe(viper.GetString("timeframe")),
		InitialCapital:  decimal.NewFromFloat(viper.GetFloat64("capital")),
		CommissionRate:  decimal.NewFromFloat(viper.GetFloat64("commission")),
		SlippageBps:     decimal.NewFromFloat(viper.GetFloat64("slippage-bps")),
		SlippageJitter:  viper.GetFloat64("slippage-jitter"),
		Seed:            viper.GetInt64("seed"),
		StabilityWindow: viper.GetDuration("stability-window"),
	}
	if _, err := cfg.Timeframe.Duration(); err != nil {
		return nil, nil, err
	}

	engine := backtester.NewEngine(logger, cfg)
	result, err := engine.Run(ctx, doc, bars)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Backtest complete",
		zap.Int("bars", result.BarsProcessed),
		zap.Int("trades", len(result.Trades)),
		zap.Int("regimeChanges", len(result.RegimeHistory)),
		zap.Float64("netProfitPct", result.Metrics.NetProfitPct),
	)
	return result, doc, nil
}

func filterBars(bars []types.OHLCV) ([]types.OHLCV, error) {
	if viper.GetString("start") == "" && viper.GetString("end") == "" {
		return bars, nil
	}

	start := time.Time{}
	end := time.Unix(1<<40, 0) // far future

	if s := viper.GetString("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("parse start: %w", err)
		}
		start = t
	}
	if s := viper.GetString("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("parse end: %w", err)
		}
		end = t
	}
	return data.Filter(bars, start, end), nil
}

func writeJSON(path string, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = os.Stdout.Write(append(encoded, '\n'))
		return err
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}
