package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/internal/backtester"
	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/internal/monitor"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/pkg/types"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live monitor with strategy document hot reload",
		Long: `serve watches the strategy document for changes, swapping validated
versions in atomically, and exposes regime state over HTTP, WebSocket and
Prometheus. With --data it replays a bar series through the simulation
engine so the monitor has regime activity to show.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("strategy", "", "strategy document (yaml), watched for changes")
	cmd.Flags().String("data", "", "optional bar series (json) to replay through the engine")
	cmd.Flags().String("timeframe", "1h", "base timeframe of the replayed bar series")
	cmd.Flags().String("host", "127.0.0.1", "bind host")
	cmd.Flags().Int("port", 8090, "bind port")
	cmd.Flags().Duration("debounce", config.DefaultDebounce, "delay before applying a changed document")
	cmd.Flags().Duration("stability-window", time.Hour, "regime change retention window")
	cmd.Flags().Duration("oscillation-window", 30*time.Minute, "window for oscillation detection")
	cmd.Flags().Int("oscillation-threshold", 4, "changes within the window that count as oscillation")
	cmd.MarkFlagRequired("strategy")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reloader, err := config.NewReloader(logger, viper.GetString("strategy"),
		viper.GetDuration("debounce"))
	if err != nil {
		return err
	}

	serverCfg := monitor.DefaultServerConfig()
	serverCfg.Host = viper.GetString("host")
	serverCfg.Port = viper.GetInt("port")
	server := monitor.NewServer(logger, serverCfg)

	reloader.Subscribe(func(old, updated *config.Document) {
		logger.Info("Strategy document reloaded",
			zap.String("fromVersion", old.Version),
			zap.String("toVersion", updated.Version))
		server.RecordReload(nil)
	})
	reloader.OnError(func(err error) {
		server.RecordReload(err)
	})

	go func() {
		if err := reloader.Watch(ctx); err != nil {
			logger.Error("Document watcher stopped", zap.Error(err))
		}
	}()

	if path := viper.GetString("data"); path != "" {
		go replay(ctx, reloader, server, path)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}

// replay runs the active document over a bar series, streaming regime
// activity into the monitor as it happens.
func replay(ctx context.Context, reloader *config.Reloader, server *monitor.Server, path string) {
	store := data.NewStore(logger)
	bars, err := store.LoadBars(path)
	if err != nil {
		logger.Error("Failed to load replay bars", zap.Error(err))
		return
	}

	oscWindow := viper.GetDuration("oscillation-window")
	oscThreshold := viper.GetInt("oscillation-threshold")
	stabilityWindow := viper.GetDuration("stability-window")

	tracker := regime.NewStabilityTracker(logger, regime.StabilityConfig{
		Window: stabilityWindow,
	})

	cfg := backtester.Config{
		Timeframe:       types.Timeframe(viper.GetString("timeframe")),
		InitialCapital:  decimal.NewFromInt(10000),
		CommissionRate:  decimal.NewFromFloat(0.001),
		SlippageBps:     decimal.Zero,
		StabilityWindow: stabilityWindow,
	}
	engine := backtester.NewEngine(logger, cfg)
	// Hot-swapped documents reach the decision cycle on the next bar.
	engine.DocSource = reloader.Active
	engine.OnRegimeChange = func(change types.RegimeChange) {
		tracker.Record(change)
		metrics := tracker.Metrics(stabilityWindow)
		last := change
		server.UpdateStatus(monitor.RegimeStatus{
			ActiveRegimes:  []string{change.ToRegime},
			StabilityScore: metrics.StabilityScore,
			Oscillating:    tracker.DetectOscillation(oscWindow, oscThreshold),
			LastChange:     &last,
			RecentChanges:  tracker.History(),
		})
	}

	result, err := engine.Run(ctx, reloader.Active(), bars)
	if err != nil {
		logger.Error("Replay failed", zap.Error(err))
		return
	}
	logger.Info("Replay complete",
		zap.Int("bars", result.BarsProcessed),
		zap.Int("trades", len(result.Trades)),
		zap.Int("regimeChanges", len(result.RegimeHistory)))
}
