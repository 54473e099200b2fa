// Package montecarlo estimates the distribution of strategy outcomes by
// bootstrap-resampling a trade history. Reordering and resampling the same
// trades shows how much of a backtest's shape was luck: a strategy whose
// drawdown explodes under reshuffling passed on sequence, not edge.
package montecarlo

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// Config shapes a simulation.
type Config struct {
	// Runs is the number of resampled histories.
	Runs int
	// Seed drives the resampler; equal seeds give identical results.
	Seed int64
	// Percentiles to report, in (0,1).
	Percentiles []float64
	// WithReplacement selects bootstrap sampling; false shuffles instead.
	WithReplacement bool
}

// DefaultConfig returns 1000 bootstrap runs with the usual percentile
// ladder.
func DefaultConfig() Config {
	return Config{
		Runs:            1000,
		Seed:            42,
		Percentiles:     []float64{0.05, 0.25, 0.50, 0.75, 0.95},
		WithReplacement: true,
	}
}

// Distribution summarizes one statistic across all runs.
type Distribution struct {
	Mean        float64            `json:"mean"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// Result is the outcome of a simulation.
type Result struct {
	Runs           int          `json:"runs"`
	FinalReturnPct Distribution `json:"finalReturnPct"`
	MaxDrawdownPct Distribution `json:"maxDrawdownPct"`
	ProbProfit     float64      `json:"probProfit"`
}

// Simulator resamples trade histories.
type Simulator struct {
	logger *zap.Logger
	config Config
}

// NewSimulator creates a simulator.
func NewSimulator(logger *zap.Logger, config Config) *Simulator {
	if config.Runs <= 0 {
		config.Runs = DefaultConfig().Runs
	}
	if len(config.Percentiles) == 0 {
		config.Percentiles = DefaultConfig().Percentiles
	}
	return &Simulator{logger: logger, config: config}
}

// Run resamples the trade history and reports outcome distributions. The
// input order carries no weight; only the multiset of trade results does.
func (s *Simulator) Run(trades []types.Trade, initialCapital decimal.Decimal) (*Result, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to resample")
	}
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i], _ = t.PnL.Float64()
	}
	capital, _ := initialCapital.Float64()

	rng := rand.New(rand.NewSource(s.config.Seed))

	finals := make([]float64, s.config.Runs)
	drawdowns := make([]float64, s.config.Runs)
	profitable := 0

	sample := make([]float64, len(pnls))
	for run := 0; run < s.config.Runs; run++ {
		if s.config.WithReplacement {
			for i := range sample {
				sample[i] = pnls[rng.Intn(len(pnls))]
			}
		} else {
			copy(sample, pnls)
			rng.Shuffle(len(sample), func(i, j int) {
				sample[i], sample[j] = sample[j], sample[i]
			})
		}

		equity := capital
		peak := capital
		maxDD := 0.0
		for _, pnl := range sample {
			equity += pnl
			if equity > peak {
				peak = equity
			}
			if peak > 0 {
				if dd := (peak - equity) / peak; dd > maxDD {
					maxDD = dd
				}
			}
		}

		finals[run] = (equity - capital) / capital * 100
		drawdowns[run] = maxDD * 100
		if equity > capital {
			profitable++
		}
	}

	result := &Result{
		Runs:           s.config.Runs,
		FinalReturnPct: s.distribution(finals),
		MaxDrawdownPct: s.distribution(drawdowns),
		ProbProfit:     float64(profitable) / float64(s.config.Runs),
	}

	s.logger.Info("Monte Carlo simulation complete",
		zap.Int("runs", s.config.Runs),
		zap.Int("trades", len(trades)),
		zap.Float64("probProfit", result.ProbProfit),
	)
	return result, nil
}

func (s *Simulator) distribution(samples []float64) Distribution {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	d := Distribution{
		Mean:        sum / float64(len(sorted)),
		Percentiles: make(map[string]float64, len(s.config.Percentiles)),
	}
	for _, p := range s.config.Percentiles {
		d.Percentiles[fmt.Sprintf("p%02.0f", p*100)] = percentile(sorted, p)
	}
	return d
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
