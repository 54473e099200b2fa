// Package data provides historical bar loading and timeframe resampling.
package data

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// Store loads time-ordered OHLCV series from JSON bar files.
type Store struct {
	logger *zap.Logger
}

// NewStore creates a bar store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// LoadBars reads a JSON array of bars, sorts it by timestamp and verifies
// basic consistency. The returned series is safe to hand to the simulator.
func (s *Store) LoadBars(path string) ([]types.OHLCV, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parse bars: %w", err)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	if err := Verify(bars); err != nil {
		return nil, err
	}

	s.logger.Info("Loaded bar series",
		zap.String("path", path),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}

// Filter returns the bars within [start, end].
func Filter(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	var out []types.OHLCV
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Verify checks OHLC consistency and timestamp ordering. Bad data ruins
// backtests, so a broken series is rejected before the run starts.
func Verify(bars []types.OHLCV) error {
	for i, b := range bars {
		if b.High.LessThan(b.Low) {
			return fmt.Errorf("bar %d at %s: high %s below low %s",
				i, b.Timestamp.Format(time.RFC3339), b.High, b.Low)
		}
		if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) {
			return fmt.Errorf("bar %d at %s: open %s outside [low, high]",
				i, b.Timestamp.Format(time.RFC3339), b.Open)
		}
		if b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
			return fmt.Errorf("bar %d at %s: close %s outside [low, high]",
				i, b.Timestamp.Format(time.RFC3339), b.Close)
		}
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			return fmt.Errorf("bar %d at %s: timestamp not increasing",
				i, b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
