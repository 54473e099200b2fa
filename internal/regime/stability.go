package regime

import (
	"sync"
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// StabilityConfig configures the stability tracker.
type StabilityConfig struct {
	// Window is the rolling retention window for transition history.
	Window time.Duration
	// ExpectedMaxChanges is the baseline change count for a full window.
	// Zero means one change per ten minutes of window.
	ExpectedMaxChanges int
}

// DefaultStabilityConfig returns sensible defaults.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		Window: time.Hour,
	}
}

// StabilityMetrics summarizes regime transitions over a lookback period.
type StabilityMetrics struct {
	StabilityScore   float64                   `json:"stabilityScore"`
	AvgConfidence    float64                   `json:"avgConfidence"`
	NumChanges       int                       `json:"numChanges"`
	OscillationCount int                       `json:"oscillationCount"`
	TransitionMatrix map[string]map[string]int `json:"transitionMatrix"`
}

// StabilityTracker records regime transitions and flags oscillation, rapid
// back-and-forth switching that indicates unstable classification. Pruning
// uses the timestamps carried by the changes themselves, so backtests stay
// deterministic.
type StabilityTracker struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	config  StabilityConfig
	history []types.RegimeChange
}

// NewStabilityTracker creates a tracker with the given config.
func NewStabilityTracker(logger *zap.Logger, config StabilityConfig) *StabilityTracker {
	if config.Window <= 0 {
		config.Window = DefaultStabilityConfig().Window
	}
	return &StabilityTracker{
		logger: logger,
		config: config,
	}
}

// Record appends a transition and prunes entries older than the rolling
// window, measured against the newest recorded timestamp.
func (t *StabilityTracker) Record(change types.RegimeChange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, change)

	cutoff := change.Timestamp.Add(-t.config.Window)
	firstKept := 0
	for firstKept < len(t.history) && t.history[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		t.history = append(t.history[:0], t.history[firstKept:]...)
	}

	t.logger.Debug("Regime transition recorded",
		zap.String("from", change.FromRegime),
		zap.String("to", change.ToRegime),
		zap.Float64("confidence", change.Confidence),
	)
}

// Metrics computes stability over the trailing lookback. The score is
// clamp(1 - numChanges/expectedMax - 0.10*oscillations, 0, 1).
func (t *StabilityTracker) Metrics(lookback time.Duration) StabilityMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	recent := t.trailing(lookback)

	m := StabilityMetrics{
		NumChanges:       len(recent),
		TransitionMatrix: make(map[string]map[string]int),
	}

	var confSum float64
	for i, c := range recent {
		confSum += c.Confidence

		row, ok := m.TransitionMatrix[c.FromRegime]
		if !ok {
			row = make(map[string]int)
			m.TransitionMatrix[c.FromRegime] = row
		}
		row[c.ToRegime]++

		// A change straight back to where the previous change came from
		// counts as one oscillation.
		if i > 0 && c.ToRegime == recent[i-1].FromRegime {
			m.OscillationCount++
		}
	}

	if len(recent) > 0 {
		m.AvgConfidence = confSum / float64(len(recent))
	}

	expectedMax := t.config.ExpectedMaxChanges
	if expectedMax <= 0 {
		expectedMax = int(lookback / (10 * time.Minute))
		if expectedMax < 1 {
			expectedMax = 1
		}
	}

	score := 1 - float64(m.NumChanges)/float64(expectedMax) - 0.10*float64(m.OscillationCount)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	m.StabilityScore = score

	return m
}

// DetectOscillation reports whether the count of changes within the
// trailing window meets or exceeds threshold. This is a plain frequency
// detector; it does not match specific A-B-A sequences.
func (t *StabilityTracker) DetectOscillation(window time.Duration, threshold int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if threshold <= 0 {
		return false
	}
	return len(t.trailing(window)) >= threshold
}

// History returns a copy of the retained transition history.
func (t *StabilityTracker) History() []types.RegimeChange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.RegimeChange, len(t.history))
	copy(out, t.history)
	return out
}

// trailing returns the retained changes within lookback of the newest
// entry. Callers hold at least a read lock.
func (t *StabilityTracker) trailing(lookback time.Duration) []types.RegimeChange {
	if len(t.history) == 0 {
		return nil
	}
	cutoff := t.history[len(t.history)-1].Timestamp.Add(-lookback)
	for i, c := range t.history {
		if !c.Timestamp.Before(cutoff) {
			return t.history[i:]
		}
	}
	return nil
}
