package indicators

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/internal/override"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// ErrTimeframeTooFine is returned before a run starts when an indicator
// requests a timeframe finer than the supplied base series.
var ErrTimeframeTooFine = errors.New("indicator timeframe finer than base series")

// Provider computes the document's indicators over a base bar series and
// serves them per bar. Higher-timeframe indicators are computed on their
// own resampled series and carried forward: the value visible at base bar
// i comes from the last higher-timeframe bar fully covered by data up to
// and including bar i, never interpolated past its own boundary.
//
// Parameters are read from the override store on every request, so
// strategy-set overrides take effect within the cycle that applied them.
// Computed series are cached per parameter fingerprint.
type Provider struct {
	logger *zap.Logger
	doc    *config.Document
	store  *override.Store

	base    []types.OHLCV
	baseTF  types.Timeframe
	baseDur time.Duration

	frames map[types.Timeframe]*frame
	cache  map[string]series
}

type frame struct {
	bars []types.OHLCV
	// lastComplete[i] is the index of the last bar in this frame fully
	// covered by base data through bar i, or -1.
	lastComplete []int
}

// NewProvider resamples every timeframe the document needs and validates
// granularity. A timeframe finer than the base series is a pre-flight
// error, never discovered mid-simulation.
func NewProvider(logger *zap.Logger, doc *config.Document, store *override.Store, base []types.OHLCV, baseTF types.Timeframe) (*Provider, error) {
	baseDur, err := baseTF.Duration()
	if err != nil {
		return nil, err
	}

	p := &Provider{
		logger:  logger,
		doc:     doc,
		store:   store,
		base:    base,
		baseTF:  baseTF,
		baseDur: baseDur,
		frames:  make(map[types.Timeframe]*frame),
		cache:   make(map[string]series),
	}

	for _, ind := range doc.Indicators {
		tf := ind.Timeframe
		if tf == "" {
			tf = baseTF
		}
		dur, err := tf.Duration()
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", ind.ID, err)
		}
		if dur < baseDur {
			return nil, fmt.Errorf("indicator %q wants %s: %w", ind.ID, tf, ErrTimeframeTooFine)
		}
		if _, ok := p.frames[tf]; ok {
			continue
		}

		bars, err := data.Resample(base, baseTF, tf)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", ind.ID, err)
		}
		p.frames[tf] = &frame{
			bars:         bars,
			lastComplete: completionIndex(base, baseDur, bars, dur),
		}
	}

	return p, nil
}

// Values returns every document indicator that has a ready value at base
// bar i. Indicators still inside their warmup window are simply absent,
// which fails dependent conditions closed.
func (p *Provider) Values(i int) types.IndicatorValues {
	values := make(types.IndicatorValues, len(p.doc.Indicators))

	for _, ind := range p.doc.Indicators {
		tf := ind.Timeframe
		if tf == "" {
			tf = p.baseTF
		}
		fr := p.frames[tf]

		idx := fr.lastComplete[i]
		if idx < 0 {
			continue
		}

		params := p.store.IndicatorParams(ind.ID)
		s := p.seriesFor(ind, tf, fr.bars, params)
		if idx < len(s.ready) && s.ready[idx] {
			values[ind.ID] = s.values[idx]
		}
	}

	return values
}

func (p *Provider) seriesFor(ind config.Indicator, tf types.Timeframe, bars []types.OHLCV, params map[string]float64) series {
	key := cacheKey(ind.ID, tf, params)
	if s, ok := p.cache[key]; ok {
		return s
	}

	s := compute(ind.Type, bars, params)
	p.cache[key] = s
	return s
}

func compute(kind string, bars []types.OHLCV, params map[string]float64) series {
	period := intParam(params, "period", 14)

	switch kind {
	case "close", "price":
		return computeClose(bars)
	case "sma":
		return computeSMA(closes(bars), period)
	case "ema":
		return computeEMA(closes(bars), period)
	case "rsi":
		return computeRSI(closes(bars), period)
	case "atr":
		return computeATR(bars, period)
	case "adx":
		return computeADX(bars, period)
	default:
		// Unknown types validate as absent values; conditions on them
		// fail closed.
		return newSeries(len(bars))
	}
}

// completionIndex maps each base bar to the last fully-formed bar of the
// coarser frame. A frame bar opening at B is complete at base bar time t
// iff t+baseDur >= B+frameDur.
func completionIndex(base []types.OHLCV, baseDur time.Duration, frameBars []types.OHLCV, frameDur time.Duration) []int {
	out := make([]int, len(base))
	j := -1
	for i, b := range base {
		covered := b.Timestamp.Add(baseDur)
		for j+1 < len(frameBars) && !frameBars[j+1].Timestamp.Add(frameDur).After(covered) {
			j++
		}
		out[i] = j
	}
	return out
}

func cacheKey(id string, tf types.Timeframe, params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(id)
	sb.WriteByte('@')
	sb.WriteString(string(tf))
	for _, k := range keys {
		fmt.Fprintf(&sb, ";%s=%v", k, params[k])
	}
	return sb.String()
}

func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}
