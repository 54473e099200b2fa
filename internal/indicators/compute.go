// Package indicators computes named numeric values per bar for the
// condition evaluator. Each series is aligned to its input bars with a
// ready flag per index; bars inside the warmup window stay not-ready and
// simply never appear in the value map.
package indicators

import (
	"math"

	"github.com/regimeflow/regimeflow/pkg/types"
)

type series struct {
	values []float64
	ready  []bool
}

func newSeries(n int) series {
	return series{values: make([]float64, n), ready: make([]bool, n)}
}

func closes(bars []types.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

func highsLows(bars []types.OHLCV) (highs, lows []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	for i, b := range bars {
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
	}
	return highs, lows
}

func computeClose(bars []types.OHLCV) series {
	s := newSeries(len(bars))
	for i, b := range bars {
		s.values[i], _ = b.Close.Float64()
		s.ready[i] = true
	}
	return s
}

func computeSMA(src []float64, period int) series {
	s := newSeries(len(src))
	if period < 1 || len(src) < period {
		return s
	}
	sum := 0.0
	for i := range src {
		sum += src[i]
		if i >= period {
			sum -= src[i-period]
		}
		if i >= period-1 {
			s.values[i] = sum / float64(period)
			s.ready[i] = true
		}
	}
	return s
}

func computeEMA(src []float64, period int) series {
	s := newSeries(len(src))
	if len(src) == 0 || period < 1 {
		return s
	}
	multiplier := 2.0 / float64(period+1)
	s.values[0] = src[0]
	s.ready[0] = true
	for i := 1; i < len(src); i++ {
		s.values[i] = (src[i]-s.values[i-1])*multiplier + s.values[i-1]
		s.ready[i] = true
	}
	return s
}

func computeRSI(src []float64, period int) series {
	s := newSeries(len(src))
	if period < 1 || len(src) < period+1 {
		return s
	}

	gain := make([]float64, len(src))
	loss := make([]float64, len(src))
	for i := 1; i < len(src); i++ {
		change := src[i] - src[i-1]
		if change > 0 {
			gain[i] = change
		} else {
			loss[i] = -change
		}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		avgGain += gain[i]
		avgLoss += loss[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	set := func(i int) {
		if avgLoss == 0 {
			s.values[i] = 100
		} else {
			s.values[i] = 100 - 100/(1+avgGain/avgLoss)
		}
		s.ready[i] = true
	}
	set(period)

	for i := period + 1; i < len(src); i++ {
		avgGain = (avgGain*float64(period-1) + gain[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss[i]) / float64(period)
		set(i)
	}
	return s
}

func trueRanges(highs, lows, closes []float64) []float64 {
	tr := make([]float64, len(highs))
	for i := 1; i < len(highs); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

func computeATR(bars []types.OHLCV, period int) series {
	s := newSeries(len(bars))
	if period < 1 || len(bars) < period+1 {
		return s
	}

	highs, lows := highsLows(bars)
	tr := trueRanges(highs, lows, closes(bars))

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	s.values[period] = sum / float64(period)
	s.ready[period] = true

	for i := period + 1; i < len(bars); i++ {
		s.values[i] = (s.values[i-1]*float64(period-1) + tr[i]) / float64(period)
		s.ready[i] = true
	}
	return s
}

// computeADX follows Wilder's smoothing for directional movement.
func computeADX(bars []types.OHLCV, period int) series {
	s := newSeries(len(bars))
	if period < 1 || len(bars) < period*2+1 {
		return s
	}

	highs, lows := highsLows(bars)
	cls := closes(bars)
	tr := trueRanges(highs, lows, cls)

	plusDM := make([]float64, len(bars))
	minusDM := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smTR := make([]float64, len(bars))
	smPlus := make([]float64, len(bars))
	smMinus := make([]float64, len(bars))
	for i := 1; i <= period; i++ {
		smTR[period] += tr[i]
		smPlus[period] += plusDM[i]
		smMinus[period] += minusDM[i]
	}
	for i := period + 1; i < len(bars); i++ {
		smTR[i] = smTR[i-1] - smTR[i-1]/float64(period) + tr[i]
		smPlus[i] = smPlus[i-1] - smPlus[i-1]/float64(period) + plusDM[i]
		smMinus[i] = smMinus[i-1] - smMinus[i-1]/float64(period) + minusDM[i]
	}

	dx := make([]float64, len(bars))
	for i := period; i < len(bars); i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlus[i] / smTR[i]
		minusDI := 100 * smMinus[i] / smTR[i]
		if sum := plusDI + minusDI; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		}
	}

	// ADX is a Wilder average of DX, warm from 2*period.
	var adx float64
	for i := period; i < period*2; i++ {
		adx += dx[i]
	}
	adx /= float64(period)
	s.values[period*2-1] = adx
	s.ready[period*2-1] = true

	for i := period * 2; i < len(bars); i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		s.values[i] = adx
		s.ready[i] = true
	}
	return s
}
