package data

import (
	"fmt"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// Resample aggregates a base series into a coarser timeframe: first open,
// max high, min low, last close, summed volume per target bucket. Bucket
// timestamps are truncated to the target duration. Producing a finer series
// than the base is unsupported and rejected; data can only be aggregated,
// never invented.
func Resample(bars []types.OHLCV, from, to types.Timeframe) ([]types.OHLCV, error) {
	fromDur, err := from.Duration()
	if err != nil {
		return nil, err
	}
	toDur, err := to.Duration()
	if err != nil {
		return nil, err
	}

	if toDur < fromDur {
		return nil, fmt.Errorf("cannot resample %s down to finer timeframe %s", from, to)
	}
	if toDur == fromDur {
		out := make([]types.OHLCV, len(bars))
		copy(out, bars)
		return out, nil
	}
	if toDur%fromDur != 0 {
		return nil, fmt.Errorf("timeframe %s is not a multiple of base %s", to, from)
	}

	var out []types.OHLCV
	for _, b := range bars {
		bucket := b.Timestamp.Truncate(toDur)

		if len(out) == 0 || !out[len(out)-1].Timestamp.Equal(bucket) {
			out = append(out, types.OHLCV{
				Timestamp: bucket,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			})
			continue
		}

		cur := &out[len(out)-1]
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}

	return out, nil
}
