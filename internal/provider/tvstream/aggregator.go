package tvstream

import (
	"sync"

	"bist-market-data/internal/types"
)

// BarAggregator folds a stream of ticks into fixed-width OHLCV bars for one
// symbol. Only completed bars are emitted: a bar closes when the first tick
// of the next bucket arrives.
type BarAggregator struct {
	mu      sync.Mutex
	symbol  string
	tf      types.Timeframe
	current *types.Bar
}

func NewBarAggregator(symbol string, tf types.Timeframe) *BarAggregator {
	return &BarAggregator{symbol: symbol, tf: tf}
}

// BarStart floors a unix timestamp to the start of its bucket.
func (a *BarAggregator) BarStart(ts int64) int64 {
	width := int64(a.tf.Duration().Seconds())
	return ts - ts%width
}

// ProcessTick merges one tick. When the tick opens a new bucket the previous
// bar is returned as completed; otherwise ok is false.
func (a *BarAggregator) ProcessTick(price, volume float64, ts int64) (types.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.BarStart(ts)

	if a.current == nil {
		a.current = a.newBar(start, price, volume)
		return types.Bar{}, false
	}

	if start > a.current.Ts {
		completed := *a.current
		a.current = a.newBar(start, price, volume)
		return completed, true
	}

	// Same bucket, or a late tick from an earlier one: fold into the
	// current bar so emitted timestamps only ever move forward.
	a.current.Close = price
	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Vol += volume
	return types.Bar{}, false
}

// Flush returns the in-progress bar, if any, and resets the aggregator.
// Used on shutdown so the last partial bucket is not lost.
func (a *BarAggregator) Flush() (types.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return types.Bar{}, false
	}
	bar := *a.current
	a.current = nil
	return bar, true
}

func (a *BarAggregator) newBar(start int64, price, volume float64) *types.Bar {
	return &types.Bar{
		Ts:     start,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Vol:    volume,
		Symbol: a.symbol,
	}
}
