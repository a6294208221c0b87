package tvstream

import (
	"testing"

	"bist-market-data/internal/types"
)

func TestAggregatorBuildsBar(t *testing.T) {
	t0 := int64(1700000040) // minute-aligned
	agg := NewBarAggregator("THYAO", types.TF1m)

	if _, done := agg.ProcessTick(10, 100, t0); done {
		t.Fatal("Expected no bar from the first tick")
	}
	if _, done := agg.ProcessTick(12, 50, t0+5); done {
		t.Fatal("Expected no bar while bucket is open")
	}
	if _, done := agg.ProcessTick(9, 20, t0+10); done {
		t.Fatal("Expected no bar while bucket is open")
	}

	bar, done := agg.ProcessTick(11, 30, t0+61)
	if !done {
		t.Fatal("Expected completed bar when next bucket opens")
	}
	if bar.Open != 10 {
		t.Errorf("Expected open 10, got %f", bar.Open)
	}
	if bar.High != 12 {
		t.Errorf("Expected high 12, got %f", bar.High)
	}
	if bar.Low != 9 {
		t.Errorf("Expected low 9, got %f", bar.Low)
	}
	if bar.Close != 9 {
		t.Errorf("Expected close 9, got %f", bar.Close)
	}
	if bar.Vol != 170 {
		t.Errorf("Expected volume 170, got %f", bar.Vol)
	}
	if bar.Ts != t0 {
		t.Errorf("Expected bar timestamp %d, got %d", t0, bar.Ts)
	}
	if bar.Symbol != "THYAO" {
		t.Errorf("Expected symbol THYAO, got %s", bar.Symbol)
	}
}

func TestAggregatorBarStart(t *testing.T) {
	agg5 := NewBarAggregator("X", types.TF5m)
	if got := agg5.BarStart(1700000299); got != 1700000100 {
		t.Errorf("Expected 5m floor 1700000100, got %d", got)
	}

	aggD := NewBarAggregator("X", types.TF1D)
	if got := aggD.BarStart(1700000299); got != 1699920000 {
		t.Errorf("Expected daily floor 1699920000, got %d", got)
	}
}

func TestAggregatorSkippedBuckets(t *testing.T) {
	agg := NewBarAggregator("GARAN", types.TF1m)
	agg.ProcessTick(5, 1, 60)

	// Quiet market: the next tick lands three buckets later. The old bar
	// closes; the gap produces no synthetic bars.
	bar, done := agg.ProcessTick(6, 1, 240)
	if !done {
		t.Fatal("Expected completed bar after gap")
	}
	if bar.Ts != 60 {
		t.Errorf("Expected bar timestamp 60, got %d", bar.Ts)
	}

	if _, done := agg.ProcessTick(7, 1, 250); done {
		t.Error("Expected in-progress bar for the new bucket")
	}
}

func TestAggregatorLateTickFoldsIntoCurrentBar(t *testing.T) {
	agg := NewBarAggregator("THYAO", types.TF1m)
	agg.ProcessTick(10, 1, 120)

	// A tick stamped into an earlier bucket must not close the open bar
	// or reopen a past one.
	if _, done := agg.ProcessTick(9, 2, 110); done {
		t.Fatal("Expected late tick to not emit a bar")
	}

	bar, done := agg.ProcessTick(11, 1, 180)
	if !done {
		t.Fatal("Expected completed bar at next bucket")
	}
	if bar.Ts != 120 {
		t.Errorf("Expected bar timestamp 120, got %d", bar.Ts)
	}
	if bar.Low != 9 {
		t.Errorf("Expected late tick folded into low, got %f", bar.Low)
	}
	if bar.Close != 9 {
		t.Errorf("Expected close 9 from last tick, got %f", bar.Close)
	}
	if bar.Vol != 3 {
		t.Errorf("Expected volume 3, got %f", bar.Vol)
	}

	// Emitted timestamps stay strictly increasing across the late tick.
	next, done := agg.ProcessTick(12, 1, 240)
	if !done {
		t.Fatal("Expected completed bar")
	}
	if next.Ts <= bar.Ts {
		t.Errorf("Expected increasing timestamps, got %d after %d", next.Ts, bar.Ts)
	}
}

func TestAggregatorFlush(t *testing.T) {
	agg := NewBarAggregator("AKBNK", types.TF1m)

	if _, ok := agg.Flush(); ok {
		t.Error("Expected nothing to flush before any tick")
	}

	agg.ProcessTick(3, 10, 120)
	bar, ok := agg.Flush()
	if !ok {
		t.Fatal("Expected flushed bar")
	}
	if bar.Open != 3 || bar.Vol != 10 {
		t.Errorf("Unexpected flushed bar %+v", bar)
	}

	if _, ok := agg.Flush(); ok {
		t.Error("Expected flush to reset the aggregator")
	}
}
