// Package providerobs wraps a DataSource with tracing and timing logs.
package providerobs

import (
	"context"
	"time"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/trace"
	"bist-market-data/internal/types"
)

type observableDataSource struct {
	source provider.DataSource
}

var _ provider.DataSource = (*observableDataSource)(nil)

func Wrap(source provider.DataSource) provider.DataSource {
	return &observableDataSource{
		source: source,
	}
}

func (o *observableDataSource) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) []types.Bar {
	ctx, span := trace.StartSpan(ctx, "provider.GetOHLCV")
	defer span.End()

	start := time.Now()
	bars := o.source.GetOHLCV(ctx, symbol, tf, limit)

	logger.Debug(ctx, "OHLCV fetch completed",
		"symbol", symbol,
		"timeframe", string(tf),
		"bars", len(bars),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bars
}

func (o *observableDataSource) GetOHLCVDaily(ctx context.Context, symbol string, limit int) []types.Bar {
	ctx, span := trace.StartSpan(ctx, "provider.GetOHLCVDaily")
	defer span.End()

	start := time.Now()
	bars := o.source.GetOHLCVDaily(ctx, symbol, limit)

	logger.Debug(ctx, "Daily OHLCV fetch completed",
		"symbol", symbol,
		"bars", len(bars),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bars
}

func (o *observableDataSource) GetDailyStats(ctx context.Context, symbol string) (types.DailyStats, bool) {
	ctx, span := trace.StartSpan(ctx, "provider.GetDailyStats")
	defer span.End()

	stats, ok := o.source.GetDailyStats(ctx, symbol)
	if !ok {
		logger.Warn(ctx, "Daily stats unavailable", "symbol", symbol)
	}
	return stats, ok
}

func (o *observableDataSource) GetFundamentals(ctx context.Context, symbol string) (types.Fundamentals, bool) {
	ctx, span := trace.StartSpan(ctx, "provider.GetFundamentals")
	defer span.End()

	out, ok := o.source.GetFundamentals(ctx, symbol)
	if !ok {
		logger.Warn(ctx, "Fundamentals unavailable", "symbol", symbol)
	}
	return out, ok
}

func (o *observableDataSource) GetSnapshots(ctx context.Context, symbols []string) []types.Snapshot {
	ctx, span := trace.StartSpan(ctx, "provider.GetSnapshots")
	defer span.End()

	start := time.Now()
	snaps := o.source.GetSnapshots(ctx, symbols)

	logger.Debug(ctx, "Snapshot fetch completed",
		"requested", len(symbols),
		"received", len(snaps),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snaps
}

func (o *observableDataSource) GetBidAskSpread(ctx context.Context, symbol string) (float64, bool) {
	ctx, span := trace.StartSpan(ctx, "provider.GetBidAskSpread")
	defer span.End()
	return o.source.GetBidAskSpread(ctx, symbol)
}

func (o *observableDataSource) GetRealtimeStream(ctx context.Context, symbols []string, tf types.Timeframe) (<-chan types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "provider.GetRealtimeStream")
	defer span.End()

	bars, err := o.source.GetRealtimeStream(ctx, symbols, tf)
	if err != nil {
		logger.ErrorWithErr(ctx, "Realtime stream setup failed", err, "symbols", len(symbols))
		return nil, err
	}
	logger.Info(ctx, "Realtime stream attached", "symbols", len(symbols), "timeframe", string(tf))
	return bars, nil
}

func (o *observableDataSource) GetHealthSummary() map[string]string {
	return o.source.GetHealthSummary()
}

func (o *observableDataSource) Stats() types.FailoverStats {
	return o.source.Stats()
}
