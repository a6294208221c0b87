// Package tvscreener serves point-in-time OHLC snapshots and light
// fundamentals from the TradingView screener endpoint. It is the intraday
// primary: one POST returns current-session data for up to 50 symbols.
// Anonymous access is delayed by 15 minutes (update_mode
// delayed_streaming_900).
package tvscreener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bist-market-data/internal/api"
	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/types"
)

const (
	DefaultScreenerURL = "https://scanner.tradingview.com/turkey/scan"

	// batchSize is the maximum symbols per request; larger sets are split.
	batchSize = 50
	// minBatchInterval spaces out consecutive batch requests.
	minBatchInterval = 500 * time.Millisecond
)

// screenerColumns is the ordered field list requested from the screener.
// Response rows carry values by position, so order matters.
var screenerColumns = []string{
	"name",
	"close",
	"open",
	"high",
	"low",
	"volume",
	"change",
	"change_abs",
	"update_mode",
	"description",
	"exchange",
	"sector",
	"market_cap_basic",
	"price_earnings_ttm",
	"price_book_ratio",
}

type Provider struct {
	provider.HealthTracker

	cfg    provider.Config
	client *api.Client

	mu           sync.Mutex
	consecutive  int // consecutive request failures
	downAfter    int
	degradeAfter int
}

var (
	_ provider.DataProvider  = (*Provider)(nil)
	_ provider.Snapshotter   = (*Provider)(nil)
	_ provider.DailyStatser  = (*Provider)(nil)
	_ provider.Fundamentaler = (*Provider)(nil)
)

// New constructs the screener provider. downAfter sets how many
// consecutive failures escalate health from Degraded to Down.
func New(cfg provider.Config, downAfter int) *Provider {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultScreenerURL
	}
	if downAfter <= 0 {
		downAfter = 5
	}

	opts := []api.ClientOption{
		api.WithTimeout(cfg.Timeout),
		api.WithLogging(logger.IsDebugEnabled()),
	}
	for k, v := range api.TradingViewHeaders() {
		opts = append(opts, api.WithHeader(k, v))
	}

	return &Provider{
		cfg:          cfg,
		client:       api.NewClient(opts...),
		downAfter:    downAfter,
		degradeAfter: 2,
	}
}

func (p *Provider) Name() string { return "tvscreener" }

type scanRequest struct {
	Markets []string `json:"markets"`
	Symbols struct {
		Tickers []string `json:"tickers"`
	} `json:"symbols"`
	Columns []string `json:"columns"`
	Range   [2]int   `json:"range"`
}

type scanResponse struct {
	Data []struct {
		S string `json:"s"`
		D []any  `json:"d"`
	} `json:"data"`
}

// GetSnapshots fetches point-in-time data for the given symbols, splitting
// into batches of 50. Partial rows are skipped, not fatal.
func (p *Provider) GetSnapshots(ctx context.Context, symbols []string) ([]types.Snapshot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if len(symbols) > batchSize {
		var all []types.Snapshot
		for i := 0; i < len(symbols); i += batchSize {
			end := i + batchSize
			if end > len(symbols) {
				end = len(symbols)
			}
			snaps, err := p.GetSnapshots(ctx, symbols[i:end])
			if err != nil {
				return all, err
			}
			all = append(all, snaps...)
			if end < len(symbols) {
				select {
				case <-ctx.Done():
					return all, ctx.Err()
				case <-time.After(minBatchInterval):
				}
			}
		}
		return all, nil
	}

	req := scanRequest{
		Markets: []string{"turkey"},
		Columns: screenerColumns,
		Range:   [2]int{0, len(symbols)},
	}
	for _, s := range symbols {
		req.Symbols.Tickers = append(req.Symbols.Tickers, toScreenerSymbol(s))
	}

	resp, err := p.client.POST(ctx, p.cfg.BaseURL, req)
	if err != nil {
		p.recordFailure(err)
		return nil, fmt.Errorf("screener request failed: %w", err)
	}

	var parsed scanResponse
	if err := resp.ParseJSON(&parsed); err != nil {
		p.recordFailure(err)
		return nil, err
	}

	now := time.Now().Unix()
	snapshots := make([]types.Snapshot, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		if row.S == "" || len(row.D) == 0 {
			continue
		}
		snapshots = append(snapshots, rowToSnapshot(row.S, row.D, now))
	}

	p.recordSuccess()
	logger.Debug(ctx, "Screener snapshots fetched", "requested", len(symbols), "received", len(snapshots))
	return snapshots, nil
}

// GetOHLCV returns the current session values as a single bar. The
// screener has no history; callers needing more than the live bar must
// fail over to a candle source.
func (p *Provider) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	snaps, err := p.GetSnapshots(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	s := snaps[0]
	return []types.Bar{{
		Ts:     s.Ts,
		Open:   s.Open,
		High:   s.High,
		Low:    s.Low,
		Close:  s.Close,
		Vol:    s.Volume,
		Symbol: s.Symbol,
	}}, nil
}

func (p *Provider) GetDailyStats(ctx context.Context, symbol string) (types.DailyStats, error) {
	snaps, err := p.GetSnapshots(ctx, []string{symbol})
	if err != nil {
		return types.DailyStats{}, err
	}
	if len(snaps) == 0 {
		return types.DailyStats{}, fmt.Errorf("no screener data for %s", symbol)
	}
	s := snaps[0]
	return types.DailyStats{
		Symbol:             s.Symbol,
		CurrentPrice:       s.Close,
		Open:               s.Open,
		High:               s.High,
		Low:                s.Low,
		Close:              s.Close,
		Volume:             s.Volume,
		DailyVolumeTL:      s.Volume * s.Close,
		DailyChangePercent: s.ChangePercent,
		Ts:                 s.Ts,
	}, nil
}

func (p *Provider) GetFundamentals(ctx context.Context, symbol string) (types.Fundamentals, error) {
	snaps, err := p.GetSnapshots(ctx, []string{symbol})
	if err != nil {
		return types.Fundamentals{}, err
	}
	if len(snaps) == 0 {
		return types.Fundamentals{}, fmt.Errorf("no screener data for %s", symbol)
	}
	s := snaps[0]
	return types.Fundamentals{
		Symbol:      s.Symbol,
		Sector:      s.Sector,
		MarketCap:   s.MarketCap,
		PERatio:     s.PERatio,
		PBRatio:     s.PBRatio,
		Description: s.Description,
	}, nil
}

// CheckHealth probes with a single-symbol snapshot request.
func (p *Provider) CheckHealth(ctx context.Context) provider.Health {
	snaps, err := p.GetSnapshots(ctx, []string{"THYAO"})
	switch {
	case err != nil:
		p.MarkDown(err)
	case len(snaps) == 0:
		p.MarkDegraded(nil)
	default:
		p.MarkHealthy()
	}
	return p.Health()
}

// Health folds the consecutive-failure counter into the tracked status.
func (p *Provider) Health() provider.Health {
	p.mu.Lock()
	consecutive := p.consecutive
	p.mu.Unlock()

	if consecutive >= p.downAfter {
		return provider.HealthDown
	}
	if consecutive >= p.degradeAfter {
		return provider.HealthDegraded
	}
	return p.HealthTracker.Health()
}

func (p *Provider) Close() error { return nil }

func (p *Provider) recordFailure(err error) {
	p.mu.Lock()
	p.consecutive++
	p.mu.Unlock()
	p.MarkDegraded(err)
}

func (p *Provider) recordSuccess() {
	p.mu.Lock()
	p.consecutive = 0
	p.mu.Unlock()
	p.MarkHealthy()
}

// toScreenerSymbol prefixes the exchange for the screener API.
func toScreenerSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasPrefix(symbol, "BIST:") {
		return symbol
	}
	return "BIST:" + symbol
}

// rowToSnapshot maps a positional screener row onto a Snapshot. Missing or
// null cells become zero values.
func rowToSnapshot(fullSymbol string, values []any, ts int64) types.Snapshot {
	col := func(name string) any {
		for i, c := range screenerColumns {
			if c == name && i < len(values) {
				return values[i]
			}
		}
		return nil
	}
	return types.Snapshot{
		Symbol:        strings.TrimPrefix(fullSymbol, "BIST:"),
		Open:          asFloat(col("open")),
		High:          asFloat(col("high")),
		Low:           asFloat(col("low")),
		Close:         asFloat(col("close")),
		Volume:        asFloat(col("volume")),
		Change:        asFloat(col("change")),
		ChangePercent: asFloat(col("change_abs")),
		UpdateMode:    asString(col("update_mode")),
		Description:   asString(col("description")),
		Exchange:      asStringOr(col("exchange"), "BIST"),
		Sector:        asString(col("sector")),
		MarketCap:     asFloat(col("market_cap_basic")),
		PERatio:       asFloat(col("price_earnings_ttm")),
		PBRatio:       asFloat(col("price_book_ratio")),
		Ts:            ts,
	}
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
