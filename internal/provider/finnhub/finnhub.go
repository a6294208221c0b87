// Package finnhub fetches historical OHLCV candles from the Finnhub REST
// API. It is the daily primary and the intraday fallback. The free tier is
// strictly rate limited, so every request passes through a shared sliding
// window limiter and identical requests within a minute are served from a
// small cache.
package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/types"
)

const (
	DefaultBaseURL = "https://finnhub.io/api/v1"

	// cacheTTL keeps candle responses hot long enough to absorb retries and
	// repeated scans without burning quota.
	cacheTTL = 60 * time.Second

	// rangePadding over-fetches the requested window so weekends and
	// holidays still leave enough bars.
	rangePadding = 1.2
)

// resolutions maps timeframes onto Finnhub resolution codes.
var resolutions = map[types.Timeframe]string{
	types.TF1m:  "1",
	types.TF5m:  "5",
	types.TF15m: "15",
	types.TF1h:  "60",
	types.TF1D:  "D",
}

type cacheEntry struct {
	bars    []types.Bar
	fetched time.Time
}

type Provider struct {
	provider.HealthTracker

	cfg     provider.Config
	client  *http.Client
	limiter *provider.RateLimiter

	mu    sync.Mutex
	cache map[string]cacheEntry

	statsMu  sync.Mutex
	requests int64
	failures int64
}

var _ provider.DataProvider = (*Provider)(nil)

// New constructs the Finnhub provider. The limiter is shared with any
// other consumers of the same API key quota; pass nil to disable limiting.
func New(cfg provider.Config, limiter *provider.RateLimiter) *Provider {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		cache:   make(map[string]cacheEntry),
	}
}

func (p *Provider) Name() string { return "finnhub" }

type candleResponse struct {
	Status string    `json:"s"`
	T      []int64   `json:"t"`
	O      []float64 `json:"o"`
	H      []float64 `json:"h"`
	L      []float64 `json:"l"`
	C      []float64 `json:"c"`
	V      []float64 `json:"v"`
}

// GetOHLCV fetches up to limit candles ending now. Empty windows ("no_data")
// return an empty slice with nil error so the caller can fail over.
func (p *Provider) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("finnhub: %w: no API key configured", provider.ErrAuth)
	}
	resolution, ok := resolutions[tf]
	if !ok {
		return nil, fmt.Errorf("finnhub: unsupported timeframe %s", tf)
	}
	if limit <= 0 {
		limit = 100
	}

	key := fmt.Sprintf("%s|%s|%d", symbol, tf, limit)
	if bars, ok := p.cached(key); ok {
		return bars, nil
	}

	now := time.Now()
	span := time.Duration(float64(limit) * float64(tf.Duration()) * rangePadding)
	q := url.Values{}
	q.Set("symbol", toFinnhubSymbol(symbol))
	q.Set("resolution", resolution)
	q.Set("from", fmt.Sprintf("%d", now.Add(-span).Unix()))
	q.Set("to", fmt.Sprintf("%d", now.Unix()))

	body, err := p.get(ctx, "/stock/candle", q)
	if err != nil {
		return nil, err
	}

	var parsed candleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.recordFailure(err)
		return nil, fmt.Errorf("finnhub: decoding candles: %w", err)
	}
	if parsed.Status == "no_data" {
		p.MarkHealthy()
		return nil, nil
	}
	if parsed.Status != "ok" {
		err := fmt.Errorf("finnhub: candle status %q", parsed.Status)
		p.recordFailure(err)
		return nil, err
	}

	bars := make([]types.Bar, 0, len(parsed.T))
	for i := range parsed.T {
		if i >= len(parsed.O) || i >= len(parsed.H) || i >= len(parsed.L) || i >= len(parsed.C) {
			break
		}
		// Returned series must be strictly increasing; drop duplicates
		// and out-of-order rows instead of trusting upstream ordering.
		if len(bars) > 0 && parsed.T[i] <= bars[len(bars)-1].Ts {
			continue
		}
		var vol float64
		if i < len(parsed.V) {
			vol = parsed.V[i]
		}
		bars = append(bars, types.Bar{
			Ts:     parsed.T[i],
			Open:   parsed.O[i],
			High:   parsed.H[i],
			Low:    parsed.L[i],
			Close:  parsed.C[i],
			Vol:    vol,
			Symbol: normalizeSymbol(symbol),
		})
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	p.MarkHealthy()
	p.store(key, bars)
	logger.Debug(ctx, "Finnhub candles fetched", "symbol", symbol, "timeframe", tf, "bars", len(bars))
	return bars, nil
}

// CheckHealth probes the /quote endpoint, which is cheap and available on
// the free tier.
func (p *Provider) CheckHealth(ctx context.Context) provider.Health {
	if p.cfg.APIKey == "" {
		p.MarkDown(provider.ErrAuth)
		return p.Health()
	}

	q := url.Values{}
	q.Set("symbol", toFinnhubSymbol("THYAO"))
	body, err := p.get(ctx, "/quote", q)
	if err != nil {
		if errors.Is(err, provider.ErrAuth) {
			p.MarkDown(err)
		} else {
			p.MarkDegraded(err)
		}
		return p.Health()
	}

	var quote struct {
		C float64 `json:"c"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		p.MarkDegraded(err)
		return p.Health()
	}
	p.MarkHealthy()
	return p.Health()
}

func (p *Provider) Close() error { return nil }

// Stats returns request and failure counts since construction.
func (p *Provider) Stats() (requests, failures int64) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.requests, p.failures
}

// get performs one rate-limited GET with retry on transient failures.
// 401 maps to ErrAuth, 403 fails without retry, 429 backs off in place.
func (p *Provider) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	q.Set("token", p.cfg.APIKey)
	fullURL := p.cfg.BaseURL + path + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		p.statsMu.Lock()
		p.requests++
		p.statsMu.Unlock()

		body, status, err := p.doRequest(ctx, fullURL)
		if err != nil {
			lastErr = err
			p.recordFailure(err)
			continue
		}

		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusUnauthorized:
			err := fmt.Errorf("finnhub: %w: HTTP 401", provider.ErrAuth)
			p.statsMu.Lock()
			p.failures++
			p.statsMu.Unlock()
			p.MarkDown(err)
			return nil, err
		case status == http.StatusForbidden:
			// Plan restriction, not a broken service. No point retrying.
			err := fmt.Errorf("finnhub: HTTP 403: endpoint not in plan")
			p.recordFailure(err)
			return nil, err
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("finnhub: HTTP 429: rate limited")
			logger.Warn(ctx, "Finnhub rate limited, backing off", "attempt", attempt+1)
			continue
		default:
			lastErr = fmt.Errorf("finnhub: HTTP %d", status)
			p.recordFailure(lastErr)
			continue
		}
	}
	return nil, fmt.Errorf("finnhub: all %d attempts failed: %w", p.cfg.MaxRetries+1, lastErr)
}

func (p *Provider) doRequest(ctx context.Context, fullURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("finnhub: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("finnhub: reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (p *Provider) recordFailure(err error) {
	p.statsMu.Lock()
	p.failures++
	p.statsMu.Unlock()
	p.MarkDegraded(err)
}

func (p *Provider) cached(key string) ([]types.Bar, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[key]
	if !ok || time.Since(entry.fetched) > cacheTTL {
		return nil, false
	}
	return entry.bars, true
}

func (p *Provider) store(key string, bars []types.Bar) {
	p.mu.Lock()
	p.cache[key] = cacheEntry{bars: bars, fetched: time.Now()}
	p.mu.Unlock()
}

func toFinnhubSymbol(symbol string) string {
	return toExchangeSymbol(symbol)
}

// toExchangeSymbol qualifies the ticker for Borsa Istanbul. Finnhub uses
// the ".IS" suffix convention.
func toExchangeSymbol(symbol string) string {
	symbol = normalizeSymbol(symbol)
	if strings.HasSuffix(symbol, ".IS") {
		return symbol
	}
	return symbol + ".IS"
}

func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.TrimPrefix(symbol, "BIST:")
	return strings.TrimSuffix(symbol, ".IS")
}
