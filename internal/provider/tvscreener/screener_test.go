package tvscreener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bist-market-data/internal/provider"
	"bist-market-data/internal/types"
)

func screenerRow(symbol string, close, open, high, low, volume float64) map[string]any {
	return map[string]any{
		"s": "BIST:" + symbol,
		"d": []any{
			symbol, close, open, high, low, volume,
			1.5, 0.6, "delayed_streaming_900",
			symbol + " A.S.", "BIST", "Transportation",
			1.2e10, 8.5, 1.9,
		},
	}
}

func newScreenerServer(t *testing.T, rows ...map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode scan request: %v", err)
		}
		if len(req.Markets) != 1 || req.Markets[0] != "turkey" {
			t.Errorf("Expected turkey market, got %v", req.Markets)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": rows})
	}))
}

func newTestProvider(url string) *Provider {
	return New(provider.Config{
		Name:    "tvscreener",
		BaseURL: url,
		Timeout: 2 * time.Second,
	}, 3)
}

func TestGetSnapshots(t *testing.T) {
	srv := newScreenerServer(t,
		screenerRow("THYAO", 245.5, 242.0, 246.1, 241.8, 1500000),
		screenerRow("GARAN", 98.1, 97.0, 99.0, 96.5, 2000000),
	)
	defer srv.Close()

	p := newTestProvider(srv.URL)
	snaps, err := p.GetSnapshots(context.Background(), []string{"THYAO", "GARAN"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}

	s := snaps[0]
	if s.Symbol != "THYAO" {
		t.Errorf("Expected symbol THYAO without prefix, got %s", s.Symbol)
	}
	if s.Close != 245.5 {
		t.Errorf("Expected close 245.5, got %f", s.Close)
	}
	if s.High != 246.1 {
		t.Errorf("Expected high 246.1, got %f", s.High)
	}
	if s.UpdateMode != "delayed_streaming_900" {
		t.Errorf("Expected delayed update mode, got %s", s.UpdateMode)
	}
	if s.Sector != "Transportation" {
		t.Errorf("Expected sector, got %s", s.Sector)
	}

	if p.Health() != provider.HealthHealthy {
		t.Errorf("Expected healthy after success, got %s", p.Health())
	}
}

func TestGetSnapshotsSkipsPartialRows(t *testing.T) {
	srv := newScreenerServer(t,
		screenerRow("THYAO", 245.5, 242.0, 246.1, 241.8, 1500000),
		map[string]any{"s": "", "d": []any{}},
	)
	defer srv.Close()

	p := newTestProvider(srv.URL)
	snaps, err := p.GetSnapshots(context.Background(), []string{"THYAO", "BROKEN"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("Expected partial row skipped, got %d snapshots", len(snaps))
	}
}

func TestGetOHLCVSingleBar(t *testing.T) {
	srv := newScreenerServer(t, screenerRow("THYAO", 245.5, 242.0, 246.1, 241.8, 1500000))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	bars, err := p.GetOHLCV(context.Background(), "THYAO", types.TF15m, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("Expected single snapshot bar, got %d", len(bars))
	}
	if bars[0].Open != 242.0 || bars[0].Close != 245.5 {
		t.Errorf("Unexpected bar %+v", bars[0])
	}
}

func TestGetFundamentals(t *testing.T) {
	srv := newScreenerServer(t, screenerRow("THYAO", 245.5, 242.0, 246.1, 241.8, 1500000))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	f, err := p.GetFundamentals(context.Background(), "THYAO")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.MarketCap != 1.2e10 {
		t.Errorf("Expected market cap 1.2e10, got %f", f.MarketCap)
	}
	if f.PERatio != 8.5 {
		t.Errorf("Expected P/E 8.5, got %f", f.PERatio)
	}
}

func TestConsecutiveFailuresEscalate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream error", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL) // down after 3

	ctx := context.Background()
	p.GetSnapshots(ctx, []string{"THYAO"})
	if p.Health() != provider.HealthDegraded {
		t.Errorf("Expected degraded after first failure, got %s", p.Health())
	}

	p.GetSnapshots(ctx, []string{"THYAO"})
	p.GetSnapshots(ctx, []string{"THYAO"})
	if p.Health() != provider.HealthDown {
		t.Errorf("Expected down after 3 consecutive failures, got %s", p.Health())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			screenerRow("THYAO", 245.5, 242.0, 246.1, 241.8, 1500000),
		}})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ctx := context.Background()

	p.GetSnapshots(ctx, []string{"THYAO"})
	p.GetSnapshots(ctx, []string{"THYAO"})

	fail = false
	if _, err := p.GetSnapshots(ctx, []string{"THYAO"}); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if p.Health() != provider.HealthHealthy {
		t.Errorf("Expected healthy after recovery, got %s", p.Health())
	}
}

func TestToScreenerSymbol(t *testing.T) {
	if got := toScreenerSymbol("thyao"); got != "BIST:THYAO" {
		t.Errorf("Expected BIST:THYAO, got %s", got)
	}
	if got := toScreenerSymbol("BIST:GARAN"); got != "BIST:GARAN" {
		t.Errorf("Expected prefix preserved, got %s", got)
	}
}
