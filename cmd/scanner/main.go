package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/store"
	"bist-market-data/internal/trace"
	"bist-market-data/internal/types"
)

func main() {
	if err := initializeSystem(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	source, manager := initializeDataSource(ctx, cfg)
	defer manager.CloseProviders(ctx)
	defer trace.Shutdown(context.Background())

	go manager.WatchHealth(ctx, 30*time.Second)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var barStream <-chan types.Bar
	if cfg.Scan.Stream {
		barStream, err = source.GetRealtimeStream(ctx, cfg.Scan.Symbols, types.Timeframe(cfg.Scan.Timeframe))
		if err != nil {
			logger.Warn(ctx, "Streaming unavailable, polling only", "error", err)
		}
	}

	tick := time.NewTicker(time.Duration(cfg.Scan.PollSeconds) * time.Second)
	defer tick.Stop()

	logger.Info(ctx, "Scanner started",
		"symbols", len(cfg.Scan.Symbols),
		"timeframe", cfg.Scan.Timeframe,
		"poll_seconds", cfg.Scan.PollSeconds,
		"streaming", barStream != nil,
	)

	scan(ctx, cfg, source)
	for {
		select {
		case <-tick.C:
			scan(ctx, cfg, source)

		case bar, ok := <-barStream:
			if !ok {
				barStream = nil
				continue
			}
			printJSON(map[string]any{
				"type":   "bar",
				"symbol": bar.Symbol,
				"ts":     bar.Ts,
				"open":   bar.Open,
				"high":   bar.High,
				"low":    bar.Low,
				"close":  bar.Close,
				"volume": bar.Vol,
			})

		case <-sigc:
			logger.Info(ctx, "Shutting down")
			printJSON(map[string]any{"type": "health", "providers": source.GetHealthSummary()})
			printJSON(map[string]any{"type": "stats", "failover": source.Stats()})
			return

		case <-ctx.Done():
			return
		}
	}
}

// scan runs one polling pass: batched snapshots plus per-symbol daily
// context for anything the snapshot read missed.
func scan(ctx context.Context, cfg *store.Config, source provider.DataSource) {
	snaps := source.GetSnapshots(ctx, cfg.Scan.Symbols)
	seen := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		seen[s.Symbol] = true
		printJSON(map[string]any{
			"type":        "snapshot",
			"symbol":      s.Symbol,
			"close":       s.Close,
			"change_pct":  s.ChangePercent,
			"volume":      s.Volume,
			"update_mode": s.UpdateMode,
		})
	}

	// Snapshot miss: fall back to the candle path for the gap.
	tf := types.Timeframe(cfg.Scan.Timeframe)
	for _, symbol := range cfg.Scan.Symbols {
		if seen[symbol] {
			continue
		}
		bars := source.GetOHLCV(ctx, symbol, tf, 1)
		if len(bars) == 0 {
			logger.Warn(ctx, "No data for symbol this pass", "symbol", symbol)
			continue
		}
		last := bars[len(bars)-1]
		printJSON(map[string]any{
			"type":   "bar",
			"symbol": symbol,
			"ts":     last.Ts,
			"close":  last.Close,
			"volume": last.Vol,
		})
	}
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Println(string(b))
}
