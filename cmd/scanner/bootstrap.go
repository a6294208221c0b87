package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/provider/finnhub"
	"bist-market-data/internal/provider/providerobs"
	"bist-market-data/internal/provider/tvscreener"
	"bist-market-data/internal/provider/tvstream"
	"bist-market-data/internal/store"
	"bist-market-data/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("SCANNER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// providerConfig maps one provider's yaml block onto construction settings.
func providerConfig(name string, cfg *store.Config) provider.Config {
	pc := cfg.Providers[name]
	return provider.Config{
		Name:       name,
		Enabled:    pc.Enabled,
		APIKey:     pc.APIKey(),
		BaseURL:    pc.BaseURL,
		WSURL:      pc.WSURL,
		Timeout:    time.Duration(pc.TimeoutSeconds) * time.Second,
		MaxRetries: pc.MaxRetries,
		RetryDelay: time.Duration(pc.RetryDelaySeconds * float64(time.Second)),
	}
}

// initializeDataSource constructs all enabled providers, the failover
// manager and the observability wrapper. The returned manager owns
// provider lifecycle; the DataSource is the query surface.
func initializeDataSource(ctx context.Context, cfg *store.Config) (provider.DataSource, *provider.Manager) {
	var providers []provider.DataProvider

	if pc, ok := cfg.Providers["tvscreener"]; ok && pc.Enabled {
		providers = append(providers, tvscreener.New(providerConfig("tvscreener", cfg), cfg.DownAfterConsecutive))
	}

	if pc, ok := cfg.Providers["finnhub"]; ok && pc.Enabled {
		limiter := provider.NewRateLimiter(
			cfg.RateLimit.MaxCalls,
			time.Duration(cfg.RateLimit.PeriodSeconds)*time.Second,
		)
		providers = append(providers, finnhub.New(providerConfig("finnhub", cfg), limiter))
	}

	var stream provider.StreamProvider
	if pc, ok := cfg.Providers["tvstream"]; ok && pc.Enabled {
		s := tvstream.New(tvstream.Options{
			URL:                 pc.WSURL,
			MessageTimeout:      time.Duration(cfg.Streaming.MessageTimeoutSeconds) * time.Second,
			HealthCheckInterval: time.Duration(cfg.Streaming.HealthCheckSeconds) * time.Second,
			BarBuffer:           cfg.Streaming.BarBuffer,
			MaxReconnects:       cfg.Streaming.Reconnect.MaxAttempts,
			ReconnectBaseDelay:  time.Duration(cfg.Streaming.Reconnect.BaseDelaySeconds * float64(time.Second)),
			ReconnectMaxDelay:   time.Duration(cfg.Streaming.Reconnect.MaxDelaySeconds * float64(time.Second)),
			OnDisconnect: func(err error) {
				logger.Error(ctx, "Realtime stream lost permanently", "error", err)
			},
		})
		stream = s
		providers = append(providers, s)
	}

	manager := provider.NewManager(providers, stream, provider.Priorities{
		Intraday:     cfg.Priority.Intraday,
		Daily:        cfg.Priority.Daily,
		Fundamentals: cfg.Priority.Fundamentals,
	})
	manager.InitProviders(ctx)

	return providerobs.Wrap(manager), manager
}
