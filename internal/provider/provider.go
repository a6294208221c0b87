package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"bist-market-data/internal/types"
)

// ErrUnsupported signals that a provider intentionally lacks a capability
// (for example the streaming source asked for history). It never penalizes
// health and triggers immediate failover to the next candidate.
var ErrUnsupported = errors.New("operation not supported by provider")

// ErrAuth signals a permanent authorization failure (invalid API key).
// The manager marks the provider Down and stops routing to it.
var ErrAuth = errors.New("authentication rejected by provider")

// Health classifies a provider's current serviceability.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthDown:
		return "down"
	}
	return "unknown"
}

// Available reports whether the provider may still be routed to.
// Down providers are skipped without being contacted.
func (h Health) Available() bool {
	return h != HealthDown
}

// Config holds per-provider construction settings. Immutable after
// construction; defaults are resolved once, never probed at runtime.
type Config struct {
	Name       string
	Enabled    bool
	APIKey     string
	BaseURL    string
	WSURL      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// WithDefaults fills zero-valued fields with sane defaults.
func (c Config) WithDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// DataProvider is the capability set every market-data source implements.
// Sources that cannot serve an operation return ErrUnsupported, never a
// generic error.
type DataProvider interface {
	Name() string

	// GetOHLCV fetches up to limit bars for the symbol and timeframe,
	// sorted by strictly increasing timestamp.
	GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error)

	// Health returns the cached health status without touching the network.
	Health() Health

	// CheckHealth actively probes the source and updates the cached status.
	CheckHealth(ctx context.Context) Health

	Close() error
}

// StreamProvider is the optional realtime capability. Completed bars are
// pushed to the Bars channel; the in-progress bar is never exposed.
type StreamProvider interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbol string, tf types.Timeframe) error
	Unsubscribe(symbol string) error
	Bars() <-chan types.Bar
	Close() error
}

// Snapshotter is implemented by sources that can serve batched
// point-in-time reads (the screener provider).
type Snapshotter interface {
	GetSnapshots(ctx context.Context, symbols []string) ([]types.Snapshot, error)
}

// DailyStatser is implemented by sources with a native daily-stats read.
type DailyStatser interface {
	GetDailyStats(ctx context.Context, symbol string) (types.DailyStats, error)
}

// Fundamentaler is implemented by sources that carry fundamental data.
type Fundamentaler interface {
	GetFundamentals(ctx context.Context, symbol string) (types.Fundamentals, error)
}

// HealthTracker is the shared health cell embedded by concrete providers.
// It is mutated from request paths and background loops concurrently.
type HealthTracker struct {
	mu      sync.Mutex
	health  Health
	lastErr error
}

func (t *HealthTracker) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health
}

func (t *HealthTracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *HealthTracker) SetHealth(h Health) {
	t.mu.Lock()
	t.health = h
	t.mu.Unlock()
}

func (t *HealthTracker) MarkHealthy() { t.SetHealth(HealthHealthy) }

func (t *HealthTracker) MarkDegraded(err error) {
	t.mu.Lock()
	t.health = HealthDegraded
	if err != nil {
		t.lastErr = err
	}
	t.mu.Unlock()
}

func (t *HealthTracker) MarkDown(err error) {
	t.mu.Lock()
	t.health = HealthDown
	if err != nil {
		t.lastErr = err
	}
	t.mu.Unlock()
}
