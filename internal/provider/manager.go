package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/types"
)

// Priorities are the static, per-category provider orderings. Candidates
// are tried strictly in list order, never in parallel.
type Priorities struct {
	Intraday     []string
	Daily        []string
	Fundamentals []string
}

// DataSource is the query surface the rest of the application consumes.
// Raw transport errors never escape this layer: every read either yields
// data or an empty result.
type DataSource interface {
	GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) []types.Bar
	GetOHLCVDaily(ctx context.Context, symbol string, limit int) []types.Bar
	GetDailyStats(ctx context.Context, symbol string) (types.DailyStats, bool)
	GetFundamentals(ctx context.Context, symbol string) (types.Fundamentals, bool)
	GetSnapshots(ctx context.Context, symbols []string) []types.Snapshot
	GetBidAskSpread(ctx context.Context, symbol string) (float64, bool)
	GetRealtimeStream(ctx context.Context, symbols []string, tf types.Timeframe) (<-chan types.Bar, error)
	GetHealthSummary() map[string]string
	Stats() types.FailoverStats
}

// Manager walks priority-ordered providers until one succeeds, tracking
// per-provider health and failover statistics. It is constructed once at
// startup and injected into consumers; there is no process-wide instance.
type Manager struct {
	providers map[string]DataProvider
	order     []string // registration order, for summaries
	stream    StreamProvider
	prio      Priorities

	mu     sync.RWMutex
	health map[string]Health

	statsMu  sync.Mutex
	stats    types.FailoverStats
	failures map[string]int64
}

var _ DataSource = (*Manager)(nil)

// NewManager registers the given providers in the supplied priority order.
// The stream provider may be nil when no realtime source is configured.
func NewManager(providers []DataProvider, stream StreamProvider, prio Priorities) *Manager {
	m := &Manager{
		providers: make(map[string]DataProvider, len(providers)),
		stream:    stream,
		prio:      prio,
		health:    make(map[string]Health, len(providers)),
		failures:  make(map[string]int64, len(providers)),
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
		m.order = append(m.order, p.Name())
		m.health[p.Name()] = HealthUnknown
	}
	return m
}

// Provider returns a registered provider by name, or nil.
func (m *Manager) Provider(name string) DataProvider {
	return m.providers[name]
}

// InitProviders probes every registered provider once and seeds the
// health map. Failures here only mark the provider, they never abort
// startup.
func (m *Manager) InitProviders(ctx context.Context) {
	for _, name := range m.order {
		h := m.providers[name].CheckHealth(ctx)
		m.setHealth(name, h)
		logger.Info(ctx, "Provider initialized", "provider", name, "health", h.String())
	}
}

// CloseProviders shuts down every provider. Safe to call more than once.
func (m *Manager) CloseProviders(ctx context.Context) {
	for _, name := range m.order {
		if err := m.providers[name].Close(); err != nil {
			logger.Warn(ctx, "Provider close failed", "provider", name, "error", err)
		}
	}
	if m.stream != nil {
		if err := m.stream.Close(); err != nil {
			logger.Warn(ctx, "Stream provider close failed", "error", err)
		}
	}
}

// UpdateHealth refreshes the cached health of one provider from its own
// tracker.
func (m *Manager) UpdateHealth(name string) Health {
	p, ok := m.providers[name]
	if !ok {
		return HealthUnknown
	}
	h := p.Health()
	m.setHealth(name, h)
	return h
}

// UpdateAllHealth refreshes the cached health of every provider.
func (m *Manager) UpdateAllHealth() {
	for _, name := range m.order {
		m.UpdateHealth(name)
	}
}

func (m *Manager) setHealth(name string, h Health) {
	m.mu.Lock()
	m.health[name] = h
	m.mu.Unlock()
}

func (m *Manager) healthOf(name string) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health[name]
}

// candidates filters the priority list down to registered providers that
// are not Down.
func (m *Manager) candidates(priority []string) []string {
	out := make([]string, 0, len(priority))
	for _, name := range priority {
		if _, ok := m.providers[name]; !ok {
			continue
		}
		if m.healthOf(name).Available() {
			out = append(out, name)
		}
	}
	return out
}

// GetOHLCV fetches bars with failover. Candidates are tried sequentially
// in priority order; the first non-empty success wins. Exhaustion yields
// an empty slice, never an error.
func (m *Manager) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) []types.Bar {
	m.statsMu.Lock()
	m.stats.TotalRequests++
	m.statsMu.Unlock()

	priority := m.prio.Daily
	if tf.IsIntraday() {
		priority = m.prio.Intraday
	}

	names := m.candidates(priority)
	if len(names) == 0 {
		logger.Error(ctx, "No available providers", "symbol", symbol, "timeframe", string(tf))
		return nil
	}

	var lastErr error
	for _, name := range names {
		p := m.providers[name]

		bars, err := p.GetOHLCV(ctx, symbol, tf, limit)
		if err == nil && len(bars) > 0 {
			m.statsMu.Lock()
			m.stats.SuccessfulRequests++
			m.statsMu.Unlock()
			// Any success resets the provider to Healthy so transient
			// failures self-heal on the next call.
			m.setHealth(name, HealthHealthy)
			return bars
		}

		switch {
		case errors.Is(err, ErrUnsupported):
			// Capability gap, not a fault: health stays untouched.
			logger.Debug(ctx, "Provider does not support operation",
				"provider", name, "symbol", symbol, "timeframe", string(tf))
			m.statsMu.Lock()
			m.stats.FailoverCount++
			m.statsMu.Unlock()

		case errors.Is(err, ErrAuth):
			logger.Error(ctx, "Provider authentication failed, disabling",
				"provider", name, "error", err)
			m.recordFailure(name)
			m.setHealth(name, HealthDown)
			lastErr = err

		case err != nil:
			logger.Warn(ctx, "Provider failed, trying next",
				"provider", name, "symbol", symbol, "error", err)
			m.recordFailure(name)
			m.setHealth(name, HealthDegraded)
			lastErr = err

		default:
			// nil error, zero bars
			logger.Warn(ctx, "Provider returned no data",
				"provider", name, "symbol", symbol, "timeframe", string(tf))
			m.statsMu.Lock()
			m.stats.FailoverCount++
			m.statsMu.Unlock()
		}
	}

	logger.Error(ctx, "All providers exhausted",
		"symbol", symbol, "timeframe", string(tf), "error", lastErr)
	return nil
}

func (m *Manager) recordFailure(name string) {
	m.statsMu.Lock()
	m.failures[name]++
	m.stats.FailoverCount++
	m.statsMu.Unlock()
}

// GetOHLCVIntraday fetches intraday bars with failover.
func (m *Manager) GetOHLCVIntraday(ctx context.Context, symbol string, tf types.Timeframe, limit int) []types.Bar {
	if !tf.IsIntraday() {
		tf = types.TF15m
	}
	return m.GetOHLCV(ctx, symbol, tf, limit)
}

// GetOHLCVDaily fetches daily bars with failover.
func (m *Manager) GetOHLCVDaily(ctx context.Context, symbol string, limit int) []types.Bar {
	return m.GetOHLCV(ctx, symbol, types.TF1D, limit)
}

// GetDailyStats reads native daily stats from the first capable candidate,
// falling back to a computation over the last two daily bars.
func (m *Manager) GetDailyStats(ctx context.Context, symbol string) (types.DailyStats, bool) {
	for _, name := range m.candidates(m.prio.Fundamentals) {
		ds, ok := m.providers[name].(DailyStatser)
		if !ok {
			continue
		}
		stats, err := ds.GetDailyStats(ctx, symbol)
		if err != nil {
			logger.Debug(ctx, "Daily stats read failed", "provider", name, "symbol", symbol, "error", err)
			continue
		}
		return stats, true
	}

	bars := m.GetOHLCVDaily(ctx, symbol, 5)
	if len(bars) < 2 {
		return types.DailyStats{}, false
	}
	today, yesterday := bars[len(bars)-1], bars[len(bars)-2]
	change := 0.0
	if yesterday.Close != 0 {
		change = (today.Close - yesterday.Close) / yesterday.Close * 100
	}
	return types.DailyStats{
		Symbol:             symbol,
		CurrentPrice:       today.Close,
		Open:               today.Open,
		High:               today.High,
		Low:                today.Low,
		Close:              today.Close,
		Volume:             today.Vol,
		DailyVolumeTL:      today.Vol * today.Close,
		DailyChangePercent: change,
		Ts:                 today.Ts,
	}, true
}

// GetFundamentals reads fundamentals from the first capable candidate.
func (m *Manager) GetFundamentals(ctx context.Context, symbol string) (types.Fundamentals, bool) {
	for _, name := range m.candidates(m.prio.Fundamentals) {
		f, ok := m.providers[name].(Fundamentaler)
		if !ok {
			continue
		}
		out, err := f.GetFundamentals(ctx, symbol)
		if err != nil {
			logger.Debug(ctx, "Fundamentals read failed", "provider", name, "symbol", symbol, "error", err)
			continue
		}
		return out, true
	}
	return types.Fundamentals{}, false
}

// GetSnapshots reads batched point-in-time data from the first available
// snapshot-capable provider. Empty on failure.
func (m *Manager) GetSnapshots(ctx context.Context, symbols []string) []types.Snapshot {
	for _, name := range m.candidates(m.prio.Intraday) {
		s, ok := m.providers[name].(Snapshotter)
		if !ok {
			continue
		}
		snaps, err := s.GetSnapshots(ctx, symbols)
		if err != nil {
			logger.Warn(ctx, "Snapshot read failed", "provider", name, "error", err)
			m.recordFailure(name)
			m.setHealth(name, HealthDegraded)
			continue
		}
		m.setHealth(name, HealthHealthy)
		return snaps
	}
	return nil
}

// GetBidAskSpread estimates the spread as the last daily bar's range over
// its close, in percent.
func (m *Manager) GetBidAskSpread(ctx context.Context, symbol string) (float64, bool) {
	bars := m.GetOHLCVDaily(ctx, symbol, 1)
	if len(bars) == 0 {
		return 0, false
	}
	last := bars[len(bars)-1]
	if last.Close == 0 {
		return 0, false
	}
	return (last.High - last.Low) / last.Close * 100, true
}

// GetRealtimeStream connects the streaming provider, subscribes the given
// symbols and returns the completed-bar channel. History and streaming are
// deliberately separate capabilities: this call never participates in the
// REST failover walk.
func (m *Manager) GetRealtimeStream(ctx context.Context, symbols []string, tf types.Timeframe) (<-chan types.Bar, error) {
	if m.stream == nil {
		return nil, errors.New("no streaming provider configured")
	}
	if err := m.stream.Connect(ctx); err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		if err := m.stream.Subscribe(ctx, symbol, tf); err != nil {
			return nil, err
		}
	}
	return m.stream.Bars(), nil
}

// GetHealthSummary reports every provider's current health by name.
func (m *Manager) GetHealthSummary() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.health))
	for name, h := range m.health {
		out[name] = h.String()
	}
	return out
}

// Stats returns a copy of the failover counters.
func (m *Manager) Stats() types.FailoverStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := m.stats
	out.ProviderFailures = make(map[string]int64, len(m.failures))
	for name, n := range m.failures {
		out.ProviderFailures[name] = n
	}
	return out
}

// WatchHealth periodically refreshes the cached health map until the
// context is cancelled. Run it as a background task from cmd.
func (m *Manager) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateAllHealth()
		}
	}
}
