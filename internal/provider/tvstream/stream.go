// Package tvstream maintains a realtime quote stream over the TradingView
// websocket protocol and aggregates ticks into completed OHLCV bars.
package tvstream

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bist-market-data/internal/logger"
	"bist-market-data/internal/provider"
	"bist-market-data/internal/types"
)

const (
	DefaultWSURL = "wss://data.tradingview.com/socket.io/websocket"

	// authToken is the anonymous access token; anonymous quotes are
	// delayed by the exchange's required interval.
	authToken = "unauthorized_user_token"

	originHeader = "https://www.tradingview.com"
)

// quoteFields is the field set requested for every quote session.
var quoteFields = []any{
	"lp", "ch", "chp", "volume", "update_mode",
	"open_price", "high_price", "low_price",
}

// Options configures the stream connection. Zero values take defaults.
type Options struct {
	URL                 string
	MessageTimeout      time.Duration // staleness before Degraded; 2x before Down
	HealthCheckInterval time.Duration
	BarBuffer           int
	MaxReconnects       int
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration

	// OnDisconnect fires once when reconnection is exhausted.
	OnDisconnect func(err error)
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultWSURL
	}
	if o.MessageTimeout == 0 {
		o.MessageTimeout = 30 * time.Second
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = 15 * time.Second
	}
	if o.BarBuffer == 0 {
		o.BarBuffer = 100
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 5
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 60 * time.Second
	}
	return o
}

type subscription struct {
	tf  types.Timeframe
	agg *BarAggregator
}

// Provider streams live quotes and emits completed bars. It satisfies the
// DataProvider contract for health and lifecycle but has no history:
// GetOHLCV always returns ErrUnsupported.
type Provider struct {
	provider.HealthTracker

	opts Options

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	session string
	subs    map[string]*subscription
	quotes  map[string]types.Quote
	closed  bool
	cancel  context.CancelFunc

	lastMsgMu sync.Mutex
	lastMsg   time.Time

	bars chan types.Bar

	disconnectOnce sync.Once
}

var (
	_ provider.DataProvider   = (*Provider)(nil)
	_ provider.StreamProvider = (*Provider)(nil)
)

func New(opts Options) *Provider {
	opts = opts.withDefaults()
	return &Provider{
		opts:   opts,
		subs:   make(map[string]*subscription),
		quotes: make(map[string]types.Quote),
		bars:   make(chan types.Bar, opts.BarBuffer),
	}
}

func (p *Provider) Name() string { return "tvstream" }

// GetOHLCV is intentionally unsupported: the stream carries no history.
func (p *Provider) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return nil, fmt.Errorf("tvstream has no historical data: %w", provider.ErrUnsupported)
}

// Connect dials the websocket, performs the session handshake and starts
// the receive and health-monitor loops.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("tvstream: provider closed")
	}
	if p.conn != nil {
		return nil
	}

	if err := p.dialLocked(ctx); err != nil {
		p.MarkDegraded(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	go p.readLoop(loopCtx)
	go p.monitorLoop(loopCtx)

	p.MarkHealthy()
	return nil
}

// dialLocked establishes the connection and replays the handshake. Caller
// holds p.mu.
func (p *Provider) dialLocked(ctx context.Context) error {
	header := http.Header{}
	header.Set("Origin", originHeader)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.opts.URL, header)
	if err != nil {
		return fmt.Errorf("tvstream: dial %s: %w", p.opts.URL, err)
	}

	p.setConn(conn)
	p.session = SessionID("qs")
	p.touch()

	// Handshake order matters: auth, session, fields.
	if err := p.send("set_auth_token", authToken); err != nil {
		conn.Close()
		p.setConn(nil)
		return err
	}
	if err := p.send("quote_create_session", p.session); err != nil {
		conn.Close()
		p.setConn(nil)
		return err
	}
	if err := p.send("quote_set_fields", append([]any{p.session}, quoteFields...)...); err != nil {
		conn.Close()
		p.setConn(nil)
		return err
	}

	logger.Info(ctx, "Stream connected", "url", p.opts.URL, "session", p.session)
	return nil
}

// Subscribe registers a symbol for streaming. Each symbol aggregates into
// bars of the given timeframe; re-subscribing replaces the aggregator.
func (p *Provider) Subscribe(ctx context.Context, symbol string, tf types.Timeframe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("tvstream: not connected")
	}

	full := "BIST:" + normalize(symbol)
	p.subs[normalize(symbol)] = &subscription{
		tf:  tf,
		agg: NewBarAggregator(normalize(symbol), tf),
	}

	if err := p.send("quote_add_symbols", p.session, full); err != nil {
		return err
	}
	if err := p.send("quote_fast_symbols", p.session, full); err != nil {
		return err
	}
	logger.Debug(ctx, "Subscribed to stream", "symbol", symbol, "timeframe", tf)
	return nil
}

// Unsubscribe stops streaming a symbol. Unknown symbols are a no-op.
func (p *Provider) Unsubscribe(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := normalize(symbol)
	if _, ok := p.subs[sym]; !ok {
		return nil
	}
	delete(p.subs, sym)
	if p.conn == nil {
		return nil
	}
	return p.send("quote_remove_symbols", p.session, "BIST:"+sym)
}

// Bars returns the completed-bar channel. When consumers fall behind the
// oldest buffered bar is dropped in favor of the newest.
func (p *Provider) Bars() <-chan types.Bar {
	return p.bars
}

// Subscribed lists the symbols currently registered for streaming.
func (p *Provider) Subscribed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.subs))
	for sym := range p.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// LatestQuote returns the most recent raw quote seen for a symbol.
func (p *Provider) LatestQuote(symbol string) (types.Quote, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[normalize(symbol)]
	return q, ok
}

// CheckHealth reports staleness-derived status; the stream has no cheap
// active probe beyond its own traffic.
func (p *Provider) CheckHealth(ctx context.Context) provider.Health {
	p.updateStaleness()
	return p.Health()
}

// Close tears down the connection and loops. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	conn := p.conn
	p.setConn(nil)
	close(p.bars)
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// send writes one framed protocol message. Serialized because the
// websocket allows a single concurrent writer.
func (p *Provider) send(method string, params ...any) error {
	frame, err := BuildMessage(method, params...)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn := p.conn
	if conn == nil {
		return fmt.Errorf("tvstream: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (p *Provider) readLoop(ctx context.Context) {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "Stream read failed, reconnecting", "error", err)
			if !p.reconnect(ctx) {
				return
			}
			continue
		}

		p.touch()
		p.handleMessage(ctx, string(raw))
	}
}

// handleMessage splits a raw websocket message into frames, echoes
// heartbeats and dispatches quote updates.
func (p *Provider) handleMessage(ctx context.Context, raw string) {
	for _, payload := range SplitFrames(raw) {
		if IsHeartbeat(payload) {
			p.echoHeartbeat(payload)
			continue
		}
		quote, ok := ParseQuote(payload, time.Now().Unix())
		if !ok {
			continue
		}
		p.dispatchQuote(ctx, quote)
	}
}

// echoHeartbeat replies with the exact heartbeat frame received.
func (p *Provider) echoHeartbeat(payload string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.conn == nil {
		return
	}
	p.conn.WriteMessage(websocket.TextMessage, []byte(EncodeFrame(payload)))
}

func (p *Provider) dispatchQuote(ctx context.Context, quote types.Quote) {
	p.mu.Lock()
	p.quotes[quote.Symbol] = quote
	sub, ok := p.subs[quote.Symbol]
	p.mu.Unlock()
	if !ok {
		return
	}

	bar, done := sub.agg.ProcessTick(quote.LastPrice, quote.Volume, quote.Ts)
	if !done {
		return
	}
	p.emit(ctx, bar)
}

// emit pushes a completed bar, dropping the oldest buffered bar if the
// consumer is behind. Holding mu orders emit against Close so nothing is
// sent on the closed channel.
func (p *Provider) emit(ctx context.Context, bar types.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.bars <- bar:
		return
	default:
	}
	select {
	case old := <-p.bars:
		logger.Warn(ctx, "Bar buffer full, dropping oldest", "dropped_symbol", old.Symbol, "dropped_ts", old.Ts)
	default:
	}
	select {
	case p.bars <- bar:
	default:
	}
}

// monitorLoop degrades health when no message has arrived within the
// timeout and marks Down at twice the timeout.
func (p *Provider) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.updateStaleness()
		}
	}
}

func (p *Provider) updateStaleness() {
	p.mu.Lock()
	connected := p.conn != nil
	p.mu.Unlock()
	if !connected {
		return
	}

	p.lastMsgMu.Lock()
	age := time.Since(p.lastMsg)
	p.lastMsgMu.Unlock()

	switch {
	case age > 2*p.opts.MessageTimeout:
		p.MarkDown(fmt.Errorf("tvstream: no message for %s", age.Round(time.Second)))
	case age > p.opts.MessageTimeout:
		p.MarkDegraded(fmt.Errorf("tvstream: no message for %s", age.Round(time.Second)))
	default:
		p.MarkHealthy()
	}
}

// reconnect re-dials with exponential backoff and jitter, then replays all
// subscriptions. Returns false when attempts are exhausted or the provider
// is closed; exhaustion fires the disconnect callback once.
func (p *Provider) reconnect(ctx context.Context) bool {
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.setConn(nil)
	}
	p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < p.opts.MaxReconnects; attempt++ {
		delay := p.backoff(attempt)
		logger.Info(ctx, "Reconnecting stream", "attempt", attempt+1, "max", p.opts.MaxReconnects, "delay", delay)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return false
		}
		err := p.dialLocked(ctx)
		p.mu.Unlock()
		if err != nil {
			lastErr = err
			logger.Warn(ctx, "Reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		if err := p.resubscribe(ctx); err != nil {
			lastErr = err
			continue
		}
		p.MarkHealthy()
		logger.Info(ctx, "Stream reconnected", "attempt", attempt+1)
		return true
	}

	p.MarkDown(lastErr)
	logger.Error(ctx, "Stream reconnection exhausted", "attempts", p.opts.MaxReconnects, "error", lastErr)
	if p.opts.OnDisconnect != nil {
		p.disconnectOnce.Do(func() { p.opts.OnDisconnect(lastErr) })
	}
	return false
}

func (p *Provider) resubscribe(ctx context.Context) error {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.subs))
	for sym := range p.subs {
		symbols = append(symbols, sym)
	}
	session := p.session
	p.mu.Unlock()

	for _, sym := range symbols {
		full := "BIST:" + sym
		if err := p.send("quote_add_symbols", session, full); err != nil {
			return err
		}
		if err := p.send("quote_fast_symbols", session, full); err != nil {
			return err
		}
	}
	if len(symbols) > 0 {
		logger.Info(ctx, "Resubscribed after reconnect", "symbols", len(symbols))
	}
	return nil
}

// backoff returns base*2^attempt plus up to 10% jitter, capped.
func (p *Provider) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.opts.ReconnectBaseDelay) * math.Pow(2, float64(attempt)))
	if d > p.opts.ReconnectMaxDelay {
		d = p.opts.ReconnectMaxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	d += jitter
	if d > p.opts.ReconnectMaxDelay {
		d = p.opts.ReconnectMaxDelay
	}
	return d
}

// setConn swaps the connection. Callers hold p.mu; taking writeMu as well
// keeps send and echoHeartbeat, which only hold writeMu, race free.
func (p *Provider) setConn(conn *websocket.Conn) {
	p.writeMu.Lock()
	p.conn = conn
	p.writeMu.Unlock()
}

// normalize strips the exchange prefix and uppercases the ticker.
func normalize(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimPrefix(symbol, "BIST:")
}

func (p *Provider) touch() {
	p.lastMsgMu.Lock()
	p.lastMsg = time.Now()
	p.lastMsgMu.Unlock()
}
