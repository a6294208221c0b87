package types

import "time"

// Timeframe is a bar width supported by all providers.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1D  Timeframe = "1D"
)

// Duration returns the bar width. Unknown timeframes fall back to one minute.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF1D:
		return 24 * time.Hour
	}
	return time.Minute
}

func (tf Timeframe) IsIntraday() bool {
	return tf != TF1D
}

// Bar is one OHLCV record for a fixed time bucket.
// Within any returned series timestamps are strictly increasing and unique.
type Bar struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
	Symbol                      string
}

// Snapshot is a single anchorless point-in-time read, not a bar.
type Snapshot struct {
	Symbol        string
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	Change        float64
	ChangePercent float64
	UpdateMode    string
	Description   string
	Exchange      string
	Sector        string
	MarketCap     float64
	PERatio       float64
	PBRatio       float64
	Ts            int64
}

// Quote is one raw price update from a streaming source. Quotes are never
// handed to callers directly; they only feed bar aggregation.
type Quote struct {
	Symbol        string
	LastPrice     float64
	Change        float64
	ChangePercent float64
	Volume        float64
	UpdateMode    string
	Open          float64
	High          float64
	Low           float64
	Ts            int64
}

type DailyStats struct {
	Symbol             string
	CurrentPrice       float64
	Open               float64
	High               float64
	Low                float64
	Close              float64
	Volume             float64
	DailyVolumeTL      float64
	DailyChangePercent float64
	Ts                 int64
}

type Fundamentals struct {
	Symbol      string
	Sector      string
	MarketCap   float64
	PERatio     float64
	PBRatio     float64
	Description string
}

// FailoverStats are append-only counters, reset only at process restart.
type FailoverStats struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailoverCount      int64            `json:"failover_count"`
	ProviderFailures   map[string]int64 `json:"provider_failures"`
}
