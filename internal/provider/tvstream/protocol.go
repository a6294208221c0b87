package tvstream

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"bist-market-data/internal/types"
)

// The wire format frames every payload as ~m~<len>~m~<payload> where len is
// the payload byte length in decimal. A single websocket message may carry
// several frames back to back. Heartbeats are frames whose payload contains
// ~h~ and must be echoed back verbatim.

const frameMarker = "~m~"

// EncodeFrame wraps a payload in the length-prefixed frame format.
func EncodeFrame(payload string) string {
	return fmt.Sprintf("%s%d%s%s", frameMarker, len(payload), frameMarker, payload)
}

// SplitFrames extracts all complete payloads from a raw message. Truncated
// trailing frames and garbage between frames are dropped silently; a
// malformed stream yields whatever complete frames precede the damage.
func SplitFrames(raw string) []string {
	var payloads []string
	for len(raw) > 0 {
		idx := strings.Index(raw, frameMarker)
		if idx < 0 {
			break
		}
		raw = raw[idx+len(frameMarker):]

		end := strings.Index(raw, frameMarker)
		if end < 0 {
			break
		}
		n, err := strconv.Atoi(raw[:end])
		if err != nil || n < 0 {
			continue
		}
		raw = raw[end+len(frameMarker):]
		if len(raw) < n {
			break
		}
		payloads = append(payloads, raw[:n])
		raw = raw[n:]
	}
	return payloads
}

// IsHeartbeat reports whether a payload is a server keepalive.
func IsHeartbeat(payload string) bool {
	return strings.Contains(payload, "~h~")
}

// BuildMessage encodes a protocol function call as a framed compact-JSON
// message of the form {"m":<name>,"p":[params]}.
func BuildMessage(method string, params ...any) (string, error) {
	if params == nil {
		params = []any{}
	}
	msg := struct {
		M string `json:"m"`
		P []any  `json:"p"`
	}{M: method, P: params}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding %s message: %w", method, err)
	}
	return EncodeFrame(string(b)), nil
}

// ParseQuote decodes one payload into a Quote if it is a quote update
// (m == "qsd") carrying a last price. Any other payload, including ones
// that fail to parse, returns ok=false.
func ParseQuote(payload string, now int64) (types.Quote, bool) {
	var envelope struct {
		M string            `json:"m"`
		P []json.RawMessage `json:"p"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return types.Quote{}, false
	}
	if envelope.M != "qsd" || len(envelope.P) < 2 {
		return types.Quote{}, false
	}

	var update struct {
		N string `json:"n"`
		V struct {
			LP         *float64 `json:"lp"`
			CH         *float64 `json:"ch"`
			CHP        *float64 `json:"chp"`
			Volume     *float64 `json:"volume"`
			UpdateMode *string  `json:"update_mode"`
			OpenPrice  *float64 `json:"open_price"`
			HighPrice  *float64 `json:"high_price"`
			LowPrice   *float64 `json:"low_price"`
		} `json:"v"`
	}
	if err := json.Unmarshal(envelope.P[1], &update); err != nil {
		return types.Quote{}, false
	}
	if update.N == "" || update.V.LP == nil {
		return types.Quote{}, false
	}

	q := types.Quote{
		Symbol:    strings.TrimPrefix(update.N, "BIST:"),
		LastPrice: *update.V.LP,
		Ts:        now,
	}
	if update.V.CH != nil {
		q.Change = *update.V.CH
	}
	if update.V.CHP != nil {
		q.ChangePercent = *update.V.CHP
	}
	if update.V.Volume != nil {
		q.Volume = *update.V.Volume
	}
	if update.V.UpdateMode != nil {
		q.UpdateMode = *update.V.UpdateMode
	}
	if update.V.OpenPrice != nil {
		q.Open = *update.V.OpenPrice
	}
	if update.V.HighPrice != nil {
		q.High = *update.V.HighPrice
	}
	if update.V.LowPrice != nil {
		q.Low = *update.V.LowPrice
	}
	return q, true
}

const sessionAlphabet = "abcdefghijklmnopqrstuvwxyz"

// SessionID generates a session identifier of the form <prefix>_ followed
// by 12 random lowercase letters, e.g. qs_mkcbjqzxfwda.
func SessionID(prefix string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('_')
	for i := 0; i < 12; i++ {
		sb.WriteByte(sessionAlphabet[rand.Intn(len(sessionAlphabet))])
	}
	return sb.String()
}
