package tvstream

import (
	"strings"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	frame := EncodeFrame("hello")
	if frame != "~m~5~m~hello" {
		t.Errorf("Expected ~m~5~m~hello, got %s", frame)
	}

	frame = EncodeFrame("")
	if frame != "~m~0~m~" {
		t.Errorf("Expected empty frame ~m~0~m~, got %s", frame)
	}
}

func TestSplitFramesSingle(t *testing.T) {
	payloads := SplitFrames("~m~5~m~hello")
	if len(payloads) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(payloads))
	}
	if payloads[0] != "hello" {
		t.Errorf("Expected payload hello, got %s", payloads[0])
	}
}

func TestSplitFramesMultiple(t *testing.T) {
	raw := EncodeFrame(`{"m":"qsd","p":[]}`) + EncodeFrame("~h~12") + EncodeFrame("x")
	payloads := SplitFrames(raw)
	if len(payloads) != 3 {
		t.Fatalf("Expected 3 payloads, got %d", len(payloads))
	}
	if payloads[1] != "~h~12" {
		t.Errorf("Expected heartbeat payload, got %s", payloads[1])
	}
	if payloads[2] != "x" {
		t.Errorf("Expected x, got %s", payloads[2])
	}
}

func TestSplitFramesTruncated(t *testing.T) {
	// Declared length exceeds remaining bytes: keep preceding frames,
	// drop the damaged tail.
	raw := EncodeFrame("good") + "~m~50~m~short"
	payloads := SplitFrames(raw)
	if len(payloads) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(payloads))
	}
	if payloads[0] != "good" {
		t.Errorf("Expected good, got %s", payloads[0])
	}
}

func TestSplitFramesGarbage(t *testing.T) {
	if got := SplitFrames("no frames here"); len(got) != 0 {
		t.Errorf("Expected no payloads from garbage, got %v", got)
	}
	if got := SplitFrames(""); len(got) != 0 {
		t.Errorf("Expected no payloads from empty input, got %v", got)
	}
}

func TestIsHeartbeat(t *testing.T) {
	if !IsHeartbeat("~h~42") {
		t.Error("Expected ~h~42 to be a heartbeat")
	}
	if IsHeartbeat(`{"m":"qsd"}`) {
		t.Error("Expected quote payload to not be a heartbeat")
	}
}

func TestBuildMessage(t *testing.T) {
	frame, err := BuildMessage("set_auth_token", "unauthorized_user_token")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := `{"m":"set_auth_token","p":["unauthorized_user_token"]}`
	if frame != EncodeFrame(want) {
		t.Errorf("Expected %s, got %s", EncodeFrame(want), frame)
	}
}

func TestBuildMessageNoParams(t *testing.T) {
	frame, err := BuildMessage("ping")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(frame, `"p":[]`) {
		t.Errorf("Expected empty params array, got %s", frame)
	}
}

func TestParseQuote(t *testing.T) {
	payload := `{"m":"qsd","p":["qs_abc",{"n":"BIST:THYAO","v":{"lp":245.5,"ch":3.2,"chp":1.32,"volume":1500000,"update_mode":"delayed_streaming_900","open_price":242.0,"high_price":246.1,"low_price":241.8}}]}`

	quote, ok := ParseQuote(payload, 1700000000)
	if !ok {
		t.Fatal("Expected quote to parse")
	}
	if quote.Symbol != "THYAO" {
		t.Errorf("Expected symbol THYAO, got %s", quote.Symbol)
	}
	if quote.LastPrice != 245.5 {
		t.Errorf("Expected last price 245.5, got %f", quote.LastPrice)
	}
	if quote.Volume != 1500000 {
		t.Errorf("Expected volume 1500000, got %f", quote.Volume)
	}
	if quote.High != 246.1 {
		t.Errorf("Expected high 246.1, got %f", quote.High)
	}
	if quote.UpdateMode != "delayed_streaming_900" {
		t.Errorf("Expected delayed update mode, got %s", quote.UpdateMode)
	}
	if quote.Ts != 1700000000 {
		t.Errorf("Expected ts 1700000000, got %d", quote.Ts)
	}
}

func TestParseQuotePartialFields(t *testing.T) {
	// Updates often carry only the changed fields.
	payload := `{"m":"qsd","p":["qs_abc",{"n":"BIST:GARAN","v":{"lp":98.1}}]}`
	quote, ok := ParseQuote(payload, 1)
	if !ok {
		t.Fatal("Expected partial quote to parse")
	}
	if quote.Symbol != "GARAN" || quote.LastPrice != 98.1 {
		t.Errorf("Unexpected quote %+v", quote)
	}
	if quote.Volume != 0 {
		t.Errorf("Expected zero volume, got %f", quote.Volume)
	}
}

func TestParseQuoteIgnored(t *testing.T) {
	cases := []string{
		`{"m":"quote_completed","p":["qs_abc","BIST:THYAO"]}`, // not qsd
		`{"m":"qsd","p":["qs_abc",{"n":"BIST:THYAO","v":{}}]}`, // no last price
		`{"m":"qsd","p":["qs_abc"]}`,                           // missing payload
		`not json at all`,
	}
	for _, payload := range cases {
		if _, ok := ParseQuote(payload, 1); ok {
			t.Errorf("Expected payload to be ignored: %s", payload)
		}
	}
}

func TestSessionID(t *testing.T) {
	id := SessionID("qs")
	if !strings.HasPrefix(id, "qs_") {
		t.Errorf("Expected qs_ prefix, got %s", id)
	}
	if len(id) != len("qs_")+12 {
		t.Errorf("Expected 12 random letters, got %s", id)
	}
	for _, r := range id[3:] {
		if r < 'a' || r > 'z' {
			t.Errorf("Expected lowercase letters only, got %s", id)
		}
	}
	if SessionID("qs") == SessionID("qs") && SessionID("qs") == SessionID("qs") {
		t.Error("Expected session IDs to differ")
	}
}
