package usage

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestWindowFromQuotaNormalization(t *testing.T) {
	tests := []struct {
		name string
		json string
		want float64
	}{
		{name: "numeric remaining fraction", json: `{"remainingFraction":0.25}`, want: 75},
		{name: "string remaining fraction", json: `{"remainingFraction":"0.25"}`, want: 75},
		{name: "full quota remaining", json: `{"remainingFraction":1}`, want: 0},
		{name: "nothing remaining", json: `{"remainingFraction":0}`, want: 100},
		{name: "exhausted flag wins over fraction", json: `{"remainingFraction":0.9,"isExhausted":true}`, want: 100},
		{name: "exhausted flag alone", json: `{"isExhausted":true}`, want: 100},
		{name: "used percent passthrough", json: `{"usedPercent":42.5}`, want: 42.5},
		{name: "string used percent", json: `{"usedPercent":"42.5"}`, want: 42.5},
		{name: "sub-percent usage is not a fraction", json: `{"usedPercent":0.5}`, want: 0.5},
		{name: "absent fields default to zero", json: `{}`, want: 0},
		{name: "garbage string ignored", json: `{"remainingFraction":"lots"}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := windowFromQuota("w", gjson.Parse(tt.json))
			if window.UsedPercent != tt.want {
				t.Fatalf("UsedPercent: got %v want %v", window.UsedPercent, tt.want)
			}
		})
	}
}

func TestNormalizeUsedPercentScales(t *testing.T) {
	// Already-percent values stay on their scale even below 1.
	if got, ok := normalizeUsedPercent(gjson.Parse(`0.5`), false); !ok || got != 0.5 {
		t.Fatalf("percent 0.5: got %v (ok=%v), want 0.5", got, ok)
	}
	if got, ok := normalizeUsedPercent(gjson.Parse(`12.5`), false); !ok || got != 12.5 {
		t.Fatalf("percent 12.5: got %v (ok=%v), want 12.5", got, ok)
	}
	// Remaining shares are fractions by definition and get complemented.
	if got, ok := normalizeUsedPercent(gjson.Parse(`0.25`), true); !ok || got != 75 {
		t.Fatalf("remaining 0.25: got %v (ok=%v), want 75", got, ok)
	}
}

func TestWindowFromQuotaResetTime(t *testing.T) {
	reset := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	window := windowFromQuota("w", gjson.Parse(`{"remainingFraction":0.5,"resetTime":"2026-09-01T00:00:00Z"}`))
	if window.ResetAtMillis != reset.UnixMilli() {
		t.Fatalf("ResetAtMillis: got %d want %d", window.ResetAtMillis, reset.UnixMilli())
	}

	window = windowFromQuota("w", gjson.Parse(`{"resetTime":"not a timestamp"}`))
	if window.ResetAtMillis != 0 {
		t.Fatalf("unparseable reset time should yield 0, got %d", window.ResetAtMillis)
	}
}

func TestParseQuotaResetDelay(t *testing.T) {
	body := `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[` +
		`{"@type":"type.googleapis.com/google.rpc.ErrorInfo","metadata":{"quotaResetDelay":"4h30m28s"}}]}}`
	want := 4*time.Hour + 30*time.Minute + 28*time.Second
	if got := parseQuotaResetDelay([]byte(body)); got != want {
		t.Fatalf("delay: got %v want %v", got, want)
	}

	if got := parseQuotaResetDelay([]byte(`{"error":{"details":[{"retryDelay":"3.5s"}]}}`)); got != 3500*time.Millisecond {
		t.Fatalf("retryDelay fallback: got %v", got)
	}

	if got := parseQuotaResetDelay([]byte(`{"error":{"message":"slow down"}}`)); got != 0 {
		t.Fatalf("expected 0 without structured delay, got %v", got)
	}
	if got := parseQuotaResetDelay([]byte(`not json`)); got != 0 {
		t.Fatalf("expected 0 for invalid JSON, got %v", got)
	}
}
