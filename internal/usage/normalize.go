package usage

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// normalizeUsedPercent converts a provider-reported value to the 0-100
// used scale. remaining=true means the value is a 0..1 share of quota
// left, so it is scaled and complemented; remaining=false values are
// already percentages and pass through unscaled, so a genuine 0.5% usage
// stays 0.5. String-encoded numbers are accepted either way.
func normalizeUsedPercent(value gjson.Result, remaining bool) (float64, bool) {
	var n float64
	switch value.Type {
	case gjson.Number:
		n = value.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(value.String(), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}

	if remaining {
		// Tolerate providers that send the remaining share pre-scaled.
		if n <= 1 {
			n *= 100
		}
		n = 100 - n
	}
	return clampPercent(n), true
}

func clampPercent(n float64) float64 {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// parseResetMillis converts an ISO-8601 timestamp to epoch milliseconds,
// returning 0 when absent or unparseable.
func parseResetMillis(value gjson.Result) int64 {
	if value.Type != gjson.String || value.String() == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value.String()); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// windowFromQuota normalizes one quota entry. Recognized fields, all
// optional: remainingFraction (number or string, share of quota left),
// usedPercent (number or string, already on the used scale), resetTime
// (ISO-8601), isExhausted (flag forcing 100% regardless of the fraction).
func windowFromQuota(label string, quota gjson.Result) QuotaWindow {
	window := QuotaWindow{Label: label}

	if percent, ok := normalizeUsedPercent(quota.Get("remainingFraction"), true); ok {
		window.UsedPercent = percent
	} else if percent, ok = normalizeUsedPercent(quota.Get("usedPercent"), false); ok {
		window.UsedPercent = percent
	}
	if quota.Get("isExhausted").Bool() {
		window.UsedPercent = 100
	}
	window.ResetAtMillis = parseResetMillis(quota.Get("resetTime"))

	return window
}

// parseQuotaResetDelay extracts the quotaResetDelay duration from a 429
// error body, e.g. {"error":{"details":[{"metadata":{"quotaResetDelay":
// "4h30m28s"}}]}}. Returns 0 when no delay is present.
func parseQuotaResetDelay(body []byte) time.Duration {
	if !gjson.ValidBytes(body) {
		return 0
	}
	var delay time.Duration
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		raw := detail.Get("metadata.quotaResetDelay").String()
		if raw == "" {
			raw = detail.Get("retryDelay").String()
		}
		if raw == "" {
			return true
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			delay = d
			return false
		}
		return true
	})
	return delay
}
