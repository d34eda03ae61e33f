package usage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
)

// Fetcher queries one provider's usage endpoint and normalizes the
// response into a Snapshot. Implementations are looked up by provider id.
type Fetcher interface {
	Fetch(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error) {
	return f(ctx, client, descriptor, accessToken)
}

// BuiltinFetchers returns the fetcher for every built-in provider.
func BuiltinFetchers() map[string]Fetcher {
	return map[string]Fetcher{
		"gemini": FetcherFunc(fetchGeminiUsage),
		"claude": FetcherFunc(fetchClaudeUsage),
		"codex":  FetcherFunc(fetchCodexUsage),
	}
}

// usageRequest performs one authenticated call to a usage endpoint.
// 429 responses become rate-limit errors carrying any structured reset
// delay found in the body; empty-but-successful responses are classified
// as restricted access, not transport failures.
func usageRequest(ctx context.Context, client *http.Client, method, endpoint, accessToken string, body string, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := parseQuotaResetDelay(respBody)
		return nil, oauth.NewRateLimitError(delay, fmt.Errorf("usage endpoint returned status 429"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("usage endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]")) {
		return nil, oauth.ErrEmptyResponse
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("usage endpoint returned invalid JSON")
	}
	return respBody, nil
}

// fetchGeminiUsage reads the code-assist quota shape: a "quotas" record of
// entries keyed by window name, each with an optional remaining fraction,
// ISO reset time, and exhaustion flag, plus a top-level tier name.
func fetchGeminiUsage(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error) {
	body, err := usageRequest(ctx, client, http.MethodPost, descriptor.UsageEndpoint, accessToken, `{"metadata":{"pluginType":"AGENT"}}`, nil)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		ProviderID:  descriptor.ID,
		DisplayName: descriptor.Label,
		Plan:        gjson.GetBytes(body, "userTier").String(),
	}
	gjson.GetBytes(body, "quotas").ForEach(func(key, value gjson.Result) bool {
		snapshot.Windows = append(snapshot.Windows, windowFromQuota(key.String(), value))
		return true
	})
	if len(snapshot.Windows) == 0 {
		return nil, oauth.ErrEmptyResponse
	}
	return snapshot, nil
}

// fetchClaudeUsage reads the Anthropic OAuth usage shape: fixed five_hour
// and seven_day windows with a utilization value and an ISO reset time.
func fetchClaudeUsage(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error) {
	headers := map[string]string{"anthropic-beta": "oauth-2025-04-20"}
	body, err := usageRequest(ctx, client, http.MethodGet, descriptor.UsageEndpoint, accessToken, "", headers)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		ProviderID:  descriptor.ID,
		DisplayName: descriptor.Label,
		Plan:        gjson.GetBytes(body, "subscription_type").String(),
	}
	for _, window := range []struct {
		field string
		label string
	}{
		{"five_hour", "5-hour"},
		{"seven_day", "7-day"},
	} {
		entry := gjson.GetBytes(body, window.field)
		if !entry.Exists() {
			continue
		}
		used, _ := normalizeUsedPercent(entry.Get("utilization"), false)
		snapshot.Windows = append(snapshot.Windows, QuotaWindow{
			Label:         window.label,
			UsedPercent:   used,
			ResetAtMillis: parseResetMillis(entry.Get("resets_at")),
		})
	}
	if len(snapshot.Windows) == 0 {
		return nil, oauth.ErrEmptyResponse
	}
	return snapshot, nil
}

// fetchCodexUsage reads the ChatGPT backend usage shape: a "rate_limits"
// record of windows carrying used_percent (numeric or string encoded) and
// either an absolute or a relative reset time.
func fetchCodexUsage(ctx context.Context, client *http.Client, descriptor *registry.ProviderDescriptor, accessToken string) (*Snapshot, error) {
	body, err := usageRequest(ctx, client, http.MethodGet, descriptor.UsageEndpoint, accessToken, "", nil)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		ProviderID:  descriptor.ID,
		DisplayName: descriptor.Label,
		Plan:        gjson.GetBytes(body, "plan_type").String(),
	}
	gjson.GetBytes(body, "rate_limits").ForEach(func(key, value gjson.Result) bool {
		used, _ := normalizeUsedPercent(value.Get("used_percent"), false)
		window := QuotaWindow{
			Label:         key.String(),
			UsedPercent:   used,
			ResetAtMillis: parseResetMillis(value.Get("resets_at")),
		}
		if window.ResetAtMillis == 0 {
			if seconds := value.Get("resets_in_seconds").Int(); seconds > 0 {
				window.ResetAtMillis = time.Now().Add(time.Duration(seconds) * time.Second).UnixMilli()
			}
		}
		snapshot.Windows = append(snapshot.Windows, window)
		return true
	})
	if len(snapshot.Windows) == 0 {
		return nil, oauth.ErrEmptyResponse
	}
	return snapshot, nil
}
