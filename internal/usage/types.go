// Package usage aggregates remaining-quota information from every
// authenticated provider into one normalized view. Providers report quota
// in inconsistent shapes (remaining fractions, percentages, exhaustion
// flags, free-text reset delays); everything is normalized to a 0-100
// used-percent scale with absolute reset times.
package usage

import "context"

// QuotaWindow is one named, independently tracked consumption limit.
type QuotaWindow struct {
	Label string `json:"label"`
	// UsedPercent is always on the 0-100 scale, whatever the source
	// reported.
	UsedPercent float64 `json:"used_percent"`
	// ResetAtMillis is the epoch-millisecond reset time, 0 when unknown.
	ResetAtMillis int64 `json:"reset_at,omitempty"`
}

// Snapshot is the normalized result of querying one provider's quota.
// A snapshot with Error set may still carry partial windows, e.g. cached
// data or a rate-limit window with a known reset time.
type Snapshot struct {
	ProviderID  string        `json:"provider_id"`
	ProfileID   string        `json:"profile_id"`
	DisplayName string        `json:"display_name"`
	Windows     []QuotaWindow `json:"windows,omitempty"`
	Plan        string        `json:"plan,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// TokenSource supplies a fresh access token for a profile. Implemented by
// the auth refresher; a narrow interface keeps the aggregator testable.
type TokenSource interface {
	EnsureFresh(ctx context.Context, profileID string) (string, error)
}
