package usage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
)

// DefaultPerProviderTimeout bounds each provider's usage call.
const DefaultPerProviderTimeout = 15 * time.Second

// Aggregator fans usage queries out across providers and collects the
// normalized snapshots. One provider failing, timing out, or returning
// garbage never affects the other providers' results.
type Aggregator struct {
	tokens     TokenSource
	registry   *registry.Registry
	httpClient *http.Client
	fetchers   map[string]Fetcher
	cache      *Cache
}

// NewAggregator creates an aggregator. cache may be nil to disable the
// last-known-snapshot fallback.
func NewAggregator(tokens TokenSource, reg *registry.Registry, httpClient *http.Client, fetchers map[string]Fetcher, cache *Cache) *Aggregator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Aggregator{
		tokens:     tokens,
		registry:   reg,
		httpClient: httpClient,
		fetchers:   fetchers,
		cache:      cache,
	}
}

// FetchAll queries every profile concurrently and returns one snapshot per
// profile, in the order requested. Errors are captured per snapshot and
// never propagate out of this call.
func (a *Aggregator) FetchAll(ctx context.Context, profiles []*credstore.AuthProfile, perProviderTimeout time.Duration) []*Snapshot {
	if perProviderTimeout <= 0 {
		perProviderTimeout = DefaultPerProviderTimeout
	}

	snapshots := make([]*Snapshot, len(profiles))
	var wg sync.WaitGroup
	for i, profile := range profiles {
		wg.Add(1)
		go func(i int, profile *credstore.AuthProfile) {
			defer wg.Done()
			snapshots[i] = a.fetchOne(ctx, profile, perProviderTimeout)
		}(i, profile)
	}
	wg.Wait()
	return snapshots
}

// fetchOne produces the snapshot for a single profile, folding every
// failure mode into the snapshot itself.
func (a *Aggregator) fetchOne(ctx context.Context, profile *credstore.AuthProfile, timeout time.Duration) *Snapshot {
	snapshot := &Snapshot{
		ProviderID:  profile.ProviderID,
		ProfileID:   profile.ProfileID,
		DisplayName: profile.ProviderID,
	}

	descriptor, err := a.registry.Resolve(profile.ProviderID)
	if err != nil {
		snapshot.Error = err.Error()
		return snapshot
	}
	snapshot.DisplayName = descriptor.Label

	fetcher, ok := a.fetchers[descriptor.ID]
	if !ok {
		snapshot.Error = fmt.Sprintf("usage reporting is not supported for %s", descriptor.Label)
		return snapshot
	}

	// The deadline covers the whole per-profile query, refresh included,
	// so a slow token endpoint cannot hold the goroutine past it.
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	accessToken, err := a.tokens.EnsureFresh(fetchCtx, profile.ProfileID)
	if err != nil {
		a.fillFailure(snapshot, err, timeout)
		return snapshot
	}

	result, err := fetcher.Fetch(fetchCtx, a.httpClient, descriptor, accessToken)
	if err != nil {
		a.fillFailure(snapshot, err, timeout)
		return snapshot
	}

	snapshot.Windows = result.Windows
	snapshot.Plan = result.Plan
	if a.cache != nil {
		if errCache := a.cache.Put(profile.ProfileID, snapshot); errCache != nil {
			log.Debugf("failed to cache usage snapshot for %s: %v", profile.ProfileID, errCache)
		}
	}
	return snapshot
}

// fillFailure classifies an error into the snapshot. Rate limits with a
// known reset delay become a window rather than an opaque failure; other
// errors may be softened with the last cached snapshot.
func (a *Aggregator) fillFailure(snapshot *Snapshot, err error, timeout time.Duration) {
	var authErr *oauth.AuthError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		snapshot.Error = fmt.Sprintf("timed out after %s", timeout)
	case errors.As(err, &authErr) && authErr.Type == oauth.ErrRateLimited.Type:
		snapshot.Error = oauth.GetUserFriendlyMessage(authErr)
		if authErr.ResetDelay > 0 {
			snapshot.Windows = append(snapshot.Windows, QuotaWindow{
				Label:         "rate limit",
				UsedPercent:   100,
				ResetAtMillis: time.Now().Add(authErr.ResetDelay).UnixMilli(),
			})
			// The reset time is known, so this is complete information,
			// not a fetch failure worth replacing with cached data.
			return
		}
	case errors.As(err, &authErr):
		snapshot.Error = oauth.GetUserFriendlyMessage(authErr)
	default:
		snapshot.Error = err.Error()
	}

	if a.cache == nil {
		return
	}
	cached, errCache := a.cache.Get(snapshot.ProfileID)
	if errCache != nil || cached == nil {
		return
	}
	snapshot.Windows = cached.Snapshot.Windows
	snapshot.Plan = cached.Snapshot.Plan
	snapshot.Error = fmt.Sprintf("%s (showing data cached at %s)", snapshot.Error, cached.FetchedAt.Format(time.RFC3339))
}
