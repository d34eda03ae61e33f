// Package auth composes the OAuth building blocks into the credential
// lifecycle: the interactive login flow, and keeping stored access tokens
// fresh for API calls.
package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
)

// Refresher hands out valid access tokens, refreshing expired credentials
// in place. Refreshes are single-flight per profile id: some providers
// rotate refresh tokens on use, so a duplicate concurrent refresh would
// invalidate the token the other caller just received.
type Refresher struct {
	store     *credstore.Store
	registry  *registry.Registry
	exchanger *oauth.Exchanger
	group     singleflight.Group
	now       func() time.Time
}

// NewRefresher creates a Refresher over the given store and registry.
func NewRefresher(store *credstore.Store, reg *registry.Registry, exchanger *oauth.Exchanger) *Refresher {
	return &Refresher{
		store:     store,
		registry:  reg,
		exchanger: exchanger,
		now:       time.Now,
	}
}

// EnsureFresh returns a valid access token for the profile, refreshing
// first when the stored credential has expired. The store is updated
// before the new token is returned, so a subsequent reader observes the
// refreshed credential.
func (r *Refresher) EnsureFresh(ctx context.Context, profileID string) (string, error) {
	profile := r.store.Get(profileID)
	if profile == nil || profile.Credential == nil {
		return "", oauth.ErrProfileNotFound
	}
	if r.now().UnixMilli() < profile.Credential.ExpiresAtMillis {
		return profile.Credential.AccessToken, nil
	}

	token, err, shared := r.group.Do(profileID, func() (interface{}, error) {
		return r.refresh(ctx, profileID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debugf("refresh for %s joined an in-flight refresh", profileID)
	}
	return token.(string), nil
}

// refresh performs one refresh call and writes the result back to the
// store. Late arrivals that joined via singleflight share this result.
func (r *Refresher) refresh(ctx context.Context, profileID string) (string, error) {
	// Re-read under the flight: a refresh that completed between the
	// expiry check and Do() already renewed the credential.
	profile := r.store.Get(profileID)
	if profile == nil || profile.Credential == nil {
		return "", oauth.ErrProfileNotFound
	}
	cred := profile.Credential
	if r.now().UnixMilli() < cred.ExpiresAtMillis {
		return cred.AccessToken, nil
	}

	descriptor, err := r.registry.Resolve(profile.ProviderID)
	if err != nil {
		return "", err
	}
	method := descriptor.OAuthMethod()
	if method == nil {
		return "", oauth.WrapAuthError(oauth.ErrRefreshFailed, &registry.UnknownProviderError{ID: profile.ProviderID})
	}

	log.Debugf("refreshing access token for %s", profileID)
	token, err := r.exchanger.Refresh(ctx, oauth.RefreshParams{
		TokenEndpoint: method.TokenEndpoint,
		ClientID:      method.ClientID,
		ClientSecret:  method.ClientSecret,
		RefreshToken:  cred.RefreshToken,
	})
	if err != nil {
		return "", err
	}

	cred.AccessToken = token.AccessToken
	cred.ExpiresAtMillis = token.ExpiresAtMillis
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	if err = r.store.Upsert(profileID, profile.ProviderID, cred); err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}
