package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
)

// Capabilities are the interaction hooks the surrounding command layer
// injects: prompting, notification, browser opening, and whether the
// session is headless (no local listener possible).
type Capabilities struct {
	// Prompt asks the user for a line of input.
	Prompt func(message string) (string, error)
	// Notify shows the user a message. Defaults to logging.
	Notify func(message string)
	// OpenBrowser opens a URL in the user's browser.
	OpenBrowser func(url string) error
	// Headless selects the manual paste path over the local listener.
	Headless bool
	// NoBrowser suppresses automatic browser opening.
	NoBrowser bool
}

// LoginOptions tune one login attempt.
type LoginOptions struct {
	// CallbackTimeout bounds the wait for the browser redirect.
	CallbackTimeout time.Duration
}

// Flow runs the interactive authentication flow for one provider and
// persists the resulting credential.
type Flow struct {
	store      *credstore.Store
	registry   *registry.Registry
	exchanger  *oauth.Exchanger
	httpClient *http.Client
}

// NewFlow creates a login flow over the given collaborators. httpClient is
// used for userinfo and provider-setup calls and may carry proxy settings.
func NewFlow(store *credstore.Store, reg *registry.Registry, exchanger *oauth.Exchanger, httpClient *http.Client) *Flow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Flow{
		store:      store,
		registry:   reg,
		exchanger:  exchanger,
		httpClient: httpClient,
	}
}

// Login authenticates against the named provider (id or alias) and stores
// the credential. Returns the stored profile.
func (f *Flow) Login(ctx context.Context, providerIDOrAlias string, caps *Capabilities, opts *LoginOptions) (*credstore.AuthProfile, error) {
	if caps == nil {
		caps = &Capabilities{}
	}
	if caps.Notify == nil {
		caps.Notify = func(message string) { log.Info(message) }
	}
	if opts == nil {
		opts = &LoginOptions{}
	}

	descriptor, err := f.registry.Resolve(providerIDOrAlias)
	if err != nil {
		return nil, err
	}
	method := descriptor.OAuthMethod()
	if method == nil {
		return nil, fmt.Errorf("provider %s does not support OAuth login", descriptor.ID)
	}

	// State and PKCE are scoped to this attempt and never persisted; the
	// verifier generated here is the only one valid for the exchange.
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}
	pkce, err := oauth.GeneratePKCECodes()
	if err != nil {
		return nil, err
	}

	authURL, err := oauth.BuildAuthURL(oauth.AuthURLParams{
		AuthorizationEndpoint: method.AuthorizationEndpoint,
		ClientID:              method.ClientID,
		RedirectURI:           method.RedirectURI,
		Scopes:                method.Scopes,
		Challenge:             pkce.CodeChallenge,
		State:                 state,
	})
	if err != nil {
		return nil, err
	}

	var code string
	if caps.Headless {
		code, err = f.manualCode(authURL, state, caps)
	} else {
		code, err = f.listenerCode(ctx, authURL, state, method.CallbackPort, caps, opts.CallbackTimeout)
	}
	if err != nil {
		return nil, err
	}

	token, err := f.exchanger.Exchange(ctx, oauth.ExchangeParams{
		TokenEndpoint: method.TokenEndpoint,
		ClientID:      method.ClientID,
		ClientSecret:  method.ClientSecret,
		RedirectURI:   method.RedirectURI,
		Code:          code,
		Verifier:      pkce.CodeVerifier,
	})
	if err != nil {
		return nil, err
	}

	cred := &credstore.Credential{
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		ExpiresAtMillis: token.ExpiresAtMillis,
	}

	if method.UserinfoEndpoint != "" {
		// Email is informational; an anonymous profile id still works.
		if email, errInfo := f.fetchEmail(ctx, method.UserinfoEndpoint, token.AccessToken); errInfo == nil {
			cred.Email = email
		} else {
			log.Debugf("userinfo lookup failed: %v", errInfo)
		}
	}

	if err = f.enrichCredential(ctx, descriptor.ID, cred); err != nil {
		return nil, err
	}

	profileID := buildProfileID(descriptor.ID, cred.Email)
	if err = f.store.Upsert(profileID, descriptor.ID, cred); err != nil {
		return nil, err
	}
	log.Infof("Saved credential for profile %s", profileID)

	return f.store.Get(profileID), nil
}

// Logout removes a stored profile.
func (f *Flow) Logout(profileID string) error {
	if f.store.Get(profileID) == nil {
		return oauth.ErrProfileNotFound
	}
	return f.store.Remove(profileID)
}

// listenerCode drives the local-listener path: bind first so the port is
// held before the browser opens, then wait for the single redirect.
func (f *Flow) listenerCode(ctx context.Context, authURL, state string, port int, caps *Capabilities, timeout time.Duration) (string, error) {
	listener := oauth.NewCallbackListener(port, state)
	if err := listener.Start(); err != nil {
		return "", err
	}

	f.announceURL(authURL, caps)

	result, err := listener.AwaitCallback(ctx, timeout)
	if err != nil {
		return "", err
	}
	return result.Code, nil
}

// manualCode drives the headless path: show the URL, then parse the
// redirect URL the user pastes back.
func (f *Flow) manualCode(authURL, state string, caps *Capabilities) (string, error) {
	caps.Notify(fmt.Sprintf("Open this URL in a browser on any machine:\n\n%s\n", authURL))
	if caps.Prompt == nil {
		return "", fmt.Errorf("headless login requires a prompt capability")
	}
	pasted, err := caps.Prompt("Paste the full redirect URL here: ")
	if err != nil {
		return "", err
	}
	return oauth.ParseManualRedirect(pasted, state)
}

func (f *Flow) announceURL(authURL string, caps *Capabilities) {
	if caps.NoBrowser || caps.OpenBrowser == nil {
		caps.Notify(fmt.Sprintf("Open this URL in your browser to continue:\n\n%s\n", authURL))
		return
	}
	if err := caps.OpenBrowser(authURL); err != nil {
		log.Warnf("%v", oauth.WrapAuthError(oauth.ErrBrowserOpenFailed, err))
		caps.Notify(fmt.Sprintf("Could not open a browser. Open this URL manually:\n\n%s\n", authURL))
	}
}

// buildProfileID derives the stable store key. Anonymous logins get a
// random suffix so two anonymous logins to one provider do not collide.
func buildProfileID(providerID, email string) string {
	if email != "" {
		return fmt.Sprintf("%s:%s", providerID, email)
	}
	return fmt.Sprintf("%s:anon-%s", providerID, uuid.NewString()[:8])
}
