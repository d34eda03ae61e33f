package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// expiryBuffer is subtracted from every provider-reported expiry so tokens
// are refreshed before they actually lapse. All expiry arithmetic in the
// module goes through applyExpiryBuffer; nothing else reads expires_in.
const expiryBuffer = 5 * time.Minute

// TokenData is the parsed result of a token exchange or refresh.
type TokenData struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAtMillis int64
}

// ExchangeParams carries the inputs for trading an authorization code for
// tokens. Verifier must be the PKCE verifier of the same attempt that
// produced the code.
type ExchangeParams struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Code          string
	Verifier      string
}

// RefreshParams carries the inputs for minting a new access token from a
// refresh token.
type RefreshParams struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
}

// Exchanger performs the outbound token endpoint calls.
type Exchanger struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewExchanger creates an Exchanger using the given HTTP client, which may
// carry proxy configuration.
func NewExchanger(httpClient *http.Client) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Exchange trades an authorization code plus PKCE verifier for tokens.
// Codes are single-use: on failure the whole authorization flow must be
// restarted, so this call is never retried beyond transport errors.
func (e *Exchanger) Exchange(ctx context.Context, p ExchangeParams) (*TokenData, error) {
	form := url.Values{
		"client_id":     {p.ClientID},
		"code":          {p.Code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.RedirectURI},
		"code_verifier": {p.Verifier},
	}
	if p.ClientSecret != "" {
		form.Set("client_secret", p.ClientSecret)
	}

	body, err := e.postForm(ctx, p.TokenEndpoint, form)
	if err != nil {
		return nil, WrapAuthError(ErrTokenExchangeFailed, err)
	}
	token, err := e.parseTokenResponse(body, "")
	if err != nil {
		return nil, WrapAuthError(ErrTokenExchangeFailed, err)
	}
	return token, nil
}

// Refresh mints a new access token. If the provider does not rotate the
// refresh token, the previous one is carried forward in the result.
func (e *Exchanger) Refresh(ctx context.Context, p RefreshParams) (*TokenData, error) {
	if p.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	form := url.Values{
		"client_id":     {p.ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {p.RefreshToken},
	}
	if p.ClientSecret != "" {
		form.Set("client_secret", p.ClientSecret)
	}

	body, err := e.postForm(ctx, p.TokenEndpoint, form)
	if err != nil {
		if isRevokedGrant(err) {
			return nil, WrapAuthError(ErrRefreshRevoked, err)
		}
		return nil, WrapAuthError(ErrRefreshFailed, err)
	}
	return e.parseTokenResponse(body, p.RefreshToken)
}

// postForm performs one form-encoded POST, retrying once on transport-level
// failure. Non-2xx responses are returned as errors carrying the body.
func (e *Exchanger) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			// Transport failure: worth exactly one more try.
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debugf("token endpoint request failed (attempt %d): %v", attempt+1, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read token response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	}
	return nil, lastErr
}

// parseTokenResponse extracts the consumed token fields, applying the
// expiry buffer. previousRefreshToken is kept when the provider did not
// rotate the refresh token.
func (e *Exchanger) parseTokenResponse(body []byte, previousRefreshToken string) (*TokenData, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("token response is not valid JSON")
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if expiresIn <= 0 {
		return nil, fmt.Errorf("token response missing expires_in")
	}

	refreshToken := gjson.GetBytes(body, "refresh_token").String()
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}

	return &TokenData{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		ExpiresAtMillis: applyExpiryBuffer(e.now(), expiresIn),
	}, nil
}

// applyExpiryBuffer converts a provider-reported lifetime in seconds to an
// absolute epoch-millisecond deadline, reduced by the safety buffer.
func applyExpiryBuffer(now time.Time, expiresInSeconds int64) int64 {
	return now.UnixMilli() + expiresInSeconds*1000 - expiryBuffer.Milliseconds()
}

// isRevokedGrant classifies a token endpoint failure as a permanently
// revoked grant, which requires re-authentication rather than retry.
// Markers follow RFC 6749 error codes and Google's revocation messages.
func isRevokedGrant(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
