package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthURLParams carries everything needed to build an authorization URL.
// State is supplied by the caller so the same value can be verified when
// the callback arrives.
type AuthURLParams struct {
	AuthorizationEndpoint string
	ClientID              string
	RedirectURI           string
	Scopes                []string
	Challenge             string
	State                 string
}

// BuildAuthURL deterministically constructs the authorization URL for the
// code flow with PKCE. Offline access and an explicit consent prompt are
// always requested so a refresh token is issued even on re-authentication.
func BuildAuthURL(p AuthURLParams) (string, error) {
	if p.Challenge == "" {
		return "", fmt.Errorf("PKCE challenge is required")
	}
	if p.State == "" {
		return "", fmt.Errorf("state parameter is required")
	}

	params := url.Values{
		"client_id":             {p.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {p.RedirectURI},
		"scope":                 {strings.Join(p.Scopes, " ")},
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {p.State},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	}

	return fmt.Sprintf("%s?%s", p.AuthorizationEndpoint, params.Encode()), nil
}
