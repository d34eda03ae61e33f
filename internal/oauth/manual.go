package oauth

import (
	"net/url"
	"strings"
)

// ParseManualRedirect extracts the authorization code from a redirect URL
// the user pasted into the terminal. Used on headless or remote sessions
// where the local callback listener cannot receive the browser redirect.
// Accepts a full URL or a bare query string and applies the same state
// check as the listener.
func ParseManualRedirect(input, expectedState string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrMalformedInput
	}

	query := input
	if idx := strings.Index(input, "?"); idx >= 0 {
		query = input[idx+1:]
	}
	// Strip a fragment if the browser carried one over.
	if idx := strings.Index(query, "#"); idx >= 0 {
		query = query[:idx]
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", WrapAuthError(ErrMalformedInput, err)
	}

	code := values.Get("code")
	if code == "" {
		return "", ErrMalformedInput
	}

	if state := values.Get("state"); state != expectedState {
		return "", ErrStateMismatch
	}

	return code, nil
}
