package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthError represents a classified failure in the credential lifecycle.
// Type is a stable machine-readable kind, Message a human-readable summary.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Cause   error  `json:"-"`

	// ResetDelay is populated for rate-limit errors when the provider
	// reported a structured quota reset delay.
	ResetDelay time.Duration `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is lets sentinel comparisons match on the error type, so wrapped
// instances created with WrapAuthError still satisfy errors.Is.
func (e *AuthError) Is(target error) bool {
	var authErr *AuthError
	if !errors.As(target, &authErr) {
		return false
	}
	return e.Type == authErr.Type
}

// Common authentication error kinds.
var (
	ErrEntropyFailure = &AuthError{
		Type:    "entropy_failure",
		Message: "System entropy source failed while generating secrets",
		Code:    http.StatusInternalServerError,
	}

	ErrStateMismatch = &AuthError{
		Type:    "state_mismatch",
		Message: "OAuth state parameter does not match the value sent",
		Code:    http.StatusBadRequest,
	}

	ErrMalformedInput = &AuthError{
		Type:    "malformed_input",
		Message: "Redirect URL does not contain an authorization code",
		Code:    http.StatusBadRequest,
	}

	ErrTokenExchangeFailed = &AuthError{
		Type:    "token_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	ErrRefreshRevoked = &AuthError{
		Type:    "refresh_revoked",
		Message: "Refresh token has been revoked, re-authentication required",
		Code:    http.StatusUnauthorized,
	}

	ErrRefreshFailed = &AuthError{
		Type:    "refresh_failed",
		Message: "Failed to refresh access token",
		Code:    http.StatusBadGateway,
	}

	ErrProfileNotFound = &AuthError{
		Type:    "profile_not_found",
		Message: "No stored credential for the requested profile",
		Code:    http.StatusNotFound,
	}

	ErrPortInUse = &AuthError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	ErrCallbackTimeout = &AuthError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}

	ErrBrowserOpenFailed = &AuthError{
		Type:    "browser_open_failed",
		Message: "Failed to open browser for authentication",
		Code:    http.StatusInternalServerError,
	}

	ErrRateLimited = &AuthError{
		Type:    "rate_limited",
		Message: "Provider rejected the request with a rate limit",
		Code:    http.StatusTooManyRequests,
	}

	ErrEmptyResponse = &AuthError{
		Type:    "restricted_or_empty_response",
		Message: "Provider returned an empty response, account may be restricted",
		Code:    http.StatusForbidden,
	}

	ErrProjectLookupFailed = &AuthError{
		Type:    "project_lookup_failed",
		Message: "Could not discover a project id for this account",
		Code:    http.StatusFailedDependency,
	}
)

// WrapAuthError attaches a cause to one of the sentinel errors above.
func WrapAuthError(base *AuthError, cause error) *AuthError {
	return &AuthError{
		Type:       base.Type,
		Message:    base.Message,
		Code:       base.Code,
		Cause:      cause,
		ResetDelay: base.ResetDelay,
	}
}

// NewRateLimitError builds a rate-limit error carrying the provider-reported
// reset delay, when one could be parsed from the response.
func NewRateLimitError(delay time.Duration, cause error) *AuthError {
	return &AuthError{
		Type:       ErrRateLimited.Type,
		Message:    ErrRateLimited.Message,
		Code:       ErrRateLimited.Code,
		Cause:      cause,
		ResetDelay: delay,
	}
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// GetUserFriendlyMessage returns a message suitable for direct display.
func GetUserFriendlyMessage(err error) string {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Type {
	case "state_mismatch":
		return "The sign-in response could not be verified. Please start the login again."
	case "malformed_input":
		return "That does not look like a redirect URL. Paste the full URL from your browser."
	case "token_exchange_failed":
		return "Sign-in could not be completed. Authorization codes are single-use; please log in again."
	case "refresh_revoked":
		return "Your session has been revoked. Please log in again."
	case "port_in_use":
		return "The local sign-in port is already in use. Close the conflicting application and retry."
	case "callback_timeout":
		return "Sign-in timed out. Please try again."
	case "browser_open_failed":
		return "Could not open your browser automatically. Copy and paste the URL manually."
	case "rate_limited":
		if authErr.ResetDelay > 0 {
			return fmt.Sprintf("Rate limited by the provider. Quota resets in about %s.", authErr.ResetDelay)
		}
		return "Rate limited by the provider. Please try again later."
	case "restricted_or_empty_response":
		return "The provider returned no data. Your account may not have access to this service."
	default:
		return "Authentication failed. Please try again."
	}
}
