package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExchangeAppliesExpiryBuffer(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600}`))
	}))
	defer server.Close()

	exchanger := NewExchanger(server.Client())
	exchangeTime := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	exchanger.now = func() time.Time { return exchangeTime }

	token, err := exchanger.Exchange(context.Background(), ExchangeParams{
		TokenEndpoint: server.URL,
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		RedirectURI:   "http://localhost:8085/oauth-callback",
		Code:          "code-1",
		Verifier:      "verifier-1",
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	for key, want := range map[string]string{
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"code":          "code-1",
		"grant_type":    "authorization_code",
		"redirect_uri":  "http://localhost:8085/oauth-callback",
		"code_verifier": "verifier-1",
	} {
		if gotForm[key] != want {
			t.Errorf("form field %s: got %q want %q", key, gotForm[key], want)
		}
	}

	wantExpiry := exchangeTime.UnixMilli() + 3600*1000 - 300000
	if token.ExpiresAtMillis != wantExpiry {
		t.Fatalf("expiry: got %d want %d", token.ExpiresAtMillis, wantExpiry)
	}
	if token.AccessToken != "at-1" || token.RefreshToken != "rt-1" {
		t.Fatalf("unexpected token data: %+v", token)
	}
}

func TestExchangeFailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	exchanger := NewExchanger(server.Client())
	_, err := exchanger.Exchange(context.Background(), ExchangeParams{TokenEndpoint: server.URL})
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("expected ErrTokenExchangeFailed, got %v", err)
	}
}

func TestExchangeFailsOnMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer server.Close()

	exchanger := NewExchanger(server.Client())
	_, err := exchanger.Exchange(context.Background(), ExchangeParams{TokenEndpoint: server.URL})
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("expected ErrTokenExchangeFailed, got %v", err)
	}
}

func TestRefreshKeepsPreviousRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type: got %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token: got %q", got)
		}
		// No rotated refresh token in the response.
		_, _ = w.Write([]byte(`{"access_token":"at-2","expires_in":3600}`))
	}))
	defer server.Close()

	exchanger := NewExchanger(server.Client())
	token, err := exchanger.Refresh(context.Background(), RefreshParams{
		TokenEndpoint: server.URL,
		ClientID:      "client-1",
		RefreshToken:  "rt-old",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token.RefreshToken != "rt-old" {
		t.Fatalf("expected previous refresh token to be kept, got %q", token.RefreshToken)
	}
	if token.AccessToken != "at-2" {
		t.Fatalf("unexpected access token %q", token.AccessToken)
	}
}

func TestRefreshClassifiesRevokedGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	exchanger := NewExchanger(server.Client())
	_, err := exchanger.Refresh(context.Background(), RefreshParams{
		TokenEndpoint: server.URL,
		RefreshToken:  "rt-revoked",
	})
	if !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked, got %v", err)
	}
}
