package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
)

func newRefresherFixture(t *testing.T, tokenEndpoint string) (*Refresher, *credstore.Store) {
	t.Helper()

	store, err := credstore.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	reg := registry.NewRegistry()
	err = reg.Register(&registry.ProviderDescriptor{
		ID:    "testprov",
		Label: "Test Provider",
		AuthMethods: []registry.AuthMethod{
			{
				Kind:          registry.AuthMethodOAuthPKCE,
				ClientID:      "client-1",
				TokenEndpoint: tokenEndpoint,
			},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	return NewRefresher(store, reg, oauth.NewExchanger(&http.Client{})), store
}

func TestEnsureFreshReturnsValidTokenWithoutRefresh(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	refresher, store := newRefresherFixture(t, server.URL)
	err := store.Upsert("testprov:a@example.com", "testprov", &credstore.Credential{
		AccessToken:     "at-valid",
		RefreshToken:    "rt-1",
		ExpiresAtMillis: time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	token, err := refresher.EnsureFresh(context.Background(), "testprov:a@example.com")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if token != "at-valid" {
		t.Fatalf("got token %q, want stored token", token)
	}
	if calls.Load() != 0 {
		t.Fatalf("no refresh call expected, got %d", calls.Load())
	}
}

func TestEnsureFreshSingleFlight(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		// Slow the refresh down so all callers pile onto one flight.
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"at-new-%d","refresh_token":"rt-new","expires_in":3600}`, n)
	}))
	defer server.Close()

	refresher, store := newRefresherFixture(t, server.URL)
	err := store.Upsert("testprov:a@example.com", "testprov", &credstore.Credential{
		AccessToken:     "at-expired",
		RefreshToken:    "rt-1",
		ExpiresAtMillis: time.Now().Add(-time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = refresher.EnsureFresh(context.Background(), "testprov:a@example.com")
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one outbound refresh, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "at-new-1" {
			t.Fatalf("caller %d got %q, want the shared refreshed token", i, tokens[i])
		}
	}

	profile := store.Get("testprov:a@example.com")
	if profile.Credential.AccessToken != "at-new-1" {
		t.Fatalf("store not updated: %+v", profile.Credential)
	}
	if profile.Credential.RefreshToken != "rt-new" {
		t.Fatalf("rotated refresh token not stored: %+v", profile.Credential)
	}
	if profile.Credential.ExpiresAtMillis <= time.Now().UnixMilli() {
		t.Fatalf("refreshed credential already expired: %d", profile.Credential.ExpiresAtMillis)
	}
}

func TestEnsureFreshProfileNotFound(t *testing.T) {
	refresher, _ := newRefresherFixture(t, "http://127.0.0.1:0")
	_, err := refresher.EnsureFresh(context.Background(), "testprov:missing")
	if !errors.Is(err, oauth.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestEnsureFreshRevokedRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	refresher, store := newRefresherFixture(t, server.URL)
	err := store.Upsert("testprov:a@example.com", "testprov", &credstore.Credential{
		AccessToken:     "at-expired",
		RefreshToken:    "rt-revoked",
		ExpiresAtMillis: time.Now().Add(-time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err = refresher.EnsureFresh(context.Background(), "testprov:a@example.com")
	if !errors.Is(err, oauth.ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked, got %v", err)
	}
}
