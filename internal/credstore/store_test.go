package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func testCredential(suffix string) *Credential {
	return &Credential{
		AccessToken:     "at-" + suffix,
		RefreshToken:    "rt-" + suffix,
		ExpiresAtMillis: 1700000000000,
		Email:           suffix + "@example.com",
		Extra:           map[string]string{"project_id": "proj-" + suffix},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.Upsert("gemini:a@example.com", "gemini", testCredential("a")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert("claude:b@example.com", "claude", testCredential("b")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reloaded, err := NewStore(store.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	want := store.List()
	got := reloaded.List()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(got))
	}
}

func TestStoreUpsertReplacesInPlace(t *testing.T) {
	store := newTestStore(t)

	if err := store.Upsert("gemini:a@example.com", "gemini", testCredential("a")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	updated := testCredential("a")
	updated.AccessToken = "at-new"
	updated.ExpiresAtMillis = 1800000000000
	if err := store.Upsert("gemini:a@example.com", "gemini", updated); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	profile := store.Get("gemini:a@example.com")
	if profile == nil {
		t.Fatal("profile missing after update")
	}
	if profile.Credential.AccessToken != "at-new" || profile.Credential.ExpiresAtMillis != 1800000000000 {
		t.Fatalf("credential not replaced: %+v", profile.Credential)
	}
}

func TestStoreRemoveAndListByProvider(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"gemini:b@example.com", "gemini:a@example.com", "claude:c@example.com"} {
		if err := store.Upsert(id, id[:6], testCredential("x")); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	gemini := store.ListByProvider("gemini")
	if len(gemini) != 2 {
		t.Fatalf("expected 2 gemini profiles, got %d", len(gemini))
	}
	if gemini[0].ProfileID != "gemini:a@example.com" {
		t.Fatalf("expected sorted order, got %s first", gemini[0].ProfileID)
	}

	if err := store.Remove("gemini:a@example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Get("gemini:a@example.com") != nil {
		t.Fatal("profile still present after Remove")
	}
	if err := store.Remove("gemini:a@example.com"); err != nil {
		t.Fatalf("removing absent profile should be a no-op, got %v", err)
	}
}

func TestStorePreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	seed := `{"version":1,"profiles":{"gemini:a@example.com":{"provider_id":"gemini","custom_tool_field":"keep-me","credential":{"access_token":"at","refresh_token":"rt","expires_at":1}}}}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err = store.Upsert("gemini:a@example.com", "gemini", testCredential("a")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	field := gjson.GetBytes(data, `profiles.gemini\:a\@example\.com.custom_tool_field`)
	if field.String() != "keep-me" {
		t.Fatalf("unknown field lost on rewrite: %s", data)
	}
}

func TestStoreMigratesLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	legacy := `{"gemini:a@example.com":{"provider_id":"gemini","credential":{"access_token":"at","refresh_token":"rt","expires_at":1}}}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	profile := store.Get("gemini:a@example.com")
	if profile == nil || profile.Credential.AccessToken != "at" {
		t.Fatalf("legacy profile not loaded: %+v", profile)
	}

	// Any write migrates the file to the versioned layout.
	if err = store.Upsert("gemini:a@example.com", "gemini", profile.Credential); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if gjson.GetBytes(data, "version").Int() != FormatVersion {
		t.Fatalf("file not migrated to versioned layout: %s", data)
	}
}

func TestStoreRejectsFutureVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	future := `{"version":99,"profiles":{}}`
	if err := os.WriteFile(path, []byte(future), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := NewStore(path)
	var versionErr *ErrUnsupportedVersion
	if !errors.As(err, &versionErr) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if versionErr.Version != 99 {
		t.Fatalf("unexpected version in error: %d", versionErr.Version)
	}
}

func TestStoreToleratesUnknownCredentialFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	seed := `{"version":1,"profiles":{"codex:a@example.com":{"provider_id":"codex","credential":{"access_token":"at","refresh_token":"rt","expires_at":1,"surprise":"field"}}}}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("unknown field must not fail the load: %v", err)
	}
	if store.Get("codex:a@example.com") == nil {
		t.Fatal("profile missing")
	}
}
