// Package credstore persists authenticated profiles across process
// restarts. The store is a single versioned JSON file mapping profile ids
// to credentials; every mutation rewrites the file atomically so readers
// never observe a torn record.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FormatVersion is the current credential file format version.
const FormatVersion = 1

// Credential is one authenticated identity for one provider.
// ExpiresAtMillis already includes the safety buffer applied at exchange
// time; callers compare it directly against the current time.
type Credential struct {
	AccessToken     string            `json:"access_token"`
	RefreshToken    string            `json:"refresh_token"`
	ExpiresAtMillis int64             `json:"expires_at"`
	Email           string            `json:"email,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// AuthProfile is a named slot in the store, keyed by profile id with the
// convention "<providerId>:<email-or-anon>".
type AuthProfile struct {
	ProfileID  string      `json:"-"`
	ProviderID string      `json:"provider_id"`
	Credential *Credential `json:"credential"`
}

// ErrUnsupportedVersion is returned when the credential file was written
// by a newer release of the tool.
type ErrUnsupportedVersion struct {
	Version int64
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("credential file version %d is newer than supported version %d", e.Version, FormatVersion)
}

// Store is a durable profileId -> Credential mapping. All operations are
// safe for concurrent use; each mutation is an atomic whole-file replace.
type Store struct {
	path string

	mu       sync.RWMutex
	profiles map[string]*AuthProfile
	// rawRecords preserves each profile's original JSON so fields written
	// by other tools survive a rewrite untouched.
	rawRecords map[string]string
}

// NewStore creates a store backed by the given file path. The file is
// loaded if it exists; a missing file is an empty store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:       path,
		profiles:   make(map[string]*AuthProfile),
		rawRecords: make(map[string]string),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load re-reads the backing file, replacing the in-memory state. Used at
// startup and by the file watcher when the file changes externally.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("credential file %s is not valid JSON", s.path)
	}

	version := gjson.GetBytes(data, "version").Int()
	if version > FormatVersion {
		return &ErrUnsupportedVersion{Version: version}
	}

	profilesJSON := gjson.GetBytes(data, "profiles")
	if version == 0 && !profilesJSON.Exists() {
		// Legacy layout: the whole file is the profile map. Migrated to
		// the versioned layout on the next write.
		profilesJSON = gjson.ParseBytes(data)
		log.Debugf("migrating legacy credential file %s", s.path)
	}

	profiles := make(map[string]*AuthProfile)
	rawRecords := make(map[string]string)
	var parseErr error
	profilesJSON.ForEach(func(key, value gjson.Result) bool {
		profile := &AuthProfile{ProfileID: key.String()}
		// Unknown fields in the record are ignored here but preserved in
		// rawRecords for the next write.
		if err = json.Unmarshal([]byte(value.Raw), profile); err != nil {
			parseErr = fmt.Errorf("failed to parse profile %q: %w", key.String(), err)
			return false
		}
		profiles[key.String()] = profile
		rawRecords[key.String()] = value.Raw
		return true
	})
	if parseErr != nil {
		return parseErr
	}

	s.mu.Lock()
	s.profiles = profiles
	s.rawRecords = rawRecords
	s.mu.Unlock()

	log.Debugf("loaded %d profile(s) from %s", len(profiles), s.path)
	return nil
}

// Upsert inserts or replaces the credential for a profile and persists
// the change. Last write wins for concurrent writers to the same profile.
func (s *Store) Upsert(profileID, providerID string, cred *Credential) error {
	if profileID == "" {
		return fmt.Errorf("profile id is required")
	}
	if cred == nil {
		return fmt.Errorf("credential is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	credCopy := *cred
	s.profiles[profileID] = &AuthProfile{
		ProfileID:  profileID,
		ProviderID: providerID,
		Credential: &credCopy,
	}
	if err := s.updateRawRecord(profileID); err != nil {
		return err
	}
	return s.persistLocked()
}

// Get returns the profile for the given id, or nil when absent.
func (s *Store) Get(profileID string) *AuthProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[profileID]
	if !ok {
		return nil
	}
	return cloneProfile(profile)
}

// Remove deletes a profile and persists the change. Removing an absent
// profile is a no-op.
func (s *Store) Remove(profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profileID]; !ok {
		return nil
	}
	delete(s.profiles, profileID)
	delete(s.rawRecords, profileID)
	return s.persistLocked()
}

// ListByProvider returns all profiles for a provider, sorted by profile id
// for deterministic output.
func (s *Store) ListByProvider(providerID string) []*AuthProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*AuthProfile
	for _, profile := range s.profiles {
		if profile.ProviderID == providerID {
			result = append(result, cloneProfile(profile))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProfileID < result[j].ProfileID })
	return result
}

// List returns every stored profile, sorted by profile id.
func (s *Store) List() []*AuthProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*AuthProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		result = append(result, cloneProfile(profile))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProfileID < result[j].ProfileID })
	return result
}

// updateRawRecord rewrites the preserved raw JSON for a profile, setting
// the fields this tool owns while leaving any foreign fields in place.
func (s *Store) updateRawRecord(profileID string) error {
	profile := s.profiles[profileID]
	raw, ok := s.rawRecords[profileID]
	if !ok {
		raw = "{}"
	}

	var err error
	if raw, err = sjson.Set(raw, "provider_id", profile.ProviderID); err != nil {
		return fmt.Errorf("failed to encode profile record: %w", err)
	}
	credJSON, err := json.Marshal(profile.Credential)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if raw, err = sjson.SetRaw(raw, "credential", string(credJSON)); err != nil {
		return fmt.Errorf("failed to encode profile record: %w", err)
	}

	s.rawRecords[profileID] = raw
	return nil
}

// persistLocked writes the whole store to disk atomically. The caller must
// hold the write lock.
func (s *Store) persistLocked() error {
	doc := fmt.Sprintf(`{"version":%d,"profiles":{}}`, FormatVersion)

	ids := make([]string, 0, len(s.rawRecords))
	for id := range s.rawRecords {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var err error
	for _, id := range ids {
		if doc, err = sjson.SetRaw(doc, "profiles."+escapeKey(id), s.rawRecords[id]); err != nil {
			return fmt.Errorf("failed to encode credential file: %w", err)
		}
	}

	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	// Temp file plus rename keeps the replace atomic; a crash mid-write
	// leaves the previous file intact.
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// escapeKey protects the sjson path syntax from separator characters in
// profile ids ("gemini:user@example.com" contains a dot).
func escapeKey(key string) string {
	escaped := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '.' || key[i] == '*' || key[i] == '?' || key[i] == '\\' || key[i] == '|' || key[i] == '#' || key[i] == '@' || key[i] == ':' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, key[i])
	}
	return string(escaped)
}

func cloneProfile(p *AuthProfile) *AuthProfile {
	clone := *p
	if p.Credential != nil {
		cred := *p.Credential
		if p.Credential.Extra != nil {
			cred.Extra = make(map[string]string, len(p.Credential.Extra))
			for k, v := range p.Credential.Extra {
				cred.Extra[k] = v
			}
		}
		clone.Credential = &cred
	}
	return &clone
}
