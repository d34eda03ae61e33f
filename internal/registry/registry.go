// Package registry holds the static descriptions of every supported
// identity provider. Providers are registered once during startup and the
// table is read-only afterwards; every other component is parameterized by
// a descriptor resolved here.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// AuthMethodKind names a supported authentication mechanism.
type AuthMethodKind string

// AuthMethodOAuthPKCE is the OAuth 2.0 authorization-code flow with PKCE.
const AuthMethodOAuthPKCE AuthMethodKind = "oauth-pkce"

// AuthMethod describes one way to authenticate against a provider, with
// the parameters an implementation of that method needs.
type AuthMethod struct {
	Kind                  AuthMethodKind
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	Scopes                []string
	RedirectURI           string
	CallbackPort          int
}

// ProviderDescriptor is the static, registry-time description of a
// provider. It is data only; behavior (usage fetching, auth flows) is
// looked up by id in the packages that implement it.
type ProviderDescriptor struct {
	ID          string
	Label       string
	Aliases     []string
	AuthMethods []AuthMethod

	// UsageEndpoint is the provider's quota/usage query URL, consumed by
	// the usage fetcher registered for this provider id.
	UsageEndpoint string
}

// OAuthMethod returns the provider's OAuth-PKCE method, or nil when the
// provider does not support it.
func (d *ProviderDescriptor) OAuthMethod() *AuthMethod {
	for i := range d.AuthMethods {
		if d.AuthMethods[i].Kind == AuthMethodOAuthPKCE {
			return &d.AuthMethods[i]
		}
	}
	return nil
}

// UnknownProviderError indicates a lookup for an id or alias no registered
// provider answers to.
type UnknownProviderError struct {
	ID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %s", e.ID)
}

// DuplicateProviderError indicates a registration collision on a provider
// id or alias. This is a configuration-time misuse.
type DuplicateProviderError struct {
	ID string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider id or alias already registered: %s", e.ID)
}

// Registry is the provider lookup table. Safe for concurrent reads; all
// registration is expected to happen during init.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderDescriptor
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*ProviderDescriptor),
		aliases:   make(map[string]string),
	}
}

// Register adds a provider descriptor. Ids and aliases share one
// namespace; any collision fails the whole registration.
func (r *Registry) Register(descriptor *ProviderDescriptor) error {
	if descriptor == nil || descriptor.ID == "" {
		return fmt.Errorf("provider descriptor requires an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := normalizeID(descriptor.ID)
	if r.taken(id) {
		return &DuplicateProviderError{ID: id}
	}
	for _, alias := range descriptor.Aliases {
		if r.taken(normalizeID(alias)) {
			return &DuplicateProviderError{ID: alias}
		}
	}

	r.providers[id] = descriptor
	for _, alias := range descriptor.Aliases {
		r.aliases[normalizeID(alias)] = id
	}
	log.Debugf("registered provider %s (aliases: %v)", id, descriptor.Aliases)
	return nil
}

// Resolve returns the descriptor for a provider id or alias.
func (r *Registry) Resolve(idOrAlias string) (*ProviderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalizeID(idOrAlias)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	descriptor, ok := r.providers[key]
	if !ok {
		return nil, &UnknownProviderError{ID: idOrAlias}
	}
	return descriptor, nil
}

// IDs returns all registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) taken(key string) bool {
	if _, ok := r.providers[key]; ok {
		return true
	}
	_, ok := r.aliases[key]
	return ok
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
