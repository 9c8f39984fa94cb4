package provider

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Grant is the persisted residue of a previous sign-in: enough material for a
// silent restore without an interactive prompt.
type Grant struct {
	Provider     Kind
	Subject      string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ErrGrantNotFound is returned when no grant is stored for a provider.
var ErrGrantNotFound = goerrors.New("no stored grant", goerrors.CategoryNotFound).
	WithTextCode("session_grant_not_found").
	WithCode(goerrors.CodeNotFound)

// IsGrantNotFound reports whether err means the store had nothing for the
// requested provider.
func IsGrantNotFound(err error) bool {
	return hasTextCode(err, "session_grant_not_found")
}

// GrantStore persists grants between runs. Implementations must be safe for
// concurrent use.
type GrantStore interface {
	Save(ctx context.Context, grant *Grant) error
	Find(ctx context.Context, kind Kind) (*Grant, error)
	Delete(ctx context.Context, kind Kind) error
}

// MemoryGrantStore is the default in-process store. Grants do not survive a
// restart; use a persistent store for silent restore across launches.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[Kind]*Grant
}

// NewMemoryGrantStore creates an empty in-memory grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: map[Kind]*Grant{}}
}

// Save implements GrantStore.
func (s *MemoryGrantStore) Save(_ context.Context, grant *Grant) error {
	if grant == nil || grant.Provider == "" {
		return goerrors.New("grant requires a provider", goerrors.CategoryBadInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *grant
	s.grants[grant.Provider] = &cloned
	return nil
}

// Find implements GrantStore.
func (s *MemoryGrantStore) Find(_ context.Context, kind Kind) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[kind]
	if !ok {
		return nil, ErrGrantNotFound
	}

	cloned := *grant
	return &cloned, nil
}

// Delete implements GrantStore.
func (s *MemoryGrantStore) Delete(_ context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, kind)
	return nil
}
