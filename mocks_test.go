package session_test

import (
	"context"
	"sync/atomic"

	session "github.com/clinicore/go-session"
	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
)

// stubProvider is a hand-rolled provider with overridable behavior and call
// counters for the paths under test.
type stubProvider struct {
	kind provider.Kind

	initializeFn  func(ctx context.Context) error
	interactiveFn func(ctx context.Context) (*provider.Identity, error)
	silentFn      func(ctx context.Context) (*provider.Identity, error)
	accessTokenFn func(ctx context.Context) (*provider.Token, error)
	shutdownFn    func(ctx context.Context) error

	accessTokenCalls atomic.Int32
	shutdownCalls    atomic.Int32
}

func newStubProvider(kind provider.Kind) *stubProvider {
	return &stubProvider{kind: kind}
}

func (s *stubProvider) Kind() provider.Kind { return s.kind }

func (s *stubProvider) Initialize(ctx context.Context) error {
	if s.initializeFn != nil {
		return s.initializeFn(ctx)
	}
	return nil
}

func (s *stubProvider) SignInInteractive(ctx context.Context) (*provider.Identity, error) {
	if s.interactiveFn != nil {
		return s.interactiveFn(ctx)
	}
	return nil, provider.ErrProviderUnavailable
}

func (s *stubProvider) SignInSilent(ctx context.Context) (*provider.Identity, error) {
	if s.silentFn != nil {
		return s.silentFn(ctx)
	}
	return nil, provider.ErrInteractionRequired
}

func (s *stubProvider) AccessToken(ctx context.Context) (*provider.Token, error) {
	s.accessTokenCalls.Add(1)
	if s.accessTokenFn != nil {
		return s.accessTokenFn(ctx)
	}
	return nil, provider.ErrInteractionRequired
}

func (s *stubProvider) Shutdown(ctx context.Context) error {
	s.shutdownCalls.Add(1)
	if s.shutdownFn != nil {
		return s.shutdownFn(ctx)
	}
	return nil
}

// stubProfileAPI counts calls and returns a canned profile.
type stubProfileAPI struct {
	profileFn func(ctx context.Context, cred client.Credential) (*client.Profile, error)
	calls     atomic.Int32
}

func (s *stubProfileAPI) Profile(ctx context.Context, cred client.Credential) (*client.Profile, error) {
	s.calls.Add(1)
	if s.profileFn != nil {
		return s.profileFn(ctx, cred)
	}
	return &client.Profile{ID: "usr-1", Email: "doc@clinic.com", Role: client.RoleUser}, nil
}

func testIdentity(kind provider.Kind, email string) *provider.Identity {
	return &provider.Identity{
		Provider:      kind,
		Subject:       "subj-" + string(kind),
		Email:         email,
		DisplayName:   "Doc Holliday",
		EmailVerified: true,
		Token: &provider.Token{
			AccessToken: "access-" + string(kind),
			TokenType:   "Bearer",
		},
	}
}

func testProfile(email string, role session.Role) *client.Profile {
	return &client.Profile{
		ID:             "usr-1",
		DisplayName:    "Doc Holliday",
		Email:          email,
		Role:           role,
		OrganizationID: "org-1",
		EmailVerified:  true,
		Status:         client.AccountStatusActive,
	}
}
