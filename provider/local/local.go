// Package local implements the email/password adapter backed by the
// application's own backend. The exchange produces a bearer token; an
// optional invitation token rides along so the first sign-in after an
// invitation atomically redeems it server-side.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
)

const defaultExpiryMargin = 30 * time.Second

// Credentials is the interactive input for the local exchange.
type Credentials struct {
	Email       string
	Password    string
	InviteToken string
}

// CredentialSource supplies credentials for SignInInteractive, typically by
// prompting through the embedding UI. Returning provider.ErrCancelledByUser
// marks a dismissed prompt.
type CredentialSource func(ctx context.Context) (Credentials, error)

// LoginAPI is the slice of the backend client this adapter needs.
type LoginAPI interface {
	Login(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error)
}

// Config holds local adapter options.
type Config struct {
	API         LoginAPI
	Credentials CredentialSource
	Grants      provider.GrantStore
	Logger      provider.Logger
}

// Provider implements provider.Provider for the local credential source.
type Provider struct {
	api    LoginAPI
	source CredentialSource
	grants provider.GrantStore
	logger provider.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *provider.Token
}

var _ provider.Provider = (*Provider)(nil)

// New creates a local adapter.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = provider.DefaultLogger()
	}

	grants := cfg.Grants
	if grants == nil {
		grants = provider.NewMemoryGrantStore()
	}

	return &Provider{
		api:    cfg.API,
		source: cfg.Credentials,
		grants: grants,
		logger: logger,
		now:    time.Now,
	}
}

// Kind implements provider.Provider.
func (p *Provider) Kind() provider.Kind {
	return provider.KindLocal
}

// Initialize implements provider.Provider. There is no SDK behind the local
// exchange, so the adapter is always ready.
func (p *Provider) Initialize(_ context.Context) error {
	return nil
}

// SignInInteractive implements provider.Provider by prompting through the
// configured credential source.
func (p *Provider) SignInInteractive(ctx context.Context) (*provider.Identity, error) {
	if p.source == nil {
		return nil, provider.ErrProviderUnavailable.Clone().WithMetadata(map[string]any{
			"provider": string(provider.KindLocal),
			"cause":    "no credential source configured",
		})
	}

	creds, err := p.source(ctx)
	if err != nil {
		if provider.IsCancelled(err) {
			return nil, provider.ErrCancelledByUser
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "credential prompt failed")
	}

	return p.SignInWithCredentials(ctx, creds)
}

// SignInWithCredentials performs the credential exchange directly. It is the
// path invitation acceptance uses so the invite token can ride along.
func (p *Provider) SignInWithCredentials(ctx context.Context, creds Credentials) (*provider.Identity, error) {
	result, err := p.api.Login(ctx, client.LoginRequest{
		Email:       creds.Email,
		Password:    creds.Password,
		InviteToken: creds.InviteToken,
	})
	if err != nil {
		return nil, normalizeLoginError(err)
	}

	identity := identityFromResult(result, p.tokenFromBearer(result.Token))

	p.mu.Lock()
	p.current = identity.Token
	p.mu.Unlock()

	grant := &provider.Grant{
		Provider:    provider.KindLocal,
		Subject:     identity.Subject,
		Email:       identity.Email,
		AccessToken: result.Token,
		ExpiresAt:   identity.Token.ExpiresAt,
	}
	if err := p.grants.Save(ctx, grant); err != nil {
		p.logger.Warn("local grant persist failed: %v", err)
	}

	return identity, nil
}

// SignInSilent restores a session from the persisted bearer token while it is
// still live.
func (p *Provider) SignInSilent(ctx context.Context) (*provider.Identity, error) {
	grant, err := p.grants.Find(ctx, provider.KindLocal)
	if err != nil {
		if provider.IsGrantNotFound(err) {
			return nil, provider.ErrInteractionRequired
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "grant store lookup failed")
	}

	token := p.tokenFromBearer(grant.AccessToken)
	if !token.Valid(p.now(), defaultExpiryMargin) {
		_ = p.grants.Delete(ctx, provider.KindLocal)
		return nil, provider.ErrInteractionRequired
	}

	identity := &provider.Identity{
		Provider: provider.KindLocal,
		Subject:  grant.Subject,
		Email:    grant.Email,
		Token:    token,
	}
	if claims := parseClaims(grant.AccessToken); claims != nil {
		identity.Claims = claims
		if identity.Subject == "" {
			if sub, ok := claims["sub"].(string); ok {
				identity.Subject = sub
			}
		}
	}

	p.mu.Lock()
	p.current = token
	p.mu.Unlock()

	return identity, nil
}

// AccessToken implements provider.Provider. Bearer tokens have no refresh
// path; an expired token means the user must sign in again.
func (p *Provider) AccessToken(ctx context.Context) (*provider.Token, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current.Valid(p.now(), defaultExpiryMargin) {
		return current, nil
	}

	grant, err := p.grants.Find(ctx, provider.KindLocal)
	if err == nil {
		token := p.tokenFromBearer(grant.AccessToken)
		if token.Valid(p.now(), defaultExpiryMargin) {
			p.mu.Lock()
			p.current = token
			p.mu.Unlock()
			return token, nil
		}
	}

	return nil, provider.ErrInteractionRequired
}

// Shutdown implements provider.Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	if err := p.grants.Delete(ctx, provider.KindLocal); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear local grant")
	}
	return nil
}

// tokenFromBearer wraps a raw bearer token, pulling expiry from its claims
// when it happens to be a JWT. Signature verification belongs to the backend;
// the expiry here only drives local cache decisions.
func (p *Provider) tokenFromBearer(raw string) *provider.Token {
	token := &provider.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			token.ExpiresAt = exp.Time
		}
	}

	return token
}

func parseClaims(raw string) map[string]any {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

func identityFromResult(result *client.LoginResult, token *provider.Token) *provider.Identity {
	identity := &provider.Identity{
		Provider: provider.KindLocal,
		Token:    token,
	}

	if result.User != nil {
		identity.Subject = result.User.ID
		identity.Email = result.User.Email
		identity.DisplayName = result.User.DisplayName
		identity.EmailVerified = result.User.EmailVerified
	}

	if identity.Subject == "" {
		if claims := parseClaims(result.Token); claims != nil {
			if sub, ok := claims["sub"].(string); ok {
				identity.Subject = sub
			}
		}
	}

	return identity
}

func normalizeLoginError(err error) error {
	switch {
	case client.IsVerificationRequired(err):
		// surfaced as-is: valid credentials, pending verification
		return err
	case client.IsUnauthorized(err):
		return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid email or password")
	case client.IsTransient(err):
		return provider.ErrNetworkTransient.Clone().WithMetadata(map[string]any{
			"provider": string(provider.KindLocal),
			"cause":    err.Error(),
		})
	default:
		return err
	}
}
