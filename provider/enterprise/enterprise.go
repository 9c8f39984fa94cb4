// Package enterprise implements the SSO adapter: OpenID Connect with the
// authorization-code + PKCE flow for organizational accounts.
package enterprise

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"

	"github.com/clinicore/go-session/provider"
)

const (
	defaultInitTimeout  = 5 * time.Second
	defaultExpiryMargin = 30 * time.Second
)

// AuthorizeResult carries the redirect parameters the embedding UI collected
// after the user completed the hosted sign-in page.
type AuthorizeResult struct {
	Code  string
	State string
}

// AuthorizeFunc hands the authorization URL to the embedding UI and blocks
// until the redirect completes, the user cancels, or ctx expires. Returning
// provider.ErrCancelledByUser (or a wrapping of it) marks cancellation.
type AuthorizeFunc func(ctx context.Context, authURL string) (AuthorizeResult, error)

// Config holds enterprise SSO options.
type Config struct {
	ClientID    string
	IssuerURL   string
	RedirectURL string
	Scopes      []string

	// InitTimeout bounds OIDC discovery. A slow tenant degrades the adapter
	// instead of hanging app startup.
	InitTimeout time.Duration

	Authorize  AuthorizeFunc
	Grants     provider.GrantStore
	HTTPClient *http.Client
	Logger     provider.Logger

	// Validator, when set, verifies issued access tokens against the tenant
	// JWKS before they are adopted.
	Validator *TokenValidator
}

// Provider implements provider.Provider for the enterprise OIDC source.
type Provider struct {
	config Config
	logger provider.Logger
	grants provider.GrantStore
	now    func() time.Time

	mu          sync.Mutex
	oidc        *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	oauth2cfg   *oauth2.Config
	current     *oauth2.Token
	initialized bool
	unavailable bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates an enterprise adapter. Discovery happens in Initialize, not
// here, so construction never blocks.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "email", "profile", oidc.ScopeOfflineAccess}
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = defaultInitTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = provider.DefaultLogger()
	}

	grants := cfg.Grants
	if grants == nil {
		grants = provider.NewMemoryGrantStore()
	}

	return &Provider{
		config: cfg,
		logger: logger,
		grants: grants,
		now:    time.Now,
	}
}

// Kind implements provider.Provider.
func (p *Provider) Kind() provider.Kind {
	return provider.KindEnterprise
}

// Initialize runs OIDC discovery bounded by InitTimeout. Failure marks the
// adapter unavailable but is never fatal to the embedding app.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.config.InitTimeout)
	defer cancel()

	if p.config.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, p.config.HTTPClient)
	}

	discovered, err := oidc.NewProvider(ctx, p.config.IssuerURL)
	if err != nil {
		p.mu.Lock()
		p.unavailable = true
		p.mu.Unlock()

		p.logger.Warn("enterprise discovery failed, adapter degraded: %v", err)
		return unavailable("discovery", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.oidc = discovered
	p.verifier = discovered.Verifier(&oidc.Config{ClientID: p.config.ClientID})
	p.oauth2cfg = &oauth2.Config{
		ClientID:    p.config.ClientID,
		Endpoint:    discovered.Endpoint(),
		RedirectURL: p.config.RedirectURL,
		Scopes:      p.config.Scopes,
	}
	p.initialized = true
	p.unavailable = false

	return nil
}

// SignInInteractive implements provider.Provider. The embedding UI completes
// the hosted redirect through the Authorize callback; PKCE protects the code
// exchange since this is a public client.
func (p *Provider) SignInInteractive(ctx context.Context) (*provider.Identity, error) {
	cfg, err := p.ready()
	if err != nil {
		return nil, err
	}

	if p.config.Authorize == nil {
		return nil, unavailable("authorize", stderrors.New("no authorize callback configured"))
	}

	verifier, err := provider.GenerateCodeVerifier()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	state := provider.GenerateNonce()
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", provider.ComputeCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	result, err := p.config.Authorize(ctx, authURL)
	if err != nil {
		if provider.IsCancelled(err) || stderrors.Is(err, context.Canceled) {
			return nil, provider.ErrCancelledByUser
		}
		return nil, normalizeOAuthError("authorize", err)
	}

	if result.State != state {
		return nil, goerrors.New("oauth state mismatch", goerrors.CategoryAuth).
			WithTextCode("session_state_mismatch")
	}

	token, err := cfg.Exchange(ctx, result.Code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return nil, normalizeOAuthError("exchange", err)
	}

	return p.adopt(ctx, token)
}

// SignInSilent restores a session from the stored grant using the refresh
// token, without any user interaction.
func (p *Provider) SignInSilent(ctx context.Context) (*provider.Identity, error) {
	cfg, err := p.ready()
	if err != nil {
		return nil, err
	}

	grant, err := p.grants.Find(ctx, provider.KindEnterprise)
	if err != nil {
		if provider.IsGrantNotFound(err) {
			return nil, provider.ErrInteractionRequired
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "grant store lookup failed")
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Expiry:       grant.ExpiresAt,
	})

	token, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			// stale refresh token: forget it so the next attempt goes
			// straight to the interactive path
			_ = p.grants.Delete(ctx, provider.KindEnterprise)
			return nil, provider.ErrInteractionRequired
		}
		return nil, normalizeOAuthError("refresh", err)
	}

	return p.adopt(ctx, token)
}

// AccessToken serves the cached token while valid and otherwise renews it
// silently. Only an exhausted silent path surfaces ErrInteractionRequired.
func (p *Provider) AccessToken(ctx context.Context) (*provider.Token, error) {
	p.mu.Lock()
	current := p.current
	cfg := p.oauth2cfg
	p.mu.Unlock()

	if cfg == nil {
		return nil, provider.ErrProviderUnavailable
	}

	if current != nil && current.AccessToken != "" && p.now().Add(defaultExpiryMargin).Before(current.Expiry) {
		return normalizeToken(current), nil
	}

	refresh := ""
	if current != nil {
		refresh = current.RefreshToken
	}
	if refresh == "" {
		grant, err := p.grants.Find(ctx, provider.KindEnterprise)
		if err != nil {
			return nil, provider.ErrInteractionRequired
		}
		refresh = grant.RefreshToken
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	token, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, provider.ErrInteractionRequired
		}
		return nil, normalizeOAuthError("refresh", err)
	}

	p.mu.Lock()
	p.current = token
	p.mu.Unlock()

	return normalizeToken(token), nil
}

// Shutdown implements provider.Provider. Clears provider-level session state
// and the stored grant so nothing survives for the next identity.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	if err := p.grants.Delete(ctx, provider.KindEnterprise); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear enterprise grant")
	}
	return nil
}

// adopt verifies the ID token, maps claims into the normalized identity, and
// persists the refreshed grant.
func (p *Provider) adopt(ctx context.Context, token *oauth2.Token) (*provider.Identity, error) {
	identity, err := p.identityFromToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if p.config.Validator != nil {
		if _, err := p.config.Validator.Validate(token.AccessToken); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.current = token
	p.mu.Unlock()

	grant := &provider.Grant{
		Provider:     provider.KindEnterprise,
		Subject:      identity.Subject,
		Email:        identity.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := p.grants.Save(ctx, grant); err != nil {
		p.logger.Warn("enterprise grant persist failed: %v", err)
	}

	return identity, nil
}

func (p *Provider) identityFromToken(ctx context.Context, token *oauth2.Token) (*provider.Identity, error) {
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken != "" {
		idToken, err := p.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, unavailable("verify", err)
		}

		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, unavailable("claims", err)
		}

		return mapIdentity(idToken.Subject, claims, token), nil
	}

	// refresh responses may omit the id_token; fall back to userinfo
	info, err := p.oidc.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, normalizeOAuthError("userinfo", err)
	}

	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, unavailable("claims", err)
	}

	return mapIdentity(info.Subject, claims, token), nil
}

func (p *Provider) ready() (*oauth2.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized || p.oauth2cfg == nil {
		return nil, provider.ErrProviderUnavailable
	}
	return p.oauth2cfg, nil
}

func normalizeToken(token *oauth2.Token) *provider.Token {
	return &provider.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

func mapIdentity(subject string, claims map[string]any, token *oauth2.Token) *provider.Identity {
	identity := &provider.Identity{
		Provider: provider.KindEnterprise,
		Subject:  subject,
		Claims:   claims,
		Token:    normalizeToken(token),
	}

	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if name, ok := claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if identity.DisplayName == "" {
		if given, ok := claims["given_name"].(string); ok {
			identity.DisplayName = given
			if family, ok := claims["family_name"].(string); ok && family != "" {
				identity.DisplayName = given + " " + family
			}
		}
	}

	return identity
}

func isInvalidGrant(err error) bool {
	var retrieve *oauth2.RetrieveError
	if stderrors.As(err, &retrieve) {
		return retrieve.ErrorCode == "invalid_grant" ||
			retrieve.ErrorCode == "interaction_required" ||
			retrieve.ErrorCode == "login_required" ||
			retrieve.ErrorCode == "consent_required"
	}
	return false
}

func normalizeOAuthError(operation string, err error) error {
	var retrieve *oauth2.RetrieveError
	if stderrors.As(err, &retrieve) {
		perr := &provider.ProviderError{
			Provider:    provider.KindEnterprise,
			Operation:   operation,
			Code:        retrieve.ErrorCode,
			Description: retrieve.ErrorDescription,
			Err:         err,
		}
		if retrieve.Response != nil {
			perr.Status = retrieve.Response.StatusCode
		}
		return goerrors.Wrap(perr, goerrors.CategoryAuth, "enterprise token request rejected").
			WithMetadata(perr.Metadata())
	}

	return provider.ErrNetworkTransient.Clone().WithMetadata(map[string]any{
		"provider":  string(provider.KindEnterprise),
		"operation": operation,
		"cause":     err.Error(),
	})
}

func unavailable(operation string, err error) error {
	return provider.ErrProviderUnavailable.Clone().WithMetadata(map[string]any{
		"provider":  string(provider.KindEnterprise),
		"operation": operation,
		"cause":     err.Error(),
	})
}
