// Package consumer implements the personal-account OAuth adapter. The
// interactive flow is popup-based: the identity arrives asynchronously
// relative to the triggering click, so the adapter waits a bounded number of
// ticks for it to materialize.
package consumer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/clinicore/go-session/provider"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultRevokeURL   = "https://oauth2.googleapis.com/revoke"

	// The pending wait is a tunable, not a load-bearing constant.
	defaultPendingTick     = 250 * time.Millisecond
	defaultPendingMaxTicks = 20

	defaultExpiryMargin = 30 * time.Second
)

// LaunchFunc opens the provider popup for the given URL and returns without
// waiting for it. The redirect result comes back through
// CompleteAuthorization.
type LaunchFunc func(ctx context.Context, authURL string) error

// CallbackResult carries the fragment parameters of a completed popup.
type CallbackResult struct {
	State       string
	AccessToken string
	TokenType   string
	ExpiresIn   int
	Error       string
}

// Config holds consumer OAuth options.
type Config struct {
	ClientID    string
	CallbackURL string
	Scopes      []string

	AuthURL     string
	UserInfoURL string
	RevokeURL   string

	// PendingTickInterval and PendingMaxTicks bound how long an interactive
	// attempt waits for the popup identity to materialize.
	PendingTickInterval time.Duration
	PendingMaxTicks     int

	Launch     LaunchFunc
	Grants     provider.GrantStore
	HTTPClient *http.Client
	Logger     provider.Logger
}

// DefaultScopes returns the default consumer scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements provider.Provider for the consumer OAuth source.
type Provider struct {
	config     Config
	logger     provider.Logger
	grants     provider.GrantStore
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]*CallbackResult
	current *provider.Token
}

var _ provider.Provider = (*Provider)(nil)

// New creates a consumer adapter.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
	}
	if cfg.PendingTickInterval == 0 {
		cfg.PendingTickInterval = defaultPendingTick
	}
	if cfg.PendingMaxTicks == 0 {
		cfg.PendingMaxTicks = defaultPendingMaxTicks
	}

	logger := cfg.Logger
	if logger == nil {
		logger = provider.DefaultLogger()
	}

	grants := cfg.Grants
	if grants == nil {
		grants = provider.NewMemoryGrantStore()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		config:     cfg,
		logger:     logger,
		grants:     grants,
		httpClient: httpClient,
		now:        time.Now,
		pending:    map[string]*CallbackResult{},
	}
}

// Kind implements provider.Provider.
func (p *Provider) Kind() provider.Kind {
	return provider.KindConsumer
}

// Initialize implements provider.Provider. The consumer flow has no SDK to
// warm up; the adapter is always ready.
func (p *Provider) Initialize(_ context.Context) error {
	return nil
}

// AuthCodeURL builds the popup authorization URL for the given state.
func (p *Provider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.CallbackURL},
		"response_type": {"token"},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}

	return p.config.AuthURL + "?" + params.Encode()
}

// CompleteAuthorization delivers a finished popup result to the adapter. The
// embedding UI calls this from its redirect/fragment handler.
func (p *Provider) CompleteAuthorization(result CallbackResult) {
	if result.State == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cloned := result
	p.pending[result.State] = &cloned
}

// SignInInteractive implements provider.Provider. It launches the popup and
// polls a bounded number of ticks for the identity to materialize.
func (p *Provider) SignInInteractive(ctx context.Context) (*provider.Identity, error) {
	if p.config.Launch == nil {
		return nil, provider.ErrProviderUnavailable.Clone().WithMetadata(map[string]any{
			"provider": string(provider.KindConsumer),
			"cause":    "no launch callback configured",
		})
	}

	state := provider.GenerateNonce()
	if err := p.config.Launch(ctx, p.AuthCodeURL(state)); err != nil {
		if provider.IsCancelled(err) || stderrors.Is(err, context.Canceled) {
			return nil, provider.ErrCancelledByUser
		}
		return nil, provider.ErrNetworkTransient.Clone().WithMetadata(map[string]any{
			"provider": string(provider.KindConsumer),
			"cause":    err.Error(),
		})
	}

	result, err := p.awaitCallback(ctx, state)
	if err != nil {
		return nil, err
	}

	if result.Error != "" {
		if result.Error == "access_denied" {
			return nil, provider.ErrCancelledByUser
		}
		perr := &provider.ProviderError{
			Provider:  provider.KindConsumer,
			Operation: "authorize",
			Code:      result.Error,
		}
		return nil, goerrors.Wrap(perr, goerrors.CategoryAuth, "consumer authorization rejected").
			WithMetadata(perr.Metadata())
	}

	token := &provider.Token{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
	}
	if result.ExpiresIn > 0 {
		token.ExpiresAt = p.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	return p.adopt(ctx, token)
}

// SignInSilent restores a session from the stored grant while its token is
// still live. The implicit flow issues no refresh token, so an expired grant
// means interaction is required.
func (p *Provider) SignInSilent(ctx context.Context) (*provider.Identity, error) {
	grant, err := p.grants.Find(ctx, provider.KindConsumer)
	if err != nil {
		if provider.IsGrantNotFound(err) {
			return nil, provider.ErrInteractionRequired
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "grant store lookup failed")
	}

	token := &provider.Token{
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
	}
	if !token.Valid(p.now(), defaultExpiryMargin) {
		_ = p.grants.Delete(ctx, provider.KindConsumer)
		return nil, provider.ErrInteractionRequired
	}

	return p.adopt(ctx, token)
}

// AccessToken implements provider.Provider.
func (p *Provider) AccessToken(ctx context.Context) (*provider.Token, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current.Valid(p.now(), defaultExpiryMargin) {
		return current, nil
	}

	grant, err := p.grants.Find(ctx, provider.KindConsumer)
	if err == nil {
		token := &provider.Token{
			AccessToken: grant.AccessToken,
			ExpiresAt:   grant.ExpiresAt,
		}
		if token.Valid(p.now(), defaultExpiryMargin) {
			p.mu.Lock()
			p.current = token
			p.mu.Unlock()
			return token, nil
		}
	}

	return nil, provider.ErrInteractionRequired
}

// Shutdown implements provider.Provider. Revocation is best effort; the grant
// is always cleared.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.pending = map[string]*CallbackResult{}
	p.mu.Unlock()

	if current != nil && current.AccessToken != "" {
		p.revoke(ctx, current.AccessToken)
	}

	if err := p.grants.Delete(ctx, provider.KindConsumer); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear consumer grant")
	}
	return nil
}

func (p *Provider) awaitCallback(ctx context.Context, state string) (*CallbackResult, error) {
	ticker := time.NewTicker(p.config.PendingTickInterval)
	defer ticker.Stop()

	for tick := 0; tick < p.config.PendingMaxTicks; tick++ {
		p.mu.Lock()
		result, ok := p.pending[state]
		if ok {
			delete(p.pending, state)
		}
		p.mu.Unlock()

		if ok {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, provider.ErrCancelledByUser
		case <-ticker.C:
		}
	}

	return nil, provider.ErrProviderUnavailable.Clone().WithMetadata(map[string]any{
		"provider": string(provider.KindConsumer),
		"cause":    "popup identity did not materialize within the pending window",
	})
}

func (p *Provider) adopt(ctx context.Context, token *provider.Token) (*provider.Identity, error) {
	profile, err := p.userInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	identity := &provider.Identity{
		Provider:      provider.KindConsumer,
		Subject:       profile.Subject,
		Email:         profile.Email,
		DisplayName:   profile.Name,
		EmailVerified: profile.EmailVerified,
		Claims:        profile.raw,
		Token:         token,
	}

	p.mu.Lock()
	p.current = token
	p.mu.Unlock()

	grant := &provider.Grant{
		Provider:    provider.KindConsumer,
		Subject:     identity.Subject,
		Email:       identity.Email,
		AccessToken: token.AccessToken,
		ExpiresAt:   token.ExpiresAt,
	}
	if err := p.grants.Save(ctx, grant); err != nil {
		p.logger.Warn("consumer grant persist failed: %v", err)
	}

	return identity, nil
}

type userInfoResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`

	raw map[string]any
}

func (p *Provider) userInfo(ctx context.Context, token *provider.Token) (*userInfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.ErrNetworkTransient.Clone().WithMetadata(map[string]any{
			"provider":  string(provider.KindConsumer),
			"operation": "user_info",
			"cause":     err.Error(),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.ErrNetworkTransient.Clone().WithMetadata(map[string]any{
			"provider":  string(provider.KindConsumer),
			"operation": "user_info",
			"cause":     err.Error(),
		})
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, provider.ErrInteractionRequired
	}
	if resp.StatusCode != http.StatusOK {
		perr := &provider.ProviderError{
			Provider:  provider.KindConsumer,
			Operation: "user_info",
			Status:    resp.StatusCode,
		}
		return nil, goerrors.Wrap(perr, goerrors.CategoryAuth, "consumer userinfo request failed").
			WithMetadata(perr.Metadata())
	}

	info := &userInfoResponse{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode userinfo response")
	}

	raw := map[string]any{}
	_ = json.Unmarshal(body, &raw)
	info.raw = raw

	if info.Name == "" && info.GivenName != "" {
		info.Name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}

	return info, nil
}

func (p *Provider) revoke(ctx context.Context, accessToken string) {
	data := url.Values{"token": {accessToken}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("consumer token revoke failed: %v", err)
		return
	}
	_ = resp.Body.Close()
}
