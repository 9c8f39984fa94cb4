package session

import (
	"context"
	"sync"
	"time"

	"github.com/clinicore/go-session/provider"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultExpiryMargin = 30 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
)

// TokenManager serves access tokens for the active providers. Tokens are
// cached per provider kind and refreshed through the provider only when the
// cached copy is missing or inside the expiry margin. A transient provider
// failure is retried once after a short backoff.
type TokenManager struct {
	mu      sync.Mutex
	cache   map[provider.Kind]*provider.Token
	margin  time.Duration
	backoff time.Duration
	logger  Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithExpiryMargin sets how long before expiry a cached token is considered
// stale and refreshed ahead of use.
func WithExpiryMargin(margin time.Duration) TokenManagerOption {
	return func(tm *TokenManager) {
		if margin > 0 {
			tm.margin = margin
		}
	}
}

// WithRetryBackoff sets the pause between the first failed provider call and
// the single retry.
func WithRetryBackoff(backoff time.Duration) TokenManagerOption {
	return func(tm *TokenManager) {
		if backoff > 0 {
			tm.backoff = backoff
		}
	}
}

// WithTokenLogger sets the logger used for refresh diagnostics.
func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(tm *TokenManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// NewTokenManager creates a TokenManager with the default expiry margin and
// retry backoff.
func NewTokenManager(opts ...TokenManagerOption) *TokenManager {
	tm := &TokenManager{
		cache:   make(map[provider.Kind]*provider.Token),
		margin:  defaultExpiryMargin,
		backoff: defaultRetryBackoff,
		logger:  provider.DefaultLogger(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// AccessToken returns a usable access token for p, preferring the cached copy
// when it is still outside the expiry margin.
func (tm *TokenManager) AccessToken(ctx context.Context, p provider.Provider) (*provider.Token, error) {
	if p == nil {
		return nil, goerrors.New("token manager requires a provider", goerrors.CategoryBadInput)
	}

	kind := p.Kind()

	tm.mu.Lock()
	cached := tm.cache[kind]
	tm.mu.Unlock()

	if cached.Valid(tm.now(), tm.margin) {
		return cached, nil
	}

	token, err := tm.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	tm.cache[kind] = token
	tm.mu.Unlock()

	return token, nil
}

// Prime seeds the cache with a token obtained outside the manager, such as
// the token returned by an interactive sign-in.
func (tm *TokenManager) Prime(kind provider.Kind, token *provider.Token) {
	if token == nil {
		return
	}
	tm.mu.Lock()
	tm.cache[kind] = token
	tm.mu.Unlock()
}

// Invalidate drops the cached token for kind so the next request goes back
// to the provider.
func (tm *TokenManager) Invalidate(kind provider.Kind) {
	tm.mu.Lock()
	delete(tm.cache, kind)
	tm.mu.Unlock()
}

// Reset drops every cached token.
func (tm *TokenManager) Reset() {
	tm.mu.Lock()
	tm.cache = make(map[provider.Kind]*provider.Token)
	tm.mu.Unlock()
}

func (tm *TokenManager) fetch(ctx context.Context, p provider.Provider) (*provider.Token, error) {
	token, err := p.AccessToken(ctx)
	if err == nil {
		return token, nil
	}

	if !provider.IsTransient(err) {
		return nil, err
	}

	tm.logger.Warn("token refresh hit a transient failure, retrying once provider=%s error=%v", p.Kind(), err)

	if serr := tm.sleep(ctx, tm.backoff); serr != nil {
		return nil, serr
	}

	token, rerr := p.AccessToken(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return token, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
