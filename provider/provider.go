package provider

import (
	"context"
	"time"
)

// Kind identifies an identity source. The magic-link kind never has an
// adapter behind it; it exists so sessions minted from invitation redemption
// carry a provider value like everyone else.
type Kind string

const (
	KindNone       Kind = "none"
	KindEnterprise Kind = "enterprise"
	KindConsumer   Kind = "consumer"
	KindLocal      Kind = "local"
	KindMagicLink  Kind = "magic-link"
)

// SignInMode distinguishes interactive (popup/redirect) sign-in attempts
// from silent ones that must not prompt the user.
type SignInMode string

const (
	ModeInteractive SignInMode = "interactive"
	ModeSilent      SignInMode = "silent"
)

// Provider is the capability contract every identity adapter implements.
// Callers depend on this contract only; provider quirks stay behind it and
// errors crossing the boundary are always normalized, never raw SDK errors.
type Provider interface {
	// Kind returns the adapter's identity source.
	Kind() Kind

	// Initialize prepares the adapter (discovery, key fetch, cache warmup).
	// A slow or failing initialization degrades the adapter but must never
	// be treated as fatal by callers.
	Initialize(ctx context.Context) error

	// SignInInteractive runs the provider's interactive flow.
	// User cancellation returns ErrCancelledByUser.
	SignInInteractive(ctx context.Context) (*Identity, error)

	// SignInSilent attempts a non-interactive sign-in from a cached grant.
	// Returns ErrInteractionRequired when no usable grant exists.
	SignInSilent(ctx context.Context) (*Identity, error)

	// AccessToken returns a token usable against the backend API, renewing
	// silently when the cached one is stale. Only when the silent path is
	// exhausted does it surface ErrInteractionRequired.
	AccessToken(ctx context.Context) (*Token, error)

	// Shutdown releases the provider-level session. It is the teardown half
	// of the single active-provider discipline.
	Shutdown(ctx context.Context) error
}

// Token is a normalized provider-issued credential.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// Valid reports whether the token is usable at the given instant, keeping
// the supplied safety margin before expiry.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// Identity is the provider-native account shape collapsed into the fields
// the session layer needs. Claims keeps the raw provider payload for
// debugging and claim mapping.
type Identity struct {
	Provider      Kind
	Subject       string
	Email         string
	DisplayName   string
	EmailVerified bool
	Claims        map[string]any
	Token         *Token
}
