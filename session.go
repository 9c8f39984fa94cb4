package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
)

// Status is the session lifecycle state.
type Status string

const (
	// StatusUninitialized means Initialize has not run yet.
	StatusUninitialized Status = "uninitialized"
	// StatusAuthenticating means a provider sign-in is in flight.
	StatusAuthenticating Status = "authenticating"
	// StatusSyncing means a provider identity exists and the authoritative
	// backend profile is being fetched.
	StatusSyncing Status = "syncing"
	// StatusAuthenticated means provider identity and backend profile are
	// merged and published.
	StatusAuthenticated Status = "authenticated"
	// StatusUnauthenticated means no session: reached only via explicit
	// sign-out, user cancellation, or an initial probe finding nothing.
	StatusUnauthenticated Status = "unauthenticated"
	// StatusError means the current attempt failed with a surfaced error.
	StatusError Status = "error"
)

// Session is the single source of truth the rest of the app reads. Snapshots
// are immutable; only the Store produces them.
type Session struct {
	Status   Status
	Provider provider.Kind

	// Account is the provider-native identity, present only while a
	// provider is active.
	Account *provider.Identity

	// Profile is the authoritative backend record merged during syncing.
	Profile *client.Profile

	// IsLoading is true while a check is in flight; IsAuthReady flips true
	// once initialization has concluded at least once. Route guards need
	// both to tell "still checking" from "checked and not signed in".
	IsLoading   bool
	IsAuthReady bool

	// Err holds the surfaced failure while Status == StatusError, or the
	// rejection that pushed a sign-in back to unauthenticated.
	Err error
}

// Authenticated reports whether the session carries a signed-in user.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// VerificationPending reports whether the signed-in account still has an
// unverified email. It is a routing hint, not a failure.
func (s Session) VerificationPending() bool {
	return s.Profile != nil && !s.Profile.EmailVerified
}

// Role returns the backend role, or RoleUser when no profile is merged yet.
func (s Session) Role() Role {
	if s.Profile == nil {
		return RoleUser
	}
	if role, ok := ParseRole(s.Profile.Role); ok {
		return role
	}
	return RoleUser
}

// HasRole checks if the session's backend role equals the given role.
func (s Session) HasRole(role Role) bool {
	return s.Profile != nil && s.Profile.Role == role
}

// IsAtLeast checks if the session's role meets the minimum required level.
func (s Session) IsAtLeast(minRole Role) bool {
	return RoleAtLeast(s.Role(), minRole)
}

func (s Session) String() string {
	email := "<none>"
	if s.Profile != nil {
		email = s.Profile.Email
	} else if s.Account != nil {
		email = s.Account.Email
	}
	return fmt.Sprintf(
		"status=%s provider=%s email=%s loading=%t ready=%t",
		s.Status,
		s.Provider,
		email,
		s.IsLoading,
		s.IsAuthReady,
	)
}

// MagicSession is a bearer session issued directly from invitation
// redemption, bypassing the three standard providers.
type MagicSession struct {
	Token     string
	ExpiresAt time.Time
}

// NewMagicSession wraps a redeemed session token, pulling expiry from its
// claims when the token is a JWT.
func NewMagicSession(token string) *MagicSession {
	ms := &MagicSession{Token: token}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			ms.ExpiresAt = exp.Time
		}
	}

	return ms
}

// Expired reports whether the magic session is past its expiry, when known.
func (m *MagicSession) Expired(now time.Time) bool {
	if m == nil || m.Token == "" {
		return true
	}
	if m.ExpiresAt.IsZero() {
		return false
	}
	return now.After(m.ExpiresAt)
}
