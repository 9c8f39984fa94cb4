package session

import (
	"strings"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
	goerrors "github.com/goliatone/go-errors"
)

const textCodeIdentityMismatch = "session_identity_mismatch"

// ErrIdentityMismatch is returned when the authenticated account does not
// match the identity an operation was addressed to, typically an invitation
// issued to a different email.
var ErrIdentityMismatch = goerrors.New("signed-in account does not match the expected identity", goerrors.CategoryAuth).
	WithTextCode(textCodeIdentityMismatch).
	WithCode(goerrors.CodeForbidden)

// IsIdentityMismatch reports whether err carries the identity mismatch code.
func IsIdentityMismatch(err error) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCodeIdentityMismatch
}

// IsCancelled reports whether a sign-in was abandoned by the user.
func IsCancelled(err error) bool {
	return provider.IsCancelled(err)
}

// IsInteractionRequired reports whether silent authentication cannot proceed
// without a visible prompt.
func IsInteractionRequired(err error) bool {
	return provider.IsInteractionRequired(err)
}

// IsTransient reports whether err is a retryable provider or backend failure.
func IsTransient(err error) bool {
	return provider.IsTransient(err) || client.IsTransient(err)
}

// IsVerificationRequired reports whether the account exists but cannot sign
// in until its email address is verified.
func IsVerificationRequired(err error) bool {
	return client.IsVerificationRequired(err)
}

// NormalizeEmail lowercases and trims an address so identities from different
// sources compare consistently.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailsMatch compares two addresses after normalization. An address that is
// empty once normalized never matches anything.
func EmailsMatch(a, b string) bool {
	na, nb := NormalizeEmail(a), NormalizeEmail(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}
