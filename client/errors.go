package client

import goerrors "github.com/goliatone/go-errors"

const (
	TextCodeTransient            = "api_network_transient"
	TextCodeUnauthorized         = "api_unauthorized"
	TextCodeRequestFailed        = "api_request_failed"
	TextCodeInvitationInvalid    = "api_invitation_invalid"
	TextCodeVerificationRequired = "api_verification_required"
)

// ErrTransient marks a network-level or 5xx failure. Idempotent calls retry it
// once with backoff before it escapes the client.
var ErrTransient = goerrors.New("backend request failed transiently", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransient)

// ErrUnauthorized is returned on a 401: the supplied credential was rejected.
var ErrUnauthorized = goerrors.New("backend rejected credential", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrRequestFailed covers non-transient, non-auth failures (bad payloads,
// unexpected response shapes).
var ErrRequestFailed = goerrors.New("backend request failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeRequestFailed)

// ErrInvitationInvalid is returned when the backend reports an unknown,
// expired, or already-redeemed invitation token.
var ErrInvitationInvalid = goerrors.New("invitation token invalid or expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvitationInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationRequired means the credentials were valid but the account's
// email is not verified yet. Callers route to a pending-verification state
// instead of treating it as a failure.
var ErrVerificationRequired = goerrors.New("email verification required", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationRequired).
	WithCode(goerrors.CodeForbidden)

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	return hasTextCode(err, TextCodeTransient)
}

// IsUnauthorized reports whether err is a credential rejection.
func IsUnauthorized(err error) bool {
	return hasTextCode(err, TextCodeUnauthorized)
}

// IsInvitationInvalid reports whether err is an invitation validity failure.
func IsInvitationInvalid(err error) bool {
	return hasTextCode(err, TextCodeInvitationInvalid)
}

// IsVerificationRequired reports whether err is the unverified-email case.
func IsVerificationRequired(err error) bool {
	return hasTextCode(err, TextCodeVerificationRequired)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}
