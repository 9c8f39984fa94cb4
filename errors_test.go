package session_test

import (
	"testing"

	session "github.com/clinicore/go-session"
	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"Doc@Clinic.com", "doc@clinic.com"},
		{"  doc@clinic.com  ", "doc@clinic.com"},
		{" A@Co.COM ", "a@co.com"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, session.NormalizeEmail(tc.input))
	}
}

func TestEmailsMatch(t *testing.T) {
	assert.True(t, session.EmailsMatch("A@Co.com ", "a@co.com"))
	assert.True(t, session.EmailsMatch("doc@clinic.com", "DOC@CLINIC.COM"))
	assert.False(t, session.EmailsMatch("a@co.com", "b@co.com"))
	assert.False(t, session.EmailsMatch("", "a@co.com"))
	assert.False(t, session.EmailsMatch("a@co.com", ""))
	assert.False(t, session.EmailsMatch("   ", " "), "whitespace-only addresses never match")
	assert.False(t, session.EmailsMatch(" ", "a@co.com"))
}

func TestIsIdentityMismatch(t *testing.T) {
	err := session.ErrIdentityMismatch.Clone().WithMetadata(map[string]any{
		"invitation_email": "a@co.com",
	})

	assert.True(t, session.IsIdentityMismatch(err))
	assert.False(t, session.IsIdentityMismatch(nil))
	assert.False(t, session.IsIdentityMismatch(provider.ErrCancelledByUser))
}

func TestPredicatesSpanPackages(t *testing.T) {
	assert.True(t, session.IsCancelled(provider.ErrCancelledByUser))
	assert.True(t, session.IsInteractionRequired(provider.ErrInteractionRequired))
	assert.True(t, session.IsTransient(provider.ErrNetworkTransient))
	assert.True(t, session.IsTransient(client.ErrTransient))
	assert.True(t, session.IsVerificationRequired(client.ErrVerificationRequired))

	assert.False(t, session.IsTransient(client.ErrUnauthorized))
	assert.False(t, session.IsCancelled(client.ErrRequestFailed))
}
