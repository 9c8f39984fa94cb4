package provider_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/clinicore/go-session/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	margin := 30 * time.Second

	var nilToken *provider.Token
	assert.False(t, nilToken.Valid(now, margin))

	assert.False(t, (&provider.Token{}).Valid(now, margin))

	noExpiry := &provider.Token{AccessToken: "tok"}
	assert.True(t, noExpiry.Valid(now, margin), "tokens without expiry stay usable")

	live := &provider.Token{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, live.Valid(now, margin))

	insideMargin := &provider.Token{AccessToken: "tok", ExpiresAt: now.Add(10 * time.Second)}
	assert.False(t, insideMargin.Valid(now, margin), "margin counts as expired")

	expired := &provider.Token{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Valid(now, margin))
}

func TestMemoryGrantStoreRoundTrip(t *testing.T) {
	store := provider.NewMemoryGrantStore()
	ctx := context.Background()

	_, err := store.Find(ctx, provider.KindEnterprise)
	require.Error(t, err)
	assert.True(t, provider.IsGrantNotFound(err))

	grant := &provider.Grant{
		Provider:     provider.KindEnterprise,
		Subject:      "subj-1",
		Email:        "doc@clinic.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, grant))

	found, err := store.Find(ctx, provider.KindEnterprise)
	require.NoError(t, err)
	assert.Equal(t, grant.Subject, found.Subject)
	assert.Equal(t, grant.RefreshToken, found.RefreshToken)

	// returned grant is a copy, mutating it must not leak back
	found.AccessToken = "tampered"
	again, err := store.Find(ctx, provider.KindEnterprise)
	require.NoError(t, err)
	assert.Equal(t, "access", again.AccessToken)

	require.NoError(t, store.Delete(ctx, provider.KindEnterprise))
	_, err = store.Find(ctx, provider.KindEnterprise)
	assert.True(t, provider.IsGrantNotFound(err))
}

func TestMemoryGrantStoreRejectsEmptyProvider(t *testing.T) {
	store := provider.NewMemoryGrantStore()

	err := store.Save(context.Background(), &provider.Grant{})
	require.Error(t, err)

	err = store.Save(context.Background(), nil)
	require.Error(t, err)
}

func TestGenerateCodeVerifierAndChallenge(t *testing.T) {
	verifier, err := provider.GenerateCodeVerifier()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(verifier), 43, "verifier meets the RFC 7636 minimum length")

	other, err := provider.GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)

	h := sha256.Sum256([]byte(verifier))
	expected := base64.RawURLEncoding.EncodeToString(h[:])
	assert.Equal(t, expected, provider.ComputeCodeChallenge(verifier))
}

func TestGenerateNonceUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		nonce := provider.GenerateNonce()
		require.NotEmpty(t, nonce)
		assert.False(t, seen[nonce])
		seen[nonce] = true
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, provider.IsCancelled(provider.ErrCancelledByUser))
	assert.True(t, provider.IsUnavailable(provider.ErrProviderUnavailable))
	assert.True(t, provider.IsInteractionRequired(provider.ErrInteractionRequired))
	assert.True(t, provider.IsTransient(provider.ErrNetworkTransient))

	assert.False(t, provider.IsCancelled(nil))
	assert.False(t, provider.IsCancelled(provider.ErrNetworkTransient))
	assert.False(t, provider.IsTransient(provider.ErrInteractionRequired))
}

func TestProviderErrorMetadata(t *testing.T) {
	perr := &provider.ProviderError{
		Provider:    provider.KindEnterprise,
		Operation:   "exchange",
		Status:      400,
		Code:        "invalid_grant",
		Description: "refresh token revoked",
	}

	assert.Contains(t, perr.Error(), "refresh token revoked")

	meta := perr.Metadata()
	assert.Equal(t, "enterprise", meta["provider"])
	assert.Equal(t, "exchange", meta["operation"])
	assert.Equal(t, "invalid_grant", meta["code"])
}
