package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
	"github.com/clinicore/go-session/provider/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoginAPI struct {
	loginFn func(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error)
	last    client.LoginRequest
	calls   int
}

func (f *fakeLoginAPI) Login(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error) {
	f.calls++
	f.last = req
	if f.loginFn != nil {
		return f.loginFn(ctx, req)
	}
	return nil, client.ErrUnauthorized
}

func signedBearer(t *testing.T, email string, expiry time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "usr-1",
		"email": email,
		"exp":   expiry.Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return raw
}

func loginOK(t *testing.T, email string) func(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error) {
	return func(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error) {
		return &client.LoginResult{
			Token: signedBearer(t, email, time.Now().Add(time.Hour)),
			User: &client.Profile{
				ID:    "usr-1",
				Email: email,
				Role:  client.RoleUser,
			},
		}, nil
	}
}

func TestSignInWithCredentials(t *testing.T) {
	api := &fakeLoginAPI{loginFn: loginOK(t, "doc@clinic.com")}
	p := local.New(local.Config{API: api})

	identity, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "pw",
	})
	require.NoError(t, err)

	assert.Equal(t, provider.KindLocal, identity.Provider)
	assert.Equal(t, "doc@clinic.com", identity.Email)
	require.NotNil(t, identity.Token)
	assert.False(t, identity.Token.ExpiresAt.IsZero(), "expiry read from the bearer JWT")
}

func TestSignInWithCredentialsPassesInviteToken(t *testing.T) {
	api := &fakeLoginAPI{loginFn: loginOK(t, "doc@clinic.com")}
	p := local.New(local.Config{API: api})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:       "doc@clinic.com",
		Password:    "pw",
		InviteToken: "inv-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-123", api.last.InviteToken)
}

func TestSignInWithCredentialsBadPassword(t *testing.T) {
	api := &fakeLoginAPI{}
	p := local.New(local.Config{API: api})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestSignInWithCredentialsVerificationRequiredPassesThrough(t *testing.T) {
	api := &fakeLoginAPI{
		loginFn: func(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error) {
			return nil, client.ErrVerificationRequired
		},
	}
	p := local.New(local.Config{API: api})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "pw",
	})
	require.Error(t, err)
	assert.True(t, client.IsVerificationRequired(err))
}

func TestSignInWithCredentialsTransientBackend(t *testing.T) {
	api := &fakeLoginAPI{
		loginFn: func(ctx context.Context, req client.LoginRequest) (*client.LoginResult, error) {
			return nil, client.ErrTransient
		},
	}
	p := local.New(local.Config{API: api})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "pw",
	})
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
}

func TestSignInInteractiveUsesCredentialSource(t *testing.T) {
	api := &fakeLoginAPI{loginFn: loginOK(t, "doc@clinic.com")}
	p := local.New(local.Config{
		API: api,
		Credentials: func(ctx context.Context) (local.Credentials, error) {
			return local.Credentials{Email: "doc@clinic.com", Password: "pw"}, nil
		},
	})

	identity, err := p.SignInInteractive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc@clinic.com", identity.Email)
}

func TestSignInInteractiveWithoutSource(t *testing.T) {
	p := local.New(local.Config{API: &fakeLoginAPI{}})

	_, err := p.SignInInteractive(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsUnavailable(err))
}

func TestSignInInteractiveSourceCancellation(t *testing.T) {
	p := local.New(local.Config{
		API: &fakeLoginAPI{},
		Credentials: func(ctx context.Context) (local.Credentials, error) {
			return local.Credentials{}, provider.ErrCancelledByUser
		},
	})

	_, err := p.SignInInteractive(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsCancelled(err))
}

func TestSignInSilentRestoresPersistedBearer(t *testing.T) {
	grants := provider.NewMemoryGrantStore()
	bearer := signedBearer(t, "doc@clinic.com", time.Now().Add(time.Hour))
	require.NoError(t, grants.Save(context.Background(), &provider.Grant{
		Provider:    provider.KindLocal,
		Email:       "doc@clinic.com",
		AccessToken: bearer,
	}))

	p := local.New(local.Config{API: &fakeLoginAPI{}, Grants: grants})

	identity, err := p.SignInSilent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc@clinic.com", identity.Email)
	assert.Equal(t, "usr-1", identity.Subject, "subject recovered from claims")
}

func TestSignInSilentExpiredBearer(t *testing.T) {
	grants := provider.NewMemoryGrantStore()
	bearer := signedBearer(t, "doc@clinic.com", time.Now().Add(-time.Hour))
	require.NoError(t, grants.Save(context.Background(), &provider.Grant{
		Provider:    provider.KindLocal,
		AccessToken: bearer,
	}))

	p := local.New(local.Config{API: &fakeLoginAPI{}, Grants: grants})

	_, err := p.SignInSilent(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsInteractionRequired(err))

	_, err = grants.Find(context.Background(), provider.KindLocal)
	assert.True(t, provider.IsGrantNotFound(err))
}

func TestAccessTokenAfterSignIn(t *testing.T) {
	api := &fakeLoginAPI{loginFn: loginOK(t, "doc@clinic.com")}
	p := local.New(local.Config{API: api})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "pw",
	})
	require.NoError(t, err)

	token, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
}

func TestShutdownClearsState(t *testing.T) {
	grants := provider.NewMemoryGrantStore()
	api := &fakeLoginAPI{loginFn: loginOK(t, "doc@clinic.com")}
	p := local.New(local.Config{API: api, Grants: grants})

	_, err := p.SignInWithCredentials(context.Background(), local.Credentials{
		Email:    "doc@clinic.com",
		Password: "pw",
	})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))

	_, err = p.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsInteractionRequired(err))

	_, err = grants.Find(context.Background(), provider.KindLocal)
	assert.True(t, provider.IsGrantNotFound(err))
}
