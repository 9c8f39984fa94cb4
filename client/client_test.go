package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/clinicore/go-session/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*client.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := client.New(client.Config{
		BaseURL:      server.URL,
		RetryBackoff: 1,
	})
	return c, server
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestProfileSendsBearerCredential(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/profile", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{
			"id":                "usr-1",
			"email":             "doc@clinic.com",
			"role":              "user",
			"is_email_verified": true,
		})
	}))

	profile, err := c.Profile(context.Background(), client.BearerCredential("tok"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "doc@clinic.com", profile.Email)
	assert.True(t, profile.EmailVerified)
}

func TestProfileSendsMagicCredential(t *testing.T) {
	var gotHeader string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Session-Token")
		writeJSON(w, http.StatusOK, map[string]any{"id": "usr-1", "email": "p@home.com", "role": "user"})
	}))

	_, err := c.Profile(context.Background(), client.MagicCredential("magic"))
	require.NoError(t, err)
	assert.Equal(t, "magic", gotHeader)
}

func TestProfileRejectsEmptyCredential(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the backend")
	}))

	_, err := c.Profile(context.Background(), client.Credential{})
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))
}

func TestProfileNormalizesPhoneNumber(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    "usr-1",
			"email": " Doc@Clinic.COM ",
			"phone": "(415) 555-2671",
			"role":  "user",
		})
	}))

	profile, err := c.Profile(context.Background(), client.BearerCredential("tok"))
	require.NoError(t, err)
	assert.Equal(t, "Doc@Clinic.COM", profile.Email, "trimmed, case preserved")
	assert.Equal(t, "+14155552671", profile.Phone)
}

func TestProfileRetriesTransientFailureOnce(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "usr-1", "email": "doc@clinic.com", "role": "user"})
	}))

	profile, err := c.Profile(context.Background(), client.BearerCredential("tok"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "doc@clinic.com", profile.Email)
}

func TestProfileSurfacesRepeatedServerFailure(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Profile(context.Background(), client.BearerCredential("tok"))
	require.Error(t, err)
	assert.True(t, client.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load(), "idempotent call retries exactly once")
}

func TestRetryKeepsFinalErrorClassification(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "token expired"})
	}))

	_, err := c.Profile(context.Background(), client.BearerCredential("tok"))
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, client.IsUnauthorized(err), "the retried response decides the error class")
	assert.False(t, client.IsTransient(err))
}

func TestLoginDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Login(context.Background(), client.LoginRequest{Email: "doc@clinic.com", Password: "pw"})
	require.Error(t, err)
	assert.True(t, client.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "non-idempotent call must not retry")
}

func TestLoginUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "bad credentials"})
	}))

	_, err := c.Login(context.Background(), client.LoginRequest{Email: "doc@clinic.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))
}

func TestLoginVerificationRequired(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{"code": "verification_required", "message": "verify your email"},
		})
	}))

	_, err := c.Login(context.Background(), client.LoginRequest{Email: "doc@clinic.com", Password: "pw"})
	require.Error(t, err)
	assert.True(t, client.IsVerificationRequired(err))
}

func TestLoginPassesInviteToken(t *testing.T) {
	var gotBody map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "bearer-tok",
			"user":  map[string]any{"id": "usr-1", "email": "doc@clinic.com", "role": "user"},
		})
	}))

	result, err := c.Login(context.Background(), client.LoginRequest{
		Email:       "doc@clinic.com",
		Password:    "pw",
		InviteToken: "inv-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-123", gotBody["inviteToken"])
	assert.Equal(t, "bearer-tok", result.Token)
}

func TestValidateInvitation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invitations/validate", r.URL.Path)
		assert.Equal(t, "doc@clinic.com", r.URL.Query().Get("email"))
		assert.Equal(t, "inv-123", r.URL.Query().Get("token"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"email": "doc@clinic.com",
				"type":  "direct",
				"role":  "clientAdmin",
			},
		})
	}))

	invitation, err := c.ValidateInvitation(context.Background(), "doc@clinic.com", "inv-123")
	require.NoError(t, err)
	assert.Equal(t, client.InvitationDirect, invitation.Type)
	assert.Equal(t, client.RoleClientAdmin, invitation.Role)
	assert.Equal(t, "inv-123", invitation.Token, "token backfilled from the request")
}

func TestValidateInvitationNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown token"})
	}))

	_, err := c.ValidateInvitation(context.Background(), "doc@clinic.com", "gone")
	require.Error(t, err)
	assert.True(t, client.IsInvitationInvalid(err))
}

func TestValidateInvitationExpiredCode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, map[string]any{
			"error": map[string]any{"code": "invitation_expired"},
		})
	}))

	_, err := c.ValidateInvitation(context.Background(), "doc@clinic.com", "old")
	require.Error(t, err)
	assert.True(t, client.IsInvitationInvalid(err))
}

func TestAcceptInvitationCarriesAuthMethodAndBearer(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invitations/accept", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))

	err := c.AcceptInvitation(context.Background(), client.AcceptInvitationRequest{
		Token:       "inv-123",
		Email:       "doc@clinic.com",
		UserID:      "subj-1",
		DisplayName: "Doc Holliday",
		AuthMethod:  "enterprise",
		BearerToken: "ent-token",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer ent-token", gotAuth)
	assert.Equal(t, "enterprise", gotBody["authMethod"])
	assert.Equal(t, "subj-1", gotBody["userId"])
	assert.NotContains(t, gotBody, "BearerToken", "bearer travels in the header only")
}

func TestRedeemMagicInvitation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invitations/magic", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"sessionToken": "magic-session",
				"user":         map[string]any{"id": "usr-9", "email": "p@home.com", "role": "user"},
			},
		})
	}))

	grant, err := c.RedeemMagicInvitation(context.Background(), "p@home.com", "magic-tok")
	require.NoError(t, err)
	assert.Equal(t, "magic-session", grant.SessionToken)
	require.NotNil(t, grant.User)
	assert.Equal(t, "p@home.com", grant.User.Email)
}

func TestRedeemMagicInvitationMissingToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	}))

	_, err := c.RedeemMagicInvitation(context.Background(), "p@home.com", "magic-tok")
	require.Error(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))

	require.NoError(t, c.RequestPasswordReset(context.Background(), "doc@clinic.com"))
	require.NoError(t, c.CompletePasswordReset(context.Background(), "reset-tok", "new-password"))

	assert.Equal(t, []string{
		"/v1/auth/password-reset",
		"/v1/auth/password-reset/confirm",
	}, paths)
}

func TestPasswordResetRequestIsGenericForUnknownAccounts(t *testing.T) {
	// the backend answers 200 regardless of account existence; the client
	// must not turn that into anything inspectable
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "if an account exists, an email was sent"})
	}))

	require.NoError(t, c.RequestPasswordReset(context.Background(), "nobody@nowhere.com"))
}
