package session_test

import (
	"testing"
	"time"

	session "github.com/clinicore/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := session.DefaultConfig()
	assert.Equal(t, "US", cfg.PhoneRegion)
	assert.NotZero(t, cfg.ProbeTimeout)
	assert.NotZero(t, cfg.TokenExpiryMargin)
}

func TestConfigValidate(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.BaseURL = "https://api.clinicore.example.com"
	require.NoError(t, cfg.Validate())

	cfg.BaseURL = ""
	assert.Error(t, cfg.Validate(), "base URL is required")

	cfg.BaseURL = "https://api.clinicore.example.com"
	cfg.PhoneRegion = "USA"
	assert.Error(t, cfg.Validate(), "phone region must be a two letter code")
}

func TestConfigValidateEnterprisePairing(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.BaseURL = "https://api.clinicore.example.com"
	cfg.EnterpriseIssuerURL = "https://login.example.com/tenant"

	err := cfg.Validate()
	require.Error(t, err, "issuer without client id is incomplete")

	cfg.EnterpriseClientID = "client-123"
	require.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CLINICORE_BASE_URL", "https://api.test.example.com")
	t.Setenv("CLINICORE_PHONE_REGION", "GB")
	t.Setenv("CLINICORE_ENTERPRISE_ISSUER_URL", "https://login.test.example.com")
	t.Setenv("CLINICORE_ENTERPRISE_CLIENT_ID", "ent-client")
	t.Setenv("CLINICORE_CONSUMER_CLIENT_ID", "con-client")
	t.Setenv("CLINICORE_PROBE_TIMEOUT", "3s")

	cfg := session.ConfigFromEnv()
	assert.Equal(t, "https://api.test.example.com", cfg.BaseURL)
	assert.Equal(t, "GB", cfg.PhoneRegion)
	assert.Equal(t, "https://login.test.example.com", cfg.EnterpriseIssuerURL)
	assert.Equal(t, "ent-client", cfg.EnterpriseClientID)
	assert.Equal(t, "con-client", cfg.ConsumerClientID)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
}

func TestConfigFromEnvIgnoresBadDuration(t *testing.T) {
	t.Setenv("CLINICORE_PROBE_TIMEOUT", "not-a-duration")

	cfg := session.ConfigFromEnv()
	assert.Equal(t, session.DefaultConfig().ProbeTimeout, cfg.ProbeTimeout)
}
