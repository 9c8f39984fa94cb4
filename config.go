package session

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// Config carries the orchestrator settings shared across providers and the
// backend client. Provider specific options live on the provider configs.
type Config struct {
	// BaseURL is the application backend the profile and invitation calls
	// go to.
	BaseURL string

	// PhoneRegion is the default region used to normalize profile phone
	// numbers, e.g. "US".
	PhoneRegion string

	// EnterpriseIssuerURL is the OIDC issuer for the enterprise identity
	// provider. Empty disables the enterprise provider.
	EnterpriseIssuerURL string

	// EnterpriseClientID is the OAuth client registered with the enterprise
	// issuer.
	EnterpriseClientID string

	// ConsumerClientID is the OAuth client for the consumer popup flow.
	// Empty disables the consumer provider.
	ConsumerClientID string

	// ProbeTimeout bounds each provider probe during Initialize.
	ProbeTimeout time.Duration

	// TokenExpiryMargin is how early a cached access token is refreshed.
	TokenExpiryMargin time.Duration
}

// DefaultConfig returns a Config with the stock timings filled in.
func DefaultConfig() Config {
	return Config{
		PhoneRegion:       "US",
		ProbeTimeout:      defaultProbeTimeout,
		TokenExpiryMargin: defaultExpiryMargin,
	}
}

// ConfigFromEnv builds a Config from CLINICORE_* environment variables,
// starting from DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CLINICORE_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLINICORE_PHONE_REGION")); v != "" {
		cfg.PhoneRegion = v
	}
	if v := strings.TrimSpace(os.Getenv("CLINICORE_ENTERPRISE_ISSUER_URL")); v != "" {
		cfg.EnterpriseIssuerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLINICORE_ENTERPRISE_CLIENT_ID")); v != "" {
		cfg.EnterpriseClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("CLINICORE_CONSUMER_CLIENT_ID")); v != "" {
		cfg.ConsumerClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("CLINICORE_PROBE_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ProbeTimeout = d
		}
	}

	return cfg
}

// Validate checks the config for the fields every deployment needs.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.EnterpriseIssuerURL, is.URL),
		validation.Field(&c.PhoneRegion, validation.Required, validation.Length(2, 2)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid session configuration")
	}

	if c.EnterpriseIssuerURL != "" && c.EnterpriseClientID == "" {
		return goerrors.New("enterprise issuer configured without a client id", goerrors.CategoryValidation).
			WithTextCode("session_config_incomplete")
	}

	return nil
}
