package enterprise

import (
	stderrors "errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"

	"github.com/clinicore/go-session/provider"
)

// ValidatorConfig holds JWKS validation options for enterprise-issued access
// tokens.
type ValidatorConfig struct {
	// JWKSURL is the tenant's JWK Set endpoint.
	JWKSURL string

	// GivenKeys bypasses the network JWKS fetch; primarily for tests.
	GivenKeys map[string]keyfunc.GivenKey

	Issuer   string
	Audience string

	RefreshInterval time.Duration
}

// TokenValidator checks enterprise access tokens against the tenant JWKS so
// an obviously bad token never reaches the backend.
type TokenValidator struct {
	config  ValidatorConfig
	keyFunc jwt.Keyfunc
}

// NewTokenValidator builds a validator from a JWKS URL or given keys.
func NewTokenValidator(cfg ValidatorConfig) (*TokenValidator, error) {
	if len(cfg.GivenKeys) > 0 {
		return &TokenValidator{
			config:  cfg,
			keyFunc: keyfunc.NewGiven(cfg.GivenKeys).Keyfunc,
		}, nil
	}

	if cfg.JWKSURL == "" {
		return nil, goerrors.New("jwks url or given keys required", goerrors.CategoryBadInput)
	}

	refresh := cfg.RefreshInterval
	if refresh == 0 {
		refresh = time.Hour
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch JWK set")
	}

	return &TokenValidator{
		config:  cfg,
		keyFunc: jwks.Keyfunc,
	}, nil
}

// Validate parses and verifies a raw token, returning its claims.
func (v *TokenValidator) Validate(raw string) (jwt.MapClaims, error) {
	options := make([]jwt.ParserOption, 0, 2)
	if v.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		options = append(options, jwt.WithAudience(v.config.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, options...)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, provider.ErrInteractionRequired.Clone().WithMetadata(map[string]any{
				"provider": string(provider.KindEnterprise),
				"cause":    "access token expired",
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "enterprise token failed validation")
	}

	if !token.Valid {
		return nil, goerrors.New("enterprise token invalid", goerrors.CategoryAuth)
	}

	return claims, nil
}
