package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	profilePath         = "/v1/auth/profile"
	loginPath           = "/v1/auth/login"
	resetRequestPath    = "/v1/auth/password-reset"
	resetCompletePath   = "/v1/auth/password-reset/confirm"
	inviteValidatePath  = "/v1/invitations/validate"
	inviteAcceptPath    = "/v1/invitations/accept"
	inviteMagicPath     = "/v1/invitations/magic"
	defaultPhoneRegion  = "US"
	defaultRetryBackoff = 500 * time.Millisecond
)

// Config holds backend client options.
type Config struct {
	BaseURL     string
	PhoneRegion string

	// RetryBackoff is the pause before the single transient retry.
	RetryBackoff time.Duration

	HTTPClient *http.Client
}

// Client talks to the backend API. The backend itself is a black box reached
// over HTTPS; this client only normalizes its shapes and failures.
type Client struct {
	baseURL      string
	phoneRegion  string
	retryBackoff time.Duration
	httpClient   *http.Client
	sleep        func(time.Duration)
}

// New creates a backend client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	region := cfg.PhoneRegion
	if region == "" {
		region = defaultPhoneRegion
	}

	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = defaultRetryBackoff
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		phoneRegion:  region,
		retryBackoff: backoff,
		httpClient:   httpClient,
		sleep:        time.Sleep,
	}
}

// Profile fetches the authoritative user record for the given credential.
func (c *Client) Profile(ctx context.Context, cred Credential) (*Profile, error) {
	if cred.Empty() {
		return nil, ErrUnauthorized.Clone().WithMetadata(map[string]any{
			"reason": "no credential supplied",
		})
	}

	profile := &Profile{}
	if err := c.doJSON(ctx, http.MethodGet, profilePath, nil, cred, nil, profile, true); err != nil {
		return nil, err
	}

	profile.normalize(c.phoneRegion)
	return profile, nil
}

// Login performs the local credential exchange. A present InviteToken marks
// the invitation redeemed server-side in the same call.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result := &LoginResult{}
	if err := c.doJSON(ctx, http.MethodPost, loginPath, req, Credential{}, nil, result, false); err != nil {
		return nil, err
	}

	if result.Token == "" {
		return nil, ErrRequestFailed.Clone().WithMetadata(map[string]any{
			"reason": "login response missing token",
		})
	}

	result.User.normalize(c.phoneRegion)
	return result, nil
}

// ValidateInvitation checks token+email validity and returns the invitation
// metadata, including its type.
func (c *Client) ValidateInvitation(ctx context.Context, email, token string) (*Invitation, error) {
	query := url.Values{
		"email": {email},
		"token": {token},
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    *Invitation `json:"data"`
	}{}

	path := inviteValidatePath + "?" + query.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, Credential{}, nil, &envelope, true); err != nil {
		return nil, err
	}

	if !envelope.Success || envelope.Data == nil {
		return nil, ErrInvitationInvalid.Clone().WithMetadata(map[string]any{
			"email": email,
		})
	}

	if envelope.Data.Token == "" {
		envelope.Data.Token = token
	}

	return envelope.Data, nil
}

// AcceptInvitation finalizes a direct invitation with the resolved identity.
func (c *Client) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) error {
	cred := Credential{}
	if req.BearerToken != "" {
		cred = BearerCredential(req.BearerToken)
	}

	envelope := struct {
		Success bool `json:"success"`
	}{}

	return c.doJSON(ctx, http.MethodPost, inviteAcceptPath, req, cred, nil, &envelope, false)
}

// RedeemMagicInvitation trades a magic invitation for a bearer session.
func (c *Client) RedeemMagicInvitation(ctx context.Context, email, token string) (*MagicGrant, error) {
	body := map[string]string{
		"token": token,
		"email": email,
	}

	envelope := struct {
		Data *MagicGrant `json:"data"`
	}{}

	if err := c.doJSON(ctx, http.MethodPost, inviteMagicPath, body, Credential{}, nil, &envelope, false); err != nil {
		return nil, err
	}

	if envelope.Data == nil || envelope.Data.SessionToken == "" {
		return nil, ErrRequestFailed.Clone().WithMetadata(map[string]any{
			"reason": "magic redemption response missing session token",
		})
	}

	envelope.Data.User.normalize(c.phoneRegion)
	return envelope.Data, nil
}

// RequestPasswordReset asks the backend to start a reset flow. The response is
// intentionally generic ("if an account exists") so callers learn nothing
// about account existence.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.doJSON(ctx, http.MethodPost, resetRequestPath, body, Credential{}, nil, nil, false)
}

// CompletePasswordReset fulfills a reset with the emailed token.
func (c *Client) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	body := map[string]string{
		"token":    token,
		"password": newPassword,
	}
	return c.doJSON(ctx, http.MethodPost, resetCompletePath, body, Credential{}, nil, nil, false)
}

// doJSON runs one request with JSON in/out. Idempotent calls get a single
// retry with backoff on transient failures.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, cred Credential, headers map[string]string, out any, idempotent bool) error {
	err := c.once(ctx, method, path, body, cred, headers, out)
	if err == nil {
		return nil
	}

	if idempotent && IsTransient(err) {
		c.sleep(c.retryBackoff)
		retryErr := c.once(ctx, method, path, body, cred, headers, out)
		if retryErr == nil {
			return nil
		}
		// the retried call keeps its own classification; the first failure
		// rides along as metadata
		var rich *goerrors.Error
		if goerrors.As(retryErr, &rich) {
			meta := map[string]any{
				"retried":    true,
				"first_fail": err.Error(),
			}
			for k, v := range rich.Metadata {
				meta[k] = v
			}
			return rich.Clone().WithMetadata(meta)
		}
		return retryErr
	}

	return err
}

func (c *Client) once(ctx context.Context, method, path string, body any, cred Credential, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cred.apply(req.Header.Set)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "request cancelled")
		}
		return ErrTransient.Clone().WithMetadata(map[string]any{
			"path":  path,
			"cause": err.Error(),
		})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrTransient.Clone().WithMetadata(map[string]any{
			"path":  path,
			"cause": err.Error(),
		})
	}

	if resp.StatusCode >= 500 {
		return ErrTransient.Clone().WithMetadata(map[string]any{
			"path":   path,
			"status": resp.StatusCode,
		})
	}

	if resp.StatusCode >= 400 {
		return c.statusError(path, resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return ErrRequestFailed.Clone().WithMetadata(map[string]any{
			"path":  path,
			"cause": err.Error(),
		})
	}

	return nil
}

type apiErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) statusError(path string, status int, raw []byte) error {
	parsed := apiErrorBody{}
	_ = json.Unmarshal(raw, &parsed)

	code := parsed.Error.Code
	message := parsed.Error.Message
	if message == "" {
		message = parsed.Message
	}

	meta := map[string]any{
		"path":   path,
		"status": status,
	}
	if code != "" {
		meta["code"] = code
	}
	if message != "" {
		meta["message"] = message
	}

	switch {
	case code == "verification_required":
		return ErrVerificationRequired.Clone().WithMetadata(meta)
	case code == "invitation_invalid" || code == "invitation_expired":
		return ErrInvitationInvalid.Clone().WithMetadata(meta)
	case status == http.StatusUnauthorized:
		return ErrUnauthorized.Clone().WithMetadata(meta)
	case status == http.StatusNotFound && strings.HasPrefix(path, inviteValidatePath):
		return ErrInvitationInvalid.Clone().WithMetadata(meta)
	default:
		return ErrRequestFailed.Clone().WithMetadata(meta)
	}
}
