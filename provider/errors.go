package provider

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeCancelled           = "session_cancelled_by_user"
	TextCodeProviderUnavailable = "session_provider_unavailable"
	TextCodeInteractionRequired = "session_interaction_required"
	TextCodeNetworkTransient    = "session_network_transient"
)

// ErrCancelledByUser marks a user-driven abort (closed popup, dismissed
// prompt). It is not a failure: callers swallow it without surfacing a toast.
var ErrCancelledByUser = goerrors.New("sign-in cancelled by user", goerrors.CategoryOperation).
	WithTextCode(TextCodeCancelled)

// ErrProviderUnavailable is returned when an adapter's SDK/discovery failed to
// initialize. The app still renders; the feature is degraded, not fatal.
var ErrProviderUnavailable = goerrors.New("identity provider unavailable", goerrors.CategoryInternal).
	WithTextCode(TextCodeProviderUnavailable)

// ErrInteractionRequired means the silent token path is exhausted and the user
// must complete an interactive flow. It triggers one interactive retry, never
// a loop.
var ErrInteractionRequired = goerrors.New("interactive sign-in required", goerrors.CategoryAuth).
	WithTextCode(TextCodeInteractionRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetworkTransient marks a failure worth retrying once with backoff before
// it surfaces as an authentication error.
var ErrNetworkTransient = goerrors.New("transient network failure", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetworkTransient)

// IsCancelled reports whether err represents a user cancellation.
func IsCancelled(err error) bool {
	return hasTextCode(err, TextCodeCancelled)
}

// IsUnavailable reports whether err represents a failed provider init.
func IsUnavailable(err error) bool {
	return hasTextCode(err, TextCodeProviderUnavailable)
}

// IsInteractionRequired reports whether err signals an exhausted silent path.
func IsInteractionRequired(err error) bool {
	return hasTextCode(err, TextCodeInteractionRequired)
}

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	return hasTextCode(err, TextCodeNetworkTransient)
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

// ProviderError captures normalized provider response details before they are
// mapped into the shared taxonomy.
type ProviderError struct {
	Provider    Kind
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = string(e.Provider)
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the raw provider payload for error reporting.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = string(e.Provider)
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	for k, v := range e.Raw {
		meta[k] = v
	}
	return meta
}
