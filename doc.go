// Package session unifies three structurally different authentication
// sources behind a single "current session" abstraction: an enterprise SSO
// provider (OIDC + PKCE), a consumer OAuth provider, and the application's
// own email/password system, plus magic-link sessions minted from invitation
// redemption.
//
// Session store:
//   - Store is the only writer of session state. Everything else observes it
//     through Subscribe and reacts to published snapshots. Route guards use
//     the IsLoading / IsAuthReady pair to tell "still checking" apart from
//     "checked and not signed in".
//   - Sign-in attempts carry an attempt id; results arriving for a
//     superseded attempt are dropped, which serializes racing provider
//     callbacks without locks leaking into callers.
//
// Provider adapters:
//   - Each identity source implements the provider.Provider contract
//     (Initialize, SignInInteractive, SignInSilent, AccessToken, Shutdown)
//     and normalizes its SDK's errors into the shared taxonomy before they
//     cross the boundary. A failed or slow adapter init degrades the feature
//     but never blocks the embedding app.
//
// Token lifecycle:
//   - TokenManager minimizes interactive prompts: cached token first, then a
//     silent refresh through the active adapter, then one retry with backoff
//     on transient failures, and only then a typed error the caller maps to
//     "please sign in again".
package session
