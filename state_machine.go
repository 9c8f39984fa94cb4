package session

import (
	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "session_invalid_status_transition"

// ErrInvalidTransition is returned when a requested status change is not
// allowed by the session lifecycle graph.
var ErrInvalidTransition = goerrors.New("invalid session status transition", goerrors.CategoryConflict).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// statusGraph encodes the legal session lifecycle. Within a single sign-in
// attempt the path is monotonic: authenticating, syncing, then authenticated
// or error. Unauthenticated is reachable only through explicit sign-out,
// cancellation, a rejected reconciliation, or an initial probe that found
// nothing.
type statusGraph map[Status]map[Status]struct{}

func newStatusGraph() statusGraph {
	return statusGraph{
		StatusUninitialized: {
			StatusAuthenticating:  {},
			StatusUnauthenticated: {},
			// magic-link adoption can land before the first Initialize
			StatusSyncing: {},
		},
		StatusUnauthenticated: {
			StatusAuthenticating: {},
			// magic-link adoption skips the provider sign-in leg
			StatusSyncing: {},
		},
		StatusAuthenticating: {
			StatusSyncing:         {},
			StatusUnauthenticated: {},
			StatusError:           {},
		},
		StatusSyncing: {
			StatusAuthenticated:   {},
			StatusUnauthenticated: {},
			StatusError:           {},
		},
		StatusAuthenticated: {
			// switching providers starts a fresh sign-in without an
			// intermediate sign-out
			StatusAuthenticating:  {},
			StatusSyncing:         {},
			StatusUnauthenticated: {},
			StatusError:           {},
		},
		StatusError: {
			StatusAuthenticating:  {},
			StatusUnauthenticated: {},
			StatusSyncing:         {},
		},
	}
}

func (g statusGraph) canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if allowed, ok := g[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (g statusGraph) transitionError(from, to Status) error {
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}
