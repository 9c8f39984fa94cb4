package session

import (
	"context"

	"github.com/clinicore/go-session/client"
	"github.com/clinicore/go-session/provider"
)

// Logger is the logging surface shared with the provider adapters.
type Logger = provider.Logger

// ProfileAPI is the slice of the backend client the store needs: fetching the
// authoritative user record with whatever credential the active provider can
// supply.
type ProfileAPI interface {
	Profile(ctx context.Context, cred client.Credential) (*client.Profile, error)
}

// Subscriber receives session snapshots after every applied mutation.
type Subscriber func(Session)
