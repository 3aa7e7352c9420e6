package plugin

import (
	"context"

	"github.com/dshills/vtlock/internal/auth"
)

// Plugin is anything the manager can load. Hooks are implemented by also
// satisfying Locker, Unlocker or Authenticator.
type Plugin interface {
	Declaration() Declaration
}

// Locker runs when the console is being locked.
type Locker interface {
	Lock(ctx context.Context) error
}

// Unlocker runs after successful authentication.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Authenticator checks credentials. A nil error means the user is
// authenticated; failures should be *auth.Failure.
type Authenticator interface {
	Authenticate(ctx context.Context, req auth.Request) error
}

// Closer releases plugin resources when the plugin is unloaded.
type Closer interface {
	Close(ctx context.Context) error
}

// HookSet is implemented by plugins that only know at run time which hooks
// they provide, such as scripted ones. A hook the plugin implements in Go is
// still skipped when HasHook reports false for it.
type HookSet interface {
	HasHook(hook string) bool
}
