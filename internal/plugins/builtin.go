package plugins

import (
	"context"
	"errors"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// Built-in plugin names.
const (
	NameVT      = "vt"
	NameAll     = "all"
	NameNoSysrq = "nosysrq"
	NameAuth    = "auth"
)

// Console is the part of *vt.Console the built-ins use.
type Console interface {
	SetProcessMode() error
	RestoreMode() error
	LockSwitch() error
	UnlockSwitch() error
}

// Guard is the part of *vt.Guard the built-ins use.
type Guard interface {
	Acquire() error
	Release()
	SetLockAll(all bool)
}

// Authenticator checks one attempt. *auth.Helper implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, req auth.Request) error
}

// Deps are the collaborators the built-ins act on. A plugin whose
// collaborator is nil fails to load.
type Deps struct {
	Console       Console
	Guard         Guard
	Authenticator Authenticator

	// SysrqPath defaults to DefaultSysrqPath.
	SysrqPath string

	Logger *logging.Logger
}

// ErrMissingDependency is returned by a factory whose collaborator is not
// available, such as the vt plugin when not running on a console.
var ErrMissingDependency = errors.New("built-in plugin collaborator not available")

// Register adds every built-in to reg.
func Register(reg *plugin.Registry, deps Deps) error {
	deps = deps.withLogger()
	return errors.Join(
		reg.Register(NameVT, func(context.Context) (plugin.Plugin, error) { return newVT(deps) }),
		reg.Register(NameAll, func(context.Context) (plugin.Plugin, error) { return newAll(deps) }),
		reg.Register(NameNoSysrq, func(context.Context) (plugin.Plugin, error) { return newNoSysrq(deps), nil }),
		reg.Register(NameAuth, func(context.Context) (plugin.Plugin, error) { return newAuth(deps) }),
	)
}

func (d Deps) withLogger() Deps {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return d
}
