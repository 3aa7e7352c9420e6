package lua

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// hookFuncs maps plugin hooks to the Lua globals implementing them.
var hookFuncs = map[string]string{
	plugin.HookLock:         "lock",
	plugin.HookUnlock:       "unlock",
	plugin.HookAuthenticate: "authenticate",
}

// closeFunc is called on unload when defined.
const closeFunc = "close"

// Opener finds and opens Lua plugins: files ending in .lua.
type Opener struct {
	// Logger receives vtlock.log and print output, tagged with the plugin.
	Logger *logging.Logger

	// Timeout bounds each call into the plugin. Zero means
	// DefaultExecutionTimeout.
	Timeout time.Duration
}

// Kind implements plugin.Opener.
func (o *Opener) Kind() string { return "lua" }

// Match implements plugin.Opener.
func (o *Opener) Match(path string, info fs.FileInfo) (string, bool) {
	base := filepath.Base(path)
	if info.IsDir() || filepath.Ext(base) != ".lua" {
		return "", false
	}
	return strings.TrimSuffix(base, ".lua"), true
}

// Open implements plugin.Opener. It runs the file and reads its
// declaration globals.
func (o *Opener) Open(ctx context.Context, base plugin.Declaration, path string) (plugin.Plugin, error) {
	log := o.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("plugin", base.Name)

	timeout := o.Timeout
	if timeout == 0 {
		timeout = DefaultExecutionTimeout
	}
	state := NewState(
		WithExecutionTimeout(timeout),
		WithPrint(func(s string) { log.Info("%s", s) }),
	)
	state.RegisterModule("vtlock", map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			log.Info("%s", L.CheckString(1))
			return 0
		},
		"name": func(L *lua.LState) int {
			L.Push(lua.LString(base.Name))
			return 1
		},
	})

	if err := state.DoFile(ctx, path); err != nil {
		state.Close()
		return nil, fmt.Errorf("run %s: %w", path, err)
	}

	p := &Plugin{state: state, decl: base, path: path}
	for _, f := range []struct {
		global string
		dst    *[]string
	}{
		{"before", &p.decl.Before},
		{"after", &p.decl.After},
		{"requires", &p.decl.Requires},
		{"conflicts", &p.decl.Conflicts},
	} {
		names, err := state.StringList(f.global)
		if err != nil {
			state.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		*f.dst = append(*f.dst, names...)
	}
	return p, nil
}

// Plugin is a loaded Lua plugin.
type Plugin struct {
	state *State
	decl  plugin.Declaration
	path  string
}

// Declaration implements plugin.Plugin.
func (p *Plugin) Declaration() plugin.Declaration { return p.decl }

// Path returns the file the plugin was loaded from.
func (p *Plugin) Path() string { return p.path }

// HasHook implements plugin.HookSet: only hooks the file defines are bound.
func (p *Plugin) HasHook(hook string) bool {
	fn, ok := hookFuncs[hook]
	return ok && p.state.HasFunction(fn)
}

// Lock calls the Lua lock function.
func (p *Plugin) Lock(ctx context.Context) error {
	_, err := p.state.Call(ctx, hookFuncs[plugin.HookLock])
	return err
}

// Unlock calls the Lua unlock function.
func (p *Plugin) Unlock(ctx context.Context) error {
	_, err := p.state.Call(ctx, hookFuncs[plugin.HookUnlock])
	return err
}

// Authenticate calls authenticate(user). A true first result accepts.
func (p *Plugin) Authenticate(ctx context.Context, req auth.Request) error {
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	results, err := p.state.Call(ctx, hookFuncs[plugin.HookAuthenticate], lua.LString(req.User))
	switch {
	case errors.Is(err, ErrExecutionTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &auth.Failure{Reason: auth.ReasonTimedOut, Err: err}
	case err != nil:
		return &auth.Failure{Reason: auth.ReasonUnavailable, Err: err}
	}

	if len(results) > 0 && lua.LVAsBool(results[0]) {
		return nil
	}
	var msg error
	if len(results) > 1 {
		if s, ok := results[1].(lua.LString); ok && s != "" {
			msg = errors.New(string(s))
		}
	}
	return &auth.Failure{Reason: auth.ReasonDenied, Err: msg}
}

// Close calls the Lua close function if defined and releases the state.
func (p *Plugin) Close(ctx context.Context) error {
	var err error
	if p.state.HasFunction(closeFunc) {
		_, err = p.state.Call(ctx, closeFunc)
	}
	return errors.Join(err, p.state.Close())
}
