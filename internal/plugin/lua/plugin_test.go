package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

func writePlugin(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name+".lua")
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openPlugin(t *testing.T, o *Opener, name, code string) *Plugin {
	t.Helper()
	path := writePlugin(t, t.TempDir(), name, code)
	p, err := o.Open(context.Background(), plugin.Declaration{Name: name}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.(*Plugin).Close(context.Background()) })
	return p.(*Plugin)
}

func TestOpener_Match(t *testing.T) {
	dir := t.TempDir()
	path := writePlugin(t, dir, "motd", "")
	info, _ := os.Stat(path)
	o := &Opener{}

	if name, ok := o.Match(path, info); !ok || name != "motd" {
		t.Errorf("Match(motd.lua) = %q, %v", name, ok)
	}
	other := filepath.Join(dir, "motd.sh")
	os.WriteFile(other, nil, 0755)
	info, _ = os.Stat(other)
	if _, ok := o.Match(other, info); ok {
		t.Error("Match(motd.sh) accepted")
	}
	dirInfo, _ := os.Stat(dir)
	if _, ok := o.Match(dir+".lua", dirInfo); ok {
		t.Error("Match accepted a directory")
	}
}

func TestPlugin_Declaration(t *testing.T) {
	o := &Opener{}
	p := openPlugin(t, o, "motd", `
		before = { "nosysrq" }
		after = "vt"
		requires = { "vt" }
		conflicts = { "legacy" }
	`)
	want := plugin.Declaration{
		Name:      "motd",
		Before:    []string{"nosysrq"},
		After:     []string{"vt"},
		Requires:  []string{"vt"},
		Conflicts: []string{"legacy"},
	}
	if got := p.Declaration(); !reflect.DeepEqual(got, want) {
		t.Errorf("Declaration() = %+v, want %+v", got, want)
	}
}

func TestPlugin_Hooks(t *testing.T) {
	var out strings.Builder
	log := logging.New(logging.Config{Level: logging.LevelDebug, Output: &out, Prefix: "test"})
	o := &Opener{Logger: log}
	p := openPlugin(t, o, "motd", `
		calls = {}
		function lock() vtlock.log("locked by " .. vtlock.name()) end
		function unlock() print("bye") end
	`)

	if !p.HasHook(plugin.HookLock) || !p.HasHook(plugin.HookUnlock) {
		t.Error("defined hooks not offered")
	}
	if p.HasHook(plugin.HookAuthenticate) || p.HasHook("bogus") {
		t.Error("undefined hook offered")
	}

	ctx := context.Background()
	if err := p.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := p.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	for _, s := range []string{"locked by motd", "bye", "plugin=motd"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("log %q missing %q", out.String(), s)
		}
	}
}

func TestPlugin_Authenticate(t *testing.T) {
	o := &Opener{Timeout: 100 * time.Millisecond}
	p := openPlugin(t, o, "gate", `
		function authenticate(user)
			if user == "alice" then return true end
			if user == "bob" then return false, "bob is banned" end
			if user == "carol" then return nil end
			if user == "spin" then while true do end end
			error("backend down")
		end
	`)
	ctx := context.Background()

	if err := p.Authenticate(ctx, auth.Request{User: "alice"}); err != nil {
		t.Errorf("alice: %v", err)
	}

	tests := []struct {
		user   string
		reason auth.Reason
		msg    string
	}{
		{"bob", auth.ReasonDenied, "bob is banned"},
		{"carol", auth.ReasonDenied, ""},
		{"dave", auth.ReasonUnavailable, "backend down"},
		{"spin", auth.ReasonTimedOut, ""},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			err := p.Authenticate(ctx, auth.Request{User: tt.user})
			var f *auth.Failure
			if !errors.As(err, &f) {
				t.Fatalf("Authenticate = %v, want *auth.Failure", err)
			}
			if f.Reason != tt.reason {
				t.Errorf("reason = %v, want %v", f.Reason, tt.reason)
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestPlugin_LockError(t *testing.T) {
	p := openPlugin(t, &Opener{}, "bad", `function lock() error("cannot lock") end`)
	if err := p.Lock(context.Background()); err == nil || !strings.Contains(err.Error(), "cannot lock") {
		t.Errorf("Lock = %v", err)
	}
}

func TestPlugin_Close(t *testing.T) {
	path := writePlugin(t, t.TempDir(), "closer", `function close() error("close failed") end`)
	p, err := (&Opener{}).Open(context.Background(), plugin.Declaration{Name: "closer"}, path)
	if err != nil {
		t.Fatal(err)
	}
	lp := p.(*Plugin)
	if err := lp.Close(context.Background()); err == nil {
		t.Error("expected close error")
	}
	if !lp.state.IsClosed() {
		t.Error("state not closed after a failing close hook")
	}
}

func TestOpener_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		code string
	}{
		{"syntax", "function ("},
		{"runtime", `error("boom")`},
		{"bad declaration", `after = { 1, 2 }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePlugin(t, dir, "p", tt.code)
			if _, err := (&Opener{}).Open(context.Background(), plugin.Declaration{Name: "p"}, path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestManager_LuaPlugins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "first", `
		before = { "second" }
		function lock() vtlock.log("first") end
	`)
	writePlugin(t, dir, "second", `
		function lock() vtlock.log("second") end
		function authenticate(user) return false, "denied" end
	`)

	var out strings.Builder
	log := logging.New(logging.Config{Level: logging.LevelInfo, Output: &out, Prefix: "test"})
	m := plugin.NewManager(plugin.ManagerConfig{
		Loader: plugin.NewLoader(plugin.WithPaths(dir), plugin.WithOpeners(&Opener{Logger: log})),
	})
	ctx := context.Background()
	if err := m.LoadAll(ctx, []string{"second", "first"}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := m.ResolveDependencies(); err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if got := m.Order(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("Order() = %v", got)
	}
	if got := m.HookPlugins(plugin.HookAuthenticate); !reflect.DeepEqual(got, []string{"second"}) {
		t.Errorf("authenticate chain = %v", got)
	}
	if err := m.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if i, j := strings.Index(out.String(), "first"), strings.Index(out.String(), "second"); i < 0 || j < i {
		t.Errorf("hooks ran out of order: %q", out.String())
	}
	if err := m.Authenticate(ctx, auth.Request{User: "x"}); err == nil {
		t.Error("Authenticate succeeded")
	}
	if err := m.UnloadAll(ctx); err != nil {
		t.Errorf("UnloadAll: %v", err)
	}
}
