package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/process"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newOpener(t *testing.T) *Opener {
	t.Helper()
	sup := process.NewSupervisor()
	t.Cleanup(sup.Shutdown)
	return &Opener{Supervisor: sup}
}

func waitForFile(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		if string(data) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s = %q, want %q", path, data, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForLines(t *testing.T, path string, want ...string) {
	t.Helper()
	sort.Strings(want)
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		got := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		sort.Strings(got)
		if reflect.DeepEqual(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s lines = %q, want %q", path, got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpener_Match(t *testing.T) {
	dir := t.TempDir()
	o := &Opener{}

	tests := []struct {
		file string
		mode os.FileMode
		want bool
	}{
		{"motd", 0o755, true},
		{"motd.sh", 0o755, false},
		{"notes", 0o644, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, nil, tt.mode); err != nil {
				t.Fatal(err)
			}
			info, _ := os.Stat(path)
			name, ok := o.Match(path, info)
			if ok != tt.want {
				t.Fatalf("Match(%s) = %v, want %v", tt.file, ok, tt.want)
			}
			if ok && name != tt.file {
				t.Errorf("name = %q", name)
			}
		})
	}
}

func TestPlugin_Hooks(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "hooks.log")
	path := writeScript(t, dir, "motd", `
case "$1" in
deps)
	echo "after: vt"
	echo "requires: vt"
	;;
hooks)
	while read hook; do echo "$hook" >> `+log+`; done
	;;
esac
`)
	o := newOpener(t)
	ctx := context.Background()

	p, err := o.Open(ctx, plugin.Declaration{Name: "motd", Before: []string{"nosysrq"}}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sp := p.(*Plugin)

	want := plugin.Declaration{
		Name:     "motd",
		Before:   []string{"nosysrq"},
		After:    []string{"vt"},
		Requires: []string{"vt"},
	}
	if got := sp.Declaration(); !reflect.DeepEqual(got, want) {
		t.Errorf("Declaration() = %+v, want %+v", got, want)
	}
	if !sp.HasHook(plugin.HookLock) || !sp.HasHook(plugin.HookUnlock) || sp.HasHook(plugin.HookAuthenticate) {
		t.Error("HasHook() wrong")
	}

	if err := sp.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := sp.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	waitForFile(t, log, "lock\nunlock\n")

	if err := sp.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, reaped := sp.child.Status(); !reaped {
		t.Error("script not reaped after Close")
	}
	if err := sp.Lock(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Lock after Close = %v, want ErrClosed", err)
	}
	if err := sp.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestPlugin_CloseTerminatesStubbornScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "stubborn", `
[ "$1" = deps ] && exit 0
trap '' TERM
exec sleep 30
`)
	o := newOpener(t)
	p, err := o.Open(context.Background(), plugin.Declaration{Name: "stubborn"}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sp := p.(*Plugin)

	start := time.Now()
	sp.Close(context.Background())
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Close took %v", elapsed)
	}
	st, reaped := sp.child.Status()
	if !reaped || !st.Signaled() {
		t.Errorf("status = %v reaped=%v, want killed", st, reaped)
	}
}

func TestOpener_DepsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad line", `echo "whatever"`},
		{"unknown key", `echo "likes: cake"`},
		{"nonzero exit", `exit 3`},
		{"hangs", `exec sleep 30`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, t.TempDir(), "broken", tt.body)
			o := newOpener(t)
			o.DepsTimeout = 200 * time.Millisecond

			if _, err := o.Open(context.Background(), plugin.Declaration{Name: "broken"}, path); err == nil {
				t.Fatal("expected error")
			}
			if n := o.Supervisor.Count(); n != 0 {
				t.Errorf("%d children left behind", n)
			}
		})
	}
}

func TestOpener_NoSupervisor(t *testing.T) {
	if _, err := (&Opener{}).Open(context.Background(), plugin.Declaration{Name: "x"}, "/bin/true"); err == nil {
		t.Error("expected error without supervisor")
	}
}

func TestManager_ScriptPlugins(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "hooks.log")
	for _, name := range []string{"first", "second"} {
		writeScript(t, dir, name, `
case "$1" in
deps) [ `+name+` = second ] && echo "after: first" ;;
hooks) while read hook; do echo "`+name+` $hook" >> `+log+`; done ;;
esac
exit 0
`)
	}

	o := newOpener(t)
	m := plugin.NewManager(plugin.ManagerConfig{
		Loader: plugin.NewLoader(plugin.WithPaths(dir), plugin.WithOpeners(o)),
	})
	ctx := context.Background()
	if err := m.LoadAll(ctx, []string{"second", "first"}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := m.ResolveDependencies(); err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if got := m.HookPlugins(plugin.HookAuthenticate); len(got) != 0 {
		t.Errorf("scripts in authenticate chain: %v", got)
	}
	if err := m.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// Each script writes on its own schedule, so only the set of lines is
	// checked here.
	waitForLines(t, log, "first lock", "second lock")
	if err := m.UnloadAll(ctx); err != nil {
		t.Errorf("UnloadAll: %v", err)
	}
	if n := o.Supervisor.Count(); n != 0 {
		t.Errorf("%d scripts still running", n)
	}
}
