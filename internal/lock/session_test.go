package lock

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/vtlock/internal/auth"
	"github.com/dshills/vtlock/internal/plugin"
	"github.com/dshills/vtlock/internal/process"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type screen struct {
	decl    plugin.Declaration
	log     *callLog
	lockErr error
}

func (p *screen) Declaration() plugin.Declaration { return p.decl }
func (p *screen) Lock(context.Context) error {
	p.log.add(p.decl.Name + ".lock")
	return p.lockErr
}
func (p *screen) Unlock(context.Context) error {
	p.log.add(p.decl.Name + ".unlock")
	return nil
}
func (p *screen) Close(context.Context) error {
	p.log.add(p.decl.Name + ".close")
	return nil
}

type password struct {
	name    string
	log     *callLog
	results []error
	reqs    []auth.Request
	onCall  func()
	onCtx   func(context.Context)
}

func (p *password) Declaration() plugin.Declaration { return plugin.Declaration{Name: p.name} }
func (p *password) Authenticate(ctx context.Context, req auth.Request) error {
	p.log.add(p.name + ".authenticate")
	p.reqs = append(p.reqs, req)
	if p.onCtx != nil {
		p.onCtx(ctx)
	}
	if p.onCall != nil {
		p.onCall()
	}
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}
func (p *password) Close(context.Context) error {
	p.log.add(p.name + ".close")
	return nil
}

func newManager(t *testing.T, plugins ...plugin.Plugin) *plugin.Manager {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		p := p
		reg.MustRegister(p.Declaration().Name, func(context.Context) (plugin.Plugin, error) { return p, nil })
	}
	return plugin.NewManager(plugin.ManagerConfig{Registry: reg})
}

func TestSession_Run(t *testing.T) {
	log := &callLog{}
	pw := &password{name: "pw", log: log, results: []error{
		auth.Denied(nil),
		auth.TimedOut(nil),
		auth.Unavailable(errors.New("backend down")),
	}}
	scr := &screen{decl: plugin.Declaration{Name: "screen", Before: []string{"pw"}}, log: log}
	var out strings.Builder

	s := NewSession(Options{
		Manager:     newManager(t, pw, scr),
		Plugins:     []string{"pw", "screen"},
		User:        "alice",
		Prompt:      "locked",
		AuthTimeout: time.Minute,
		Output:      &out,
	})
	if _, err := uuid.Parse(s.ID()); err != nil {
		t.Errorf("ID() = %q: %v", s.ID(), err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"screen.lock",
		"pw.authenticate", "pw.authenticate", "pw.authenticate", "pw.authenticate",
		"screen.unlock",
		"pw.close", "screen.close",
	}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v\nwant %v", got, want)
	}
	if s.Attempts() != 4 {
		t.Errorf("Attempts() = %d", s.Attempts())
	}
	if s.Locked() {
		t.Error("still locked after Run")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[0] != "Authentication failure." || lines[1] != "Timeout!" || !strings.Contains(lines[2], "backend down") {
		t.Errorf("output = %q", out.String())
	}

	for _, req := range pw.reqs {
		if req.User != "alice" || req.Prompt != "locked" {
			t.Errorf("request = %+v", req)
		}
		if d, ok := req.Remaining(); !ok || d > time.Minute {
			t.Errorf("deadline not set from AuthTimeout: %+v", req)
		}
	}
}

func TestSession_StartFailures(t *testing.T) {
	tests := []struct {
		name    string
		plugins []string
		decls   []plugin.Declaration
		want    error
	}{
		{
			name:    "unknown plugin",
			plugins: []string{"screen", "missing"},
			want:    plugin.ErrPluginNotFound,
		},
		{
			name:    "cycle",
			plugins: []string{"screen", "other", "pw"},
			decls: []plugin.Declaration{
				{Name: "screen", Before: []string{"other"}},
				{Name: "other", Before: []string{"screen"}},
			},
			want: plugin.ErrCyclicDependency,
		},
		{
			name:    "no authenticator",
			plugins: []string{"screen"},
			want:    ErrNoAuthenticator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			plugins := []plugin.Plugin{&password{name: "pw", log: log}}
			decls := tt.decls
			if decls == nil {
				decls = []plugin.Declaration{{Name: "screen"}}
			}
			for _, d := range decls {
				plugins = append(plugins, &screen{decl: d, log: log})
			}

			s := NewSession(Options{Manager: newManager(t, plugins...), Plugins: tt.plugins})
			err := s.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run = %v, want %v", err, tt.want)
			}
			for _, c := range log.get() {
				if !strings.HasSuffix(c, ".close") {
					t.Errorf("hook ran before a failed start: %s", c)
				}
			}
			if len(log.get()) == 0 {
				t.Error("loaded plugins were not closed")
			}
		})
	}
}

func TestSession_LockFailure(t *testing.T) {
	log := &callLog{}
	scr := &screen{decl: plugin.Declaration{Name: "screen"}, log: log, lockErr: errors.New("no console")}
	pw := &password{name: "pw", log: log}

	s := NewSession(Options{Manager: newManager(t, scr, pw), Plugins: []string{"screen", "pw"}})
	err := s.Run(context.Background())
	var herr *plugin.HookError
	if !errors.As(err, &herr) || herr.Plugin != "screen" {
		t.Fatalf("Run = %v, want HookError from screen", err)
	}
	want := []string{"screen.lock", "pw.close", "screen.close"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSession_CancelWhileLockedKeepsPrompting(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var s *Session
	var lockedAt []bool
	var ctxErrs []error
	pw := &password{name: "pw", log: log}
	pw.results = []error{auth.Denied(nil), auth.TimedOut(nil), auth.Denied(nil)}
	pw.onCall = func() {
		if len(pw.reqs) == 2 {
			cancel()
		}
		lockedAt = append(lockedAt, s.Locked())
	}
	pw.onCtx = func(c context.Context) { ctxErrs = append(ctxErrs, c.Err()) }
	scr := &screen{decl: plugin.Declaration{Name: "screen"}, log: log}

	var out strings.Builder
	s = NewSession(Options{
		Manager:   newManager(t, scr, pw),
		Plugins:   []string{"screen", "pw"},
		Output:    &out,
		FailDelay: time.Millisecond,
	})
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil after the accepted attempt", err)
	}
	if s.Attempts() != 4 {
		t.Errorf("Attempts() = %d, want 4", s.Attempts())
	}
	if want := []bool{true, true, true, true}; !reflect.DeepEqual(lockedAt, want) {
		t.Errorf("Locked() during attempts = %v, want %v", lockedAt, want)
	}
	for i, err := range ctxErrs {
		if err != nil {
			t.Errorf("attempt %d saw ctx error %v", i+1, err)
		}
	}
	if got := strings.Count(out.String(), "\n"); got != 3 {
		t.Errorf("output %q: %d messages, want 3", out.String(), got)
	}
	want := []string{
		"screen.lock",
		"pw.authenticate", "pw.authenticate", "pw.authenticate", "pw.authenticate",
		"screen.unlock", "pw.close", "screen.close",
	}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSession_CancelBeforeLock(t *testing.T) {
	log := &callLog{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scr := &screen{decl: plugin.Declaration{Name: "screen"}, log: log}
	pw := &password{name: "pw", log: log}
	s := NewSession(Options{Manager: newManager(t, scr, pw), Plugins: []string{"screen", "pw"}})
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	for _, c := range log.get() {
		if c == "screen.lock" || c == "pw.authenticate" {
			t.Errorf("%s ran on a cancelled session", c)
		}
	}
	if s.Locked() {
		t.Error("Locked() after cancelled start")
	}
}

type fakeWatcher struct {
	child     *process.Child
	onExit    func(process.ExitStatus)
	unwatched int
}

func (w *fakeWatcher) WatchChild(c *process.Child, onExit func(process.ExitStatus)) {
	w.child, w.onExit = c, onExit
}

func (w *fakeWatcher) Unwatch() { w.unwatched++ }

func exitedChild(t *testing.T, path string) (*process.Child, process.ExitStatus) {
	t.Helper()
	sup := process.NewSupervisor()
	t.Cleanup(sup.Shutdown)
	c, err := sup.Launch(process.Descriptor{Path: path, Stdin: process.DevNull, Stdout: process.DevNull, Stderr: process.DevNull})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if res, err := c.Wait(5 * time.Second); err != nil || res != process.WaitExited {
		t.Fatalf("Wait = %v, %v", res, err)
	}
	st, _ := c.Status()
	return c, st
}

func TestSession_WatcherFinishes(t *testing.T) {
	log := &callLog{}
	child, status := exitedChild(t, "/bin/true")
	w := &fakeWatcher{}
	var exits []int

	pw := &password{name: "pw", log: log}
	scr := &screen{decl: plugin.Declaration{Name: "screen"}, log: log}
	s := NewSession(Options{
		Manager: newManager(t, scr, pw),
		Plugins: []string{"screen", "pw"},
		Watcher: w,
		Exit:    func(code int) { exits = append(exits, code) },
	})
	pw.onCall = func() {
		s.WatchHelper(child)
		if w.onExit == nil {
			t.Fatal("watcher not armed")
		}
		// What the guard does when SIGCHLD confirms the helper exited.
		w.onExit(status)
		s.UnwatchHelper(child)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(exits, []int{0}) {
		t.Errorf("exit calls = %v", exits)
	}
	want := []string{"screen.lock", "pw.authenticate", "screen.unlock", "pw.close", "screen.close"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if w.unwatched != 1 {
		t.Errorf("Unwatch calls = %d", w.unwatched)
	}
}

func TestSession_WatcherIgnoresFailedHelper(t *testing.T) {
	log := &callLog{}
	child, status := exitedChild(t, "/bin/false")
	w := &fakeWatcher{}
	var exits []int

	pw := &password{name: "pw", log: log, results: []error{auth.Denied(nil)}}
	s := NewSession(Options{
		Manager: newManager(t, pw),
		Plugins: []string{"pw"},
		Watcher: w,
		Exit:    func(code int) { exits = append(exits, code) },
		Output:  &strings.Builder{},
	})
	pw.onCall = func() {
		s.WatchHelper(child)
		w.onExit(status)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exits) != 0 {
		t.Errorf("failed helper ended the session: %v", exits)
	}
	if s.Attempts() != 2 {
		t.Errorf("Attempts() = %d", s.Attempts())
	}
}

func TestSession_WatcherNeedsSoleAuthenticator(t *testing.T) {
	log := &callLog{}
	child, _ := exitedChild(t, "/bin/true")
	w := &fakeWatcher{}

	first := &password{name: "first", log: log}
	second := &password{name: "second", log: log}
	s := NewSession(Options{
		Manager: newManager(t, first, second),
		Plugins: []string{"first", "second"},
		Watcher: w,
	})
	first.onCall = func() { s.WatchHelper(child) }
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.onExit != nil {
		t.Error("watcher armed with two authenticators")
	}
}
