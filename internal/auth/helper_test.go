package auth

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dshills/vtlock/internal/process"
)

func TestMain(m *testing.M) {
	RegisterHelper()
	process.Init()
	os.Exit(m.Run())
}

// helperWithInput returns a Helper whose stdin is a pipe fed with input.
// A nil input leaves the pipe open and silent.
func helperWithInput(t *testing.T, shadow string, input []byte) *Helper {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close(); w.Close() })
	if input != nil {
		if _, err := w.Write(input); err != nil {
			t.Fatal(err)
		}
		w.Close()
	}

	sup := process.NewSupervisor()
	t.Cleanup(sup.Shutdown)
	return &Helper{
		Supervisor: sup,
		ShadowPath: shadow,
		Stdin:      process.FD(int(r.Fd())),
		Stderr:     process.DevNull,
	}
}

func TestHelper_Authenticate(t *testing.T) {
	shadow := writeShadow(t, "")

	tests := []struct {
		name  string
		user  string
		input string
		want  error
	}{
		{"accepted", "alice", "secret\n", nil},
		{"no newline", "alice", "secret", nil},
		{"wrong password", "alice", "guess\n", &Failure{Reason: ReasonDenied}},
		{"locked", "locked", "secret\n", &Failure{Reason: ReasonDenied}},
		{"input closed", "alice", "", &Failure{Reason: ReasonTimedOut}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := helperWithInput(t, shadow, []byte(tt.input))
			err := h.Authenticate(context.Background(), Request{
				User:     tt.user,
				Deadline: time.Now().Add(10 * time.Second),
				Prompt:   "locked",
			})
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Authenticate = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Authenticate = %v, want %v", err, tt.want)
			}
			if n := h.Supervisor.Count(); n != 0 {
				t.Errorf("%d helpers left", n)
			}
		})
	}
}

func TestHelper_Deadline(t *testing.T) {
	h := helperWithInput(t, writeShadow(t, ""), nil)

	var started, finished *process.Child
	h.OnStart = func(c *process.Child) { started = c }
	h.OnFinish = func(c *process.Child) { finished = c }

	start := time.Now()
	err := h.Authenticate(context.Background(), Request{
		User:     "alice",
		Deadline: time.Now().Add(200 * time.Millisecond),
	})
	if ReasonOf(err) != ReasonTimedOut {
		t.Fatalf("Authenticate = %v, want timed out", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("took %v", elapsed)
	}
	if started == nil || started != finished {
		t.Fatal("OnStart/OnFinish not called with the helper")
	}
	if _, reaped := started.Status(); !reaped {
		t.Error("helper still running after timeout")
	}
}

func TestHelper_PastDeadline(t *testing.T) {
	h := &Helper{Supervisor: process.NewSupervisor()}
	err := h.Authenticate(context.Background(), Request{User: "alice", Deadline: time.Now().Add(-time.Second)})
	if ReasonOf(err) != ReasonTimedOut {
		t.Errorf("Authenticate = %v", err)
	}
	if h.Supervisor.Count() != 0 {
		t.Error("helper launched past the deadline")
	}
}

func TestHelper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &Helper{Supervisor: process.NewSupervisor()}
	if err := h.Authenticate(ctx, Request{User: "alice"}); ReasonOf(err) != ReasonTimedOut {
		t.Errorf("Authenticate = %v", err)
	}
}

func TestHelper_NoSupervisor(t *testing.T) {
	if err := (&Helper{}).Authenticate(context.Background(), Request{User: "alice"}); ReasonOf(err) != ReasonUnavailable {
		t.Errorf("Authenticate = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{ErrInvalidCredentials, ExitDenied},
		{ErrUserLocked, ExitDenied},
		{context.DeadlineExceeded, ExitTimedOut},
		{ErrBackend, ExitUnavailable},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestReport(t *testing.T) {
	var buf strings.Builder
	if code := report(&buf, ExitDenied, errors.New("nope")); code != ExitDenied {
		t.Errorf("report returned %d", code)
	}
	if buf.String() != "denied: nope\n" {
		t.Errorf("report wrote %q", buf.String())
	}
	buf.Reset()
	report(&buf, ExitOK, nil)
	if buf.String() != "ok\n" {
		t.Errorf("report wrote %q", buf.String())
	}
}
