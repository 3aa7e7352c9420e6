package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/process"
)

// waitForever stands in for "no deadline" in Child.Wait.
const waitForever = 24 * time.Hour

// Helper runs authentication attempts in a helper process launched through
// a Supervisor.
type Helper struct {
	Supervisor *process.Supervisor
	Logger     *logging.Logger

	// ShadowPath is passed to the helper. Empty means DefaultShadowPath.
	ShadowPath string

	// Stdin and Stderr connect the helper to the terminal. The zero value
	// inherits this process's streams.
	Stdin  process.Redirect
	Stderr process.Redirect

	// OnStart and OnFinish bracket each helper process, for callers that
	// watch it while it runs.
	OnStart  func(*process.Child)
	OnFinish func(*process.Child)
}

// Authenticate runs one attempt. It blocks until the helper exits or the
// request deadline passes, in which case the helper is terminated and the
// attempt times out. A ctx that is already done fails the attempt as timed
// out without launching; a running helper is bounded by the deadline only.
// A locked session hands in a context that is never cancelled, so a failed
// or timed out attempt is always followed by a new prompt.
func (h *Helper) Authenticate(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return TimedOut(err)
	}
	if h.Supervisor == nil {
		return Unavailable(errors.New("no process supervisor"))
	}
	log := h.Logger
	if log == nil {
		log = logging.Discard()
	}

	args := []string{"-user", req.User}
	if req.Prompt != "" {
		args = append(args, "-prompt", req.Prompt)
	}
	if h.ShadowPath != "" {
		args = append(args, "-shadow", h.ShadowPath)
	}
	wait := waitForever
	if d, ok := req.Remaining(); ok {
		if d <= 0 {
			return TimedOut(nil)
		}
		wait = d
		args = append(args, "-timeout", d.String())
	}

	child, err := h.Supervisor.Launch(process.Descriptor{
		Entry:  HelperEntry,
		Args:   args,
		Stdin:  h.Stdin,
		Stdout: process.Pipe,
		Stderr: h.Stderr,
	})
	if err != nil {
		return Unavailable(err)
	}
	defer child.Close()
	if h.OnStart != nil {
		h.OnStart(child)
	}
	if h.OnFinish != nil {
		defer h.OnFinish(child)
	}

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(io.LimitReader(child.Stdout, 4096)).ReadString('\n')
		lines <- line
	}()

	start := time.Now()
	res, err := child.Wait(wait)
	if err != nil || res == process.WaitTimedOut {
		child.Terminate()
		child.Close()
		<-lines
		log.Debug("helper pid=%d timed out after %v", child.Pid(), time.Since(start).Round(time.Millisecond))
		if err != nil {
			return Unavailable(err)
		}
		return TimedOut(fmt.Errorf("no answer within %v", wait))
	}

	var line string
	select {
	case line = <-lines:
	case <-time.After(time.Second):
		// Something the helper left behind still holds the pipe.
		child.Close()
		line = <-lines
	}
	status, reaped := child.Status()
	if !reaped {
		return Unavailable(errors.New("helper status lost"))
	}
	log.Debug("helper pid=%d: %s", child.Pid(), status)
	return parseReport(status, line)
}
