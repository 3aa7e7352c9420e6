package auth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
)

// DefaultSuTimeout bounds VerifyWithSu when ctx has no deadline.
const DefaultSuTimeout = 6 * time.Second

// suCommand is the command run as the user to check the password.
var suCommand = []string{"su", "-s", "/bin/sh", "-c", "true"}

// VerifyWithSu checks the password by running su(1) behind a pty and
// answering its prompt. This works for any hash format the host supports.
func VerifyWithSu(ctx context.Context, user, password string) (bool, error) {
	if strings.TrimSpace(user) == "" {
		return false, ErrInvalidCredentials
	}
	// su does not ask root for a password, so it proves nothing there.
	if os.Getuid() == 0 {
		return false, fmt.Errorf("%w: su cannot verify passwords for root callers", ErrBackend)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSuTimeout)
		defer cancel()
	}

	args := append(append([]string(nil), suCommand[1:]...), user)
	cmd := exec.CommandContext(ctx, suCommand[0], args...)
	return answerPrompt(ctx, cmd, password)
}

// answerPrompt starts cmd on a pty, writes password once the output
// mentions a password, and reports whether cmd succeeded.
func answerPrompt(ctx context.Context, cmd *exec.Cmd, password string) (bool, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return false, fmt.Errorf("%w: start %s: %v", ErrBackend, cmd.Path, err)
	}
	defer func() { _ = f.Close() }()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		prompted := false
		var out bytes.Buffer
		br := bufio.NewReader(f)
		buf := make([]byte, 4096)
		for {
			_ = f.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, rerr := br.Read(buf)
			if n > 0 {
				out.Write(buf[:n])
				if !prompted && strings.Contains(strings.ToLower(out.String()), "password") {
					prompted = true
					_, _ = io.WriteString(f, password+"\n")
				}
			}
			if errors.Is(rerr, os.ErrDeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			if rerr != nil {
				return
			}
		}
	}()

	err = cmd.Wait()
	<-readerDone

	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: %s timed out", ErrBackend, cmd.Path)
	}
	return false, nil
}
