package auth

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dshills/vtlock/internal/process"
)

// HelperEntry is the process entry name of the authentication helper.
const HelperEntry = "vtlock-auth"

// Helper exit codes. They map one to one onto Reason, offset by one.
const (
	ExitOK          = 0
	ExitDenied      = 1
	ExitUnavailable = 2
	ExitTimedOut    = 3
)

// RegisterHelper registers RunHelper as HelperEntry. It must be called
// before process.Init.
func RegisterHelper() {
	process.Register(HelperEntry, RunHelper)
}

// RunHelper is the body of the helper process. It prompts on stderr, reads
// the password from stdin, verifies it and writes a one-line reason to
// stdout before exiting with one of the Exit codes.
func RunHelper(args []string) int {
	fs := flag.NewFlagSet(HelperEntry, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user to authenticate")
	prompt := fs.String("prompt", "", "message shown before the password prompt")
	shadow := fs.String("shadow", DefaultShadowPath, "shadow file")
	timeout := fs.Duration("timeout", 0, "time left for the attempt")
	if err := fs.Parse(args); err != nil {
		return report(os.Stdout, ExitUnavailable, err)
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if *prompt != "" {
		fmt.Fprintln(os.Stderr, *prompt)
	}
	fmt.Fprintf(os.Stderr, "%s's Password: ", *user)
	password, err := readPassword(os.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return report(os.Stdout, ExitTimedOut, errors.New("input closed"))
		}
		return report(os.Stdout, ExitUnavailable, err)
	}

	v := &Verifier{ShadowPath: *shadow}
	return report(os.Stdout, exitCode(v.Verify(ctx, *user, password)), nil)
}

// readPassword reads one line without echo from a terminal, or a plain line
// from anything else.
func readPassword(f *os.File) (string, error) {
	if term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserLocked):
		return ExitDenied
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimedOut
	default:
		return ExitUnavailable
	}
}

// report writes the reason line read back by Helper.
func report(w io.Writer, code int, err error) int {
	line := "ok"
	if code != ExitOK {
		line = Reason(code - 1).String()
	}
	if err != nil {
		line += ": " + err.Error()
	}
	fmt.Fprintln(w, line)
	return code
}

// parseReport turns a helper's exit status and reason line back into the
// result of the attempt.
func parseReport(status process.ExitStatus, line string) error {
	line = strings.TrimSpace(line)
	_, detail, _ := strings.Cut(line, ": ")
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}

	switch {
	case status.Success():
		return nil
	case status.Signaled():
		return Unavailable(fmt.Errorf("helper killed by %v", status.Signal()))
	}
	switch status.Code() {
	case ExitDenied:
		return Denied(cause)
	case ExitTimedOut:
		return TimedOut(cause)
	case process.ExitLaunchFailure:
		return Unavailable(errors.New("helper could not be started"))
	default:
		if cause == nil {
			cause = fmt.Errorf("helper %s", status)
		}
		return Unavailable(cause)
	}
}
