package auth

import (
	"errors"
	"fmt"
	"time"
)

// Request is one authentication attempt.
type Request struct {
	// User is the account to authenticate.
	User string

	// Deadline bounds the attempt, including the time spent typing. Zero
	// means no deadline.
	Deadline time.Time

	// Prompt is an optional message shown before the password prompt.
	Prompt string
}

// Remaining returns the time left before the deadline, and false when the
// request has none.
func (r Request) Remaining() (time.Duration, bool) {
	if r.Deadline.IsZero() {
		return 0, false
	}
	return max(time.Until(r.Deadline), 0), true
}

// Reason classifies a failed attempt.
type Reason int

const (
	// ReasonDenied means the credential was wrong or the account is locked.
	ReasonDenied Reason = iota
	// ReasonUnavailable means the check could not be performed.
	ReasonUnavailable
	// ReasonTimedOut means the deadline passed or input was cancelled.
	ReasonTimedOut
)

func (r Reason) String() string {
	switch r {
	case ReasonDenied:
		return "denied"
	case ReasonUnavailable:
		return "unavailable"
	case ReasonTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Failure is the error returned by a failed attempt.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "authentication " + f.Reason.String()
	}
	return fmt.Sprintf("authentication %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches another *Failure with the same reason, so errors.Is(err,
// &Failure{Reason: ReasonTimedOut}) works.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Err == nil && t.Reason == f.Reason
}

// Denied returns a ReasonDenied failure.
func Denied(err error) *Failure { return &Failure{Reason: ReasonDenied, Err: err} }

// Unavailable returns a ReasonUnavailable failure.
func Unavailable(err error) *Failure { return &Failure{Reason: ReasonUnavailable, Err: err} }

// TimedOut returns a ReasonTimedOut failure.
func TimedOut(err error) *Failure { return &Failure{Reason: ReasonTimedOut, Err: err} }

// ReasonOf returns the reason carried by err. Errors that are not a
// *Failure count as ReasonUnavailable.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonUnavailable
}

// Message returns the line shown to the user after a failed attempt.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch ReasonOf(err) {
	case ReasonDenied:
		return "Authentication failure."
	case ReasonTimedOut:
		return "Timeout!"
	default:
		return fmt.Sprintf("Authentication unavailable: %v", errors.Unwrap(err))
	}
}
