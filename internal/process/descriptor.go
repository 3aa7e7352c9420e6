package process

import (
	"errors"
	"fmt"
)

type redirectKind int

const (
	redirectInherit redirectKind = iota
	redirectFD
	redirectDevNull
	redirectPipe
)

// Redirect says what one of the child's standard streams is connected to.
// The zero value inherits the parent's stream.
type Redirect struct {
	kind redirectKind
	fd   int
}

var (
	// Inherit leaves the stream connected to whatever the parent has there.
	Inherit = Redirect{kind: redirectInherit}

	// DevNull connects the stream to /dev/null.
	DevNull = Redirect{kind: redirectDevNull}

	// Pipe connects the stream to a new pipe. The parent end is returned on
	// the Child.
	Pipe = Redirect{kind: redirectPipe}
)

// FD connects the stream to an existing descriptor of the parent. The
// descriptor stays open in the parent.
func FD(fd int) Redirect {
	return Redirect{kind: redirectFD, fd: fd}
}

func (r Redirect) String() string {
	switch r.kind {
	case redirectInherit:
		return "inherit"
	case redirectFD:
		return fmt.Sprintf("fd %d", r.fd)
	case redirectDevNull:
		return "/dev/null"
	case redirectPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Descriptor describes a child process to launch.
type Descriptor struct {
	// Path is the executable to run. Exactly one of Path and Entry is set.
	Path string

	// Entry is the name of a function registered with Register.
	Entry string

	// Args are the arguments after argv[0]. For a Path, argv[0] is Path.
	// For an Entry, argv[0] is the entry name.
	Args []string

	// Env is the child's environment. Nil inherits the parent's.
	Env []string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string

	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect
}

func (d Descriptor) name() string {
	if d.Entry != "" {
		return d.Entry
	}
	return d.Path
}

func (d Descriptor) validate() error {
	switch {
	case d.Path == "" && d.Entry == "":
		return errors.New("descriptor has neither path nor entry")
	case d.Path != "" && d.Entry != "":
		return errors.New("descriptor has both path and entry")
	}
	for _, r := range []Redirect{d.Stdin, d.Stdout, d.Stderr} {
		if r.kind == redirectFD && r.fd < 0 {
			return fmt.Errorf("invalid redirect descriptor %d", r.fd)
		}
	}
	if d.Entry != "" && !registered(d.Entry) {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, d.Entry)
	}
	return nil
}
