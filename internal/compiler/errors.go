package compiler

import (
	"errors"
	"fmt"
)

// Kind identifies the layer a failure came from.
type Kind string

const (
	// KindInput is caller misuse: missing or unreadable input, bad options.
	KindInput Kind = "input"
	// KindEnvironment is a missing worker or compiler installation.
	KindEnvironment Kind = "environment"
	// KindProcess is a worker that failed to start, died or produced nothing.
	KindProcess Kind = "process"
	// KindProtocol is worker output that is not a valid response.
	KindProtocol Kind = "protocol"
	// KindCompilation is a Sass error reported by the compiler.
	KindCompilation Kind = "compilation"
	// KindResource is a request rejected by the worker's size limits.
	KindResource Kind = "resource"
	// KindOutput is a failure writing CSS or a source map file.
	KindOutput Kind = "output"
)

// Sentinel causes wrapped by Error.
var (
	ErrFileNotFound   = errors.New("file not found")
	ErrFileUnreadable = errors.New("file unreadable")
	ErrTimeout        = errors.New("timed out waiting for response")
	ErrProcessDied    = errors.New("process exited")
)

// Error is a tagged compile failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the message alone; the cause is reachable through Unwrap.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func errorf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
