package mux

import (
	"errors"
	"fmt"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// Error kinds. Use errors.Is to classify an error returned by a Session.
var (
	ErrConfig   = errors.New("config error")
	ErrOpen     = errors.New("open error")
	ErrWrite    = errors.New("write error")
	ErrFinalize = errors.New("finalize error")
)

// ErrSkipPacket reports a packet that was deliberately not written: its
// track is not registered, or it is a zero-timestamp video packet arriving
// before the track is anchored. It is not a failure.
var ErrSkipPacket = errors.New("packet skipped")

// Error is a session failure of a given kind with the container code that
// caused it.
type Error struct {
	Kind error
	Op   string
	Code av.Code
	Err  error
}

func (e *Error) Error() string {
	var ae *av.Error
	if errors.As(e.Err, &ae) {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
	}
	msg := fmt.Sprintf("%v: %s: %s", e.Kind, e.Op, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Description is the human readable text of the failure code.
func (e *Error) Description() string {
	return e.Code.String()
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: av.CodeOf(err), Err: err}
}

func newErrorf(kind error, op string, code av.Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the container code carried by err, or av.CodeOK for nil.
func CodeOf(err error) av.Code {
	if err == nil {
		return av.CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return av.CodeOf(err)
}
