package av

import (
	"errors"
	"fmt"
)

// Code is a numeric failure reason reported by descriptor builders and
// container writers. Code.String gives the human readable description.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeUnknownFormat
	CodeCodecUnsupported
	CodeInvalidData
	CodeNonMonotonicDTS
	CodeNegativeTimestamp
	CodeStreamNotFound
	CodeNotOpen
	CodeHeaderNotWritten
	CodeAlreadyOpen
	CodeBusy
	CodeIO
)

var codeText = map[Code]string{
	CodeOK:                "success",
	CodeInvalidArgument:   "invalid argument",
	CodeUnknownFormat:     "output format not found",
	CodeCodecUnsupported:  "codec not supported by container",
	CodeInvalidData:       "invalid data found when processing input",
	CodeNonMonotonicDTS:   "non monotonically increasing dts",
	CodeNegativeTimestamp: "negative timestamp",
	CodeStreamNotFound:    "stream not found",
	CodeNotOpen:           "output not open",
	CodeHeaderNotWritten:  "header not written",
	CodeAlreadyOpen:       "output already open",
	CodeBusy:              "output path in use by another session",
	CodeIO:                "i/o error",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error %d", int(c))
}

// Error carries a Code together with the operation that failed and an
// optional underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted cause.
func Errorf(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches code and op to err. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, or CodeIO for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIO
}
