// Package errcode defines the stable, wire-facing error identifiers returned
// by the command surface.
package errcode

import "errors"

// Code is a short, comparable error identifier. It implements error so it
// can be returned and matched directly.
type Code string

func (c Code) Error() string { return string(c) }

const (
	InvalidPayload Code = "invalid_payload"
	InvalidPhase   Code = "invalid_phase"
	Unsupported    Code = "unsupported"
	NotReady       Code = "not_ready"
	Unauthorized   Code = "unauthorized"

	Error Code = "error" // generic fallback
)

// E carries a Code together with the failed operation and its cause.
type E struct {
	C   Code
	Op  string
	Err error
}

func (e *E) Error() string {
	if e.Op != "" {
		return e.Op + ": " + string(e.C)
	}
	return string(e.C)
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap returns an *E for op with code c and cause err.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from err, defaulting to Error. A nil err has no code.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}
