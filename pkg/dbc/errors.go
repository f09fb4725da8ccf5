package dbc

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMessage = errors.New("dbc: unknown message")
	ErrUnknownFrame   = errors.New("dbc: unknown frame id")
	ErrShortPayload   = errors.New("dbc: payload shorter than message")
	ErrMissingSignal  = errors.New("dbc: missing signal value")
	ErrOutOfRange     = errors.New("dbc: signal value out of range")
	ErrBadValue       = errors.New("dbc: unusable signal value")
)

// ParseError reports a DBC file that could not be parsed or compiled.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dbc: %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
