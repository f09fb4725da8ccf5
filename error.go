package canman

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err}
}

// IsRecoverable reports whether err is not marked unrecoverable anywhere in
// its chain.
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrUnknownAdapter = errors.New("unknown adapter")
	ErrInvalidBitrate = errors.New("bitrate must be positive")
	ErrClosed         = errors.New("bus closed")
	ErrDroppedFrame   = errors.New("adapter incoming channel full")
	ErrSendTimeout    = errors.New("timeout sending frame")
	ErrInvalidFrame   = errors.New("invalid frame")
)

type TimeoutError struct {
	Timeout int64
	Frame   uint32
	Type    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout (%dms) for frame 0x%03X", e.Type, e.Timeout, e.Frame)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrSendTimeout && e.Type == "send"
}
