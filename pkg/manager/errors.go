package manager

import (
	"errors"
	"fmt"
)

// Stage names the manager operation an error escaped from.
type Stage string

const (
	StageLoad   Stage = "load"
	StageOpen   Stage = "open"
	StageLookup Stage = "lookup"
	StageEncode Stage = "encode"
	StageSend   Stage = "send"
	StageStats  Stage = "stats"
	StageRecv   Stage = "recv"
)

var (
	ErrNoBus      = errors.New("no bus")
	ErrNoDatabase = errors.New("no database")
)

// StageError wraps an error with the stage it happened in. The wrapped error
// is reachable through errors.Is and errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
