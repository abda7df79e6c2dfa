package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyRunning is returned by Start while a child is supervised.
var ErrAlreadyRunning = errors.New("runner: process already running")

// SpawnError reports that the operating system refused to launch the child.
type SpawnError struct {
	Exe  string
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("runner: spawn %s %s: %v", e.Exe, strings.Join(e.Args, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SignalError reports that killing the child failed.
type SignalError struct {
	PID int
	Err error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("runner: kill pid %d: %v", e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
