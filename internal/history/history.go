package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType defines the kind of run lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventExit  EventType = "exit"
)

// Exit reasons recorded on EventExit.
const (
	ReasonExited   = "exited"   // the child ended on its own
	ReasonStopped  = "stopped"  // killed by an explicit stop
	ReasonShutdown = "shutdown" // killed while the supervisor was closing
)

// Record describes a single run of the supervised child.
type Record struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Exe       string    `json:"exe"`
	Args      []string  `json:"args,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// NewRunID derives a run identifier from the pid and start time, which is
// unique even when pids are recycled.
func NewRunID(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UnixNano())
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatch sends e to every sink and joins the failures.
func Dispatch(ctx context.Context, sinks []Sink, e Event) error {
	var errs []error
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every sink that implements io.Closer.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
