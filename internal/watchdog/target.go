package watchdog

import "fmt"

// Kind says how a Target identifies the process tree to clean up.
type Kind int

const (
	None Kind = iota
	ProcessGroup
	PID
)

// Target is the watchdog's single piece of state.
type Target struct {
	Kind Kind
	ID   int
}

func (t Target) String() string {
	switch t.Kind {
	case ProcessGroup:
		return fmt.Sprintf("pg %d", t.ID)
	case PID:
		return fmt.Sprintf("pid %d", t.ID)
	}
	return "none"
}

// Terminator kills the process tree a target names. Failures are swallowed.
type Terminator interface {
	TerminateTree(t Target)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(Target)

func (f TerminatorFunc) TerminateTree(t Target) { f(t) }
