package watchdog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned by ParseCommand for lines that are not a command.
var ErrMalformed = errors.New("watchdog: malformed command")

// Op is a watchdog command verb.
type Op int

const (
	OpSetGroup Op = iota + 1
	OpSetPID
	OpClear
	OpDetach
)

// Command is one line of the link protocol.
type Command struct {
	Op Op
	ID int
}

func SetGroupCommand(pgid int) Command { return Command{Op: OpSetGroup, ID: pgid} }
func SetPIDCommand(pid int) Command    { return Command{Op: OpSetPID, ID: pid} }
func ClearCommand() Command            { return Command{Op: OpClear} }
func DetachCommand() Command           { return Command{Op: OpDetach} }

// String renders the command without the trailing newline.
func (c Command) String() string {
	switch c.Op {
	case OpSetGroup:
		return fmt.Sprintf("SET PG %d", c.ID)
	case OpSetPID:
		return fmt.Sprintf("SET PID %d", c.ID)
	case OpClear:
		return "CLEAR"
	case OpDetach:
		return "DETACH"
	}
	return fmt.Sprintf("op(%d)", int(c.Op))
}

// Name is the verb without arguments, used as a metrics label.
func (c Command) Name() string {
	switch c.Op {
	case OpSetGroup:
		return "SET PG"
	case OpSetPID:
		return "SET PID"
	}
	return c.String()
}

// ParseCommand decodes one protocol line. Ids must be positive: 0 and negative
// values address the caller's own group or every process and are rejected.
func ParseCommand(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, ErrMalformed
	}
	switch f[0] {
	case "CLEAR":
		return ClearCommand(), nil
	case "DETACH":
		return DetachCommand(), nil
	case "SET":
		if len(f) < 3 {
			return Command{}, ErrMalformed
		}
		id, err := strconv.Atoi(f[2])
		if err != nil || id <= 0 {
			return Command{}, ErrMalformed
		}
		switch f[1] {
		case "PG":
			return SetGroupCommand(id), nil
		case "PID":
			return SetPIDCommand(id), nil
		}
	}
	return Command{}, ErrMalformed
}
