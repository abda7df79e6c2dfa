package watchdog

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Grace periods between SIGTERM and SIGKILL.
const (
	DefaultGroupGrace = 300 * time.Millisecond
	DefaultPIDGrace   = 200 * time.Millisecond
)

// Options tunes the watchdog.
type Options struct {
	GroupGrace time.Duration
	PIDGrace   time.Duration
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.GroupGrace <= 0 {
		o.GroupGrace = DefaultGroupGrace
	}
	if o.PIDGrace <= 0 {
		o.PIDGrace = DefaultPIDGrace
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Outcome reports how Run ended.
type Outcome struct {
	// Target is the state when the stream ended.
	Target Target
	// Cleaned is true when TerminateTree was invoked.
	Cleaned bool
	// Detached is true when a DETACH command ended the loop.
	Detached bool
}

// Run applies commands read from r until end-of-stream, then terminates the
// current target. A DETACH command returns immediately without cleanup.
// Cancelling ctx stops after the current line and still runs cleanup, which
// mirrors the supervisor disappearing.
func Run(ctx context.Context, r io.Reader, term Terminator, opts Options) Outcome {
	opts = opts.withDefaults()
	log := opts.Logger

	var target Target
	br := bufio.NewReader(r)
	for ctx.Err() == nil {
		line, err := br.ReadString('\n')
		if line != "" {
			var detached bool
			target, detached = apply(target, line, log)
			if detached {
				log.Info("detached", "target", target.String())
				return Outcome{Target: target, Detached: true}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("link read failed", "error", err)
			}
			break
		}
	}

	out := Outcome{Target: target}
	if target.Kind != None {
		log.Info("link closed, terminating", "target", target.String())
		term.TerminateTree(target)
		out.Cleaned = true
	}
	return out
}

// apply returns the target after one command line. Malformed lines leave it
// unchanged.
func apply(target Target, line string, log *slog.Logger) (Target, bool) {
	line = strings.TrimRight(line, "\r\n")
	cmd, err := ParseCommand(line)
	if err != nil {
		if len(line) > 80 {
			line = line[:80] + "..."
		}
		log.Debug("ignoring line", "line", line)
		return target, false
	}
	switch cmd.Op {
	case OpSetGroup:
		if !groupsSupported {
			log.Debug("process groups unsupported, ignoring", "pg", cmd.ID)
			return target, false
		}
		target = Target{Kind: ProcessGroup, ID: cmd.ID}
	case OpSetPID:
		target = Target{Kind: PID, ID: cmd.ID}
	case OpClear:
		target = Target{}
	case OpDetach:
		return target, true
	}
	log.Debug("target updated", "target", target.String())
	return target, false
}
