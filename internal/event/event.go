package event

import "time"

// Kind names one of the upward notifications emitted by the supervisor.
type Kind string

const (
	KindStdout  Kind = "log.stdout"
	KindStderr  Kind = "log.stderr"
	KindError   Kind = "log.error"
	KindClosed  Kind = "process.closed"
	KindTraffic Kind = "traffic.sample"
)

// Sample is one proxy's entry in a traffic.sample batch.
type Sample struct {
	ID        string  `json:"id"`
	UpBps     float64 `json:"up_bps"`
	DownBps   float64 `json:"down_bps"`
	UpTotal   uint64  `json:"up_total"`
	DownTotal uint64  `json:"down_total"`
}

// ClosePayload is the body of a process.closed notification. Code is nil when
// the exit status could not be determined (e.g. the process was killed by a signal).
type ClosePayload struct {
	Code *int `json:"code"`
}

// Event is a single fire-and-forget notification. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line,omitempty"`
	Code    *int      `json:"code,omitempty"`
	Samples []Sample  `json:"samples,omitempty"`
}

// Payload returns the wire body for the event's kind: a string for log kinds,
// a ClosePayload for process.closed and the sample list for traffic.sample.
func (e Event) Payload() any {
	switch e.Kind {
	case KindClosed:
		return ClosePayload{Code: e.Code}
	case KindTraffic:
		if e.Samples == nil {
			return []Sample{}
		}
		return e.Samples
	default:
		return e.Line
	}
}

func Stdout(line string) Event { return Event{Kind: KindStdout, Time: time.Now(), Line: line} }
func Stderr(line string) Event { return Event{Kind: KindStderr, Time: time.Now(), Line: line} }
func Error(msg string) Event   { return Event{Kind: KindError, Time: time.Now(), Line: msg} }

// Closed builds a process.closed event. A nil code means "unknown".
func Closed(code *int) Event {
	return Event{Kind: KindClosed, Time: time.Now(), Code: code}
}

// Traffic builds a traffic.sample batch event.
func Traffic(samples []Sample) Event {
	return Event{Kind: KindTraffic, Time: time.Now(), Samples: samples}
}

// Emitter receives events. Implementations must never block the caller.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
