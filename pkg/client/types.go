package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// StartRequest is the body of POST /start. Empty fields fall back to the
// daemon's configured defaults; a non-nil empty Args clears them.
type StartRequest struct {
	Exe     string   `json:"exe,omitempty"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type startResponse struct {
	PID int `json:"pid"`
}

// Endpoint is one proxy: accept on Listen, forward to Destination.
type Endpoint struct {
	ID          string `json:"id"`
	Listen      string `json:"listen"`
	Destination string `json:"destination"`
}

// Sample is the traffic of one proxy at the last sampler tick.
type Sample struct {
	ID        string  `json:"id"`
	UpBps     float64 `json:"up_bps"`
	DownBps   float64 `json:"down_bps"`
	UpTotal   uint64  `json:"up_total"`
	DownTotal uint64  `json:"down_total"`
}

// Resources is a resource snapshot of the managed process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status is the body of GET /status.
type Status struct {
	Running   bool       `json:"running"`
	PID       int        `json:"pid"`
	Resources *Resources `json:"resources,omitempty"`
	Proxies   []Sample   `json:"proxies"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-200 answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Event kinds streamed by GET /events.
const (
	KindStdout  = "log.stdout"
	KindStderr  = "log.stderr"
	KindError   = "log.error"
	KindClosed  = "process.closed"
	KindTraffic = "traffic.sample"
)

// Event is one server-sent event. Data is the raw payload: the line for log
// kinds, JSON for the others.
type Event struct {
	Kind string
	Data string
}

// ExitCode decodes a process.closed payload. nil means the code is unknown.
func (e Event) ExitCode() (*int, error) {
	var p struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal([]byte(e.Data), &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return p.Code, nil
}

// Samples decodes a traffic.sample payload.
func (e Event) Samples() ([]Sample, error) {
	var s []Sample
	if err := json.Unmarshal([]byte(e.Data), &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return s, nil
}
