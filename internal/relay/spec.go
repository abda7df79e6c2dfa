package relay

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Endpoint is a proxy as configured: accept on Listen, forward to Destination.
type Endpoint struct {
	ID          string `json:"id" mapstructure:"id"`
	Listen      string `json:"listen" mapstructure:"listen"`
	Destination string `json:"destination" mapstructure:"destination"`
}

// ProxySpec is a bound proxy. Ownership of Listener passes to the Relay on Apply.
type ProxySpec struct {
	ID          string
	Listener    net.Listener
	Destination string
}

// ValidateEndpoints rejects empty fields and duplicate ids.
func ValidateEndpoints(eps []Endpoint) error {
	seen := make(map[string]bool, len(eps))
	for i, ep := range eps {
		if strings.TrimSpace(ep.ID) == "" {
			return fmt.Errorf("relay: proxy #%d has no id", i)
		}
		if seen[ep.ID] {
			return fmt.Errorf("relay: duplicate proxy id %q", ep.ID)
		}
		seen[ep.ID] = true
		if ep.Listen == "" {
			return fmt.Errorf("relay: proxy %q has no listen address", ep.ID)
		}
		if ep.Destination == "" {
			return fmt.Errorf("relay: proxy %q has no destination", ep.ID)
		}
	}
	return nil
}

func validateSpecs(specs []ProxySpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Listener == nil {
			return fmt.Errorf("relay: proxy %q has no listener", s.ID)
		}
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("relay: missing or duplicate proxy id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Bind opens a TCP listener for every endpoint. On failure the listeners
// already opened are closed again.
func Bind(eps []Endpoint) ([]ProxySpec, error) {
	if err := ValidateEndpoints(eps); err != nil {
		return nil, err
	}
	specs := make([]ProxySpec, 0, len(eps))
	for _, ep := range eps {
		ln, err := net.Listen("tcp", ep.Listen)
		if err != nil {
			closeSpecs(specs)
			return nil, fmt.Errorf("relay: bind proxy %q on %s: %w", ep.ID, ep.Listen, err)
		}
		specs = append(specs, ProxySpec{ID: ep.ID, Listener: ln, Destination: ep.Destination})
	}
	return specs, nil
}

func closeSpecs(specs []ProxySpec) {
	for _, s := range specs {
		if s.Listener != nil {
			_ = s.Listener.Close()
		}
	}
}

// ErrClosed is returned by Apply after Close.
var ErrClosed = errors.New("relay: closed")

// ConnError describes a failure confined to one relayed connection.
type ConnError struct {
	ID   string
	Peer string
	Op   string // "dial" or "copy"
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("relay: proxy %s peer %s: %s: %v", e.ID, e.Peer, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }
