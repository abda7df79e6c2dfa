package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:7400/api"

// Client talks to a frpmon daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	// stream has no overall timeout; event streams are long-lived.
	stream *http.Client
	logger *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// TLS is used for https base URLs; nil means the system roots.
	TLS *tls.Config
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil {
		transport.TLSClientConfig = config.TLS
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		stream:  &http.Client{Transport: transport},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
	}
	return err == nil
}

// Start launches the managed process and returns its pid.
func (c *Client) Start(ctx context.Context, req StartRequest) (int, error) {
	var resp startResponse
	if err := c.do(ctx, http.MethodPost, "/start", req, &resp); err != nil {
		return 0, err
	}
	c.logger.Debug("process started", "pid", resp.PID)
	return resp.PID, nil
}

// Stop kills the managed process; stopping an idle daemon succeeds.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, nil)
}

// Status returns the daemon's process and proxy state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Proxies lists the active proxies with their bound addresses.
func (c *Client) Proxies(ctx context.Context) ([]Endpoint, error) {
	var eps []Endpoint
	if err := c.do(ctx, http.MethodGet, "/proxies", nil, &eps); err != nil {
		return nil, err
	}
	return eps, nil
}

// ApplyProxies replaces the active proxy set. An empty list stops relaying.
func (c *Client) ApplyProxies(ctx context.Context, eps []Endpoint) error {
	if eps == nil {
		eps = []Endpoint{}
	}
	return c.do(ctx, http.MethodPut, "/proxies", eps, nil)
}

// Events subscribes to the daemon's event stream, optionally restricted to
// kinds. The channel is closed when ctx ends or the stream breaks.
func (c *Client) Events(ctx context.Context, kinds ...string) (<-chan Event, error) {
	u := c.baseURL + "/events"
	if len(kinds) > 0 {
		u += "?kinds=" + url.QueryEscape(strings.Join(kinds, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.errorFrom(resp)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		if err := readEvents(resp.Body, func(e Event) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}); err != nil && ctx.Err() == nil {
			c.logger.Debug("event stream ended", "error", err)
		}
	}()
	return out, nil
}

// readEvents parses a text/event-stream body, calling emit per event until it
// returns false or the body ends.
func readEvents(r io.Reader, emit func(Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		kind string
		data []string
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 || kind != "" {
				e := Event{Kind: kind, Data: strings.Join(data, "\n")}
				if e.Kind == "" {
					e.Kind = "message"
				}
				if !emit(e) {
					return nil
				}
			}
			kind, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
