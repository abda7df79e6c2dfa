package frpmon

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/frpmon/internal/config"
	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/history"
	"github.com/loykin/frpmon/internal/history/factory"
	"github.com/loykin/frpmon/internal/metrics"
	"github.com/loykin/frpmon/internal/relay"
	"github.com/loykin/frpmon/internal/runner"
	iapi "github.com/loykin/frpmon/internal/server"
	"github.com/loykin/frpmon/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = runner.Spec

type Endpoint = relay.Endpoint

type ProxySpec = relay.ProxySpec

type Event = event.Event

type Sample = event.Sample

type Subscription = event.Subscription

// Event kinds delivered to subscribers.
const (
	KindStdout  = event.KindStdout
	KindStderr  = event.KindStderr
	KindClosed  = event.KindClosed
	KindTraffic = event.KindTraffic
)

type Status = supervisor.Status

type Options = supervisor.Options

type WatchdogOptions = supervisor.WatchdogOptions

type CloseOptions = supervisor.CloseOptions

type Config = config.Config

type HistorySink = history.Sink

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) (*Supervisor, error) {
	s, err := supervisor.New(opts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: s}, nil
}

// NewFromConfig builds a supervisor from a loaded config, including its
// configured history sink. Proxies and autostart are left to the caller.
func NewFromConfig(c *Config, log *slog.Logger) (*Supervisor, error) {
	var sinks []HistorySink
	if c.History.DSN != "" {
		sink, err := NewHistorySink(c.History.DSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	s, err := New(c.SupervisorOptions(log, sinks))
	if err != nil {
		_ = history.CloseAll(sinks)
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) Start(spec Spec) (int, error)       { return s.inner.Start(spec) }
func (s *Supervisor) Stop() error                        { return s.inner.Stop() }
func (s *Supervisor) Running() bool                      { return s.inner.Running() }
func (s *Supervisor) ApplyProxies(eps []Endpoint) error  { return s.inner.ApplyProxies(eps) }
func (s *Supervisor) ApplySpecs(specs []ProxySpec) error { return s.inner.ApplySpecs(specs) }
func (s *Supervisor) Proxies() []Endpoint                { return s.inner.Proxies() }
func (s *Supervisor) Subscribe() *Subscription           { return s.inner.Subscribe() }
func (s *Supervisor) Status(ctx context.Context) Status  { return s.inner.Status(ctx) }
func (s *Supervisor) Close(ctx context.Context, opts CloseOptions) error {
	return s.inner.Close(ctx, opts)
}

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewHTTPServer returns an unstarted HTTP server exposing the control API.
// Start requests fill empty fields from defaults.
func NewHTTPServer(addr, basePath string, s *Supervisor, defaults Spec) *http.Server {
	r := iapi.NewRouter(s.inner, basePath, defaults, slog.Default())
	return iapi.NewServer(addr, r.Handler())
}

// NewHistorySink opens a sink from a sqlite://, postgres:// or clickhouse:// DSN.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
