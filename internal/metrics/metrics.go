package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runnerStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "runner",
			Name:      "starts_total",
			Help:      "Number of successful child spawns.",
		},
	)
	runnerSpawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "runner",
			Name:      "spawn_failures_total",
			Help:      "Number of spawn attempts that failed before the child ran.",
		},
	)
	runnerStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "runner",
			Name:      "stops_total",
			Help:      "Number of explicit stop requests that killed a child.",
		},
	)
	runnerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "runner",
			Name:      "exits_total",
			Help:      "Observed child exits by exit code (\"unknown\" when signalled).",
		}, []string{"code"},
	)
	runnerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "frpmon",
			Subsystem: "runner",
			Name:      "running",
			Help:      "1 while a child is being supervised.",
		},
	)

	relayBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes relayed per proxy and direction (up = client to destination).",
		}, []string{"proxy", "direction"},
	)
	relayConnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Accepted connections per proxy.",
		}, []string{"proxy"},
	)
	relayConnsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Connections currently being relayed per proxy.",
		}, []string{"proxy"},
	)
	relayConnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "connection_errors_total",
			Help:      "Connections that ended with a dial or copy error.",
		}, []string{"proxy"},
	)
	relayGenerations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "generations_total",
			Help:      "Number of proxy sets applied.",
		},
	)
	relayProxies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "frpmon",
			Subsystem: "relay",
			Name:      "proxies",
			Help:      "Proxies in the active generation.",
		},
	)

	watchdogCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "watchdog",
			Name:      "commands_total",
			Help:      "Commands written to the watchdog.",
		}, []string{"command"},
	)
	watchdogWriteErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "watchdog",
			Name:      "write_errors_total",
			Help:      "Failed writes to the watchdog link.",
		},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frpmon",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber fell behind.",
		}, []string{"kind"},
	)

	processCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "frpmon",
			Subsystem: "child",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the supervised child.",
		},
	)
	processRSSBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "frpmon",
			Subsystem: "child",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the supervised child.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		runnerStarts, runnerSpawnFailures, runnerStops, runnerExits, runnerRunning,
		relayBytes, relayConnsTotal, relayConnsActive, relayConnErrors, relayGenerations, relayProxies,
		watchdogCommands, watchdogWriteErrors,
		eventsDropped,
		processCPUPercent, processRSSBytes,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer, mostly useful in tests.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		runnerStarts.Inc()
		runnerRunning.Set(1)
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		runnerSpawnFailures.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		runnerStops.Inc()
	}
}

// ObserveExit records a child exit. code is nil when the status is unknown.
func ObserveExit(code *int) {
	if !regOK.Load() {
		return
	}
	label := "unknown"
	if code != nil {
		label = strconv.Itoa(*code)
	}
	runnerExits.WithLabelValues(label).Inc()
	runnerRunning.Set(0)
}

func AddRelayBytes(proxy string, up, down uint64) {
	if !regOK.Load() {
		return
	}
	if up > 0 {
		relayBytes.WithLabelValues(proxy, "up").Add(float64(up))
	}
	if down > 0 {
		relayBytes.WithLabelValues(proxy, "down").Add(float64(down))
	}
}

func ConnOpened(proxy string) {
	if regOK.Load() {
		relayConnsTotal.WithLabelValues(proxy).Inc()
		relayConnsActive.WithLabelValues(proxy).Inc()
	}
}

func ConnClosed(proxy string, failed bool) {
	if !regOK.Load() {
		return
	}
	relayConnsActive.WithLabelValues(proxy).Dec()
	if failed {
		relayConnErrors.WithLabelValues(proxy).Inc()
	}
}

func ObserveGeneration(proxies int) {
	if regOK.Load() {
		relayGenerations.Inc()
		relayProxies.Set(float64(proxies))
	}
}

func IncWatchdogCommand(cmd string) {
	if regOK.Load() {
		watchdogCommands.WithLabelValues(cmd).Inc()
	}
}

func IncWatchdogWriteError() {
	if regOK.Load() {
		watchdogWriteErrors.Inc()
	}
}

func IncEventDropped(kind string) {
	if regOK.Load() {
		eventsDropped.WithLabelValues(kind).Inc()
	}
}

func setChildResources(cpu float64, rss uint64) {
	if regOK.Load() {
		processCPUPercent.Set(cpu)
		processRSSBytes.Set(float64(rss))
	}
}
