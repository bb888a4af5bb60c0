package stats

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forumsync"

const (
	Connects        = "connects_total"
	Reconnects      = "reconnects_total"
	ConnectFailures = "connect_failures_total"
	ActiveConns     = "active_connections"
	EventsReceived  = "events_received_total"
	EventsSent      = "events_sent_total"
	EventsDropped   = "events_dropped_total"
	HandlerErrors   = "handler_errors_total"
	Subscriptions   = "router_subscriptions"
	PendingMessages = "pending_messages"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewStatsUpdater creates a new stats updater instance. When mux is not nil
// the metrics are served on GET /metrics.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
	su.initializeMetrics()

	if mux != nil {
		mux.Handle("GET /metrics", su.Handler())
	}

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_milliseconds",
		Help:      "Milliseconds since the process started.",
	}, func() float64 {
		return float64(time.Since(startTime).Milliseconds())
	}))
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func isCounter(name string) bool {
	return strings.HasSuffix(name, "_total")
}

// RegisterMetric registers a counter for names ending in _total and a
// gauge otherwise. Registering the same name twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if isCounter(name) {
		if _, ok := su.counters[name]; ok {
			return
		}
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		})
		su.registry.MustRegister(c)
		su.counters[name] = c
		return
	}

	if _, ok := su.gauges[name]; ok {
		return
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}

func (su *StatsUpdater) counter(name string) prometheus.Counter {
	su.mu.RLock()
	defer su.mu.RUnlock()

	c, ok := su.counters[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return c
}

func (su *StatsUpdater) Incr(name string) {
	if isCounter(name) {
		su.counter(name).Inc()
		return
	}
	su.gauge(name).Inc()
}

// Decr lowers a gauge. Counters only go up.
func (su *StatsUpdater) Decr(name string) {
	if isCounter(name) {
		panic("cannot decrement counter: " + name)
	}
	su.gauge(name).Dec()
}
