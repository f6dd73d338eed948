// Package metrics exposes Prometheus collectors for the panel pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naka-gawa/oss-stamp/internal/cache"
	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/gateway"
	"github.com/naka-gawa/oss-stamp/internal/injection"
	"github.com/naka-gawa/oss-stamp/internal/navigation"
)

const namespace = "oss_stamp"

// Manager records fetch, cache, navigation and lifecycle observations.
type Manager struct {
	registry *prometheus.Registry

	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	cacheLoads     *prometheus.CounterVec
	cacheLoadTime  prometheus.Histogram
	navSignals     *prometheus.CounterVec
	injectionEvent *prometheus.CounterVec
	mounted        prometheus.Gauge
}

var (
	_ gateway.Recorder    = (*Manager)(nil)
	_ cache.Recorder      = (*Manager)(nil)
	_ navigation.Recorder = (*Manager)(nil)
	_ injection.Recorder  = (*Manager)(nil)
)

// NewManager registers all collectors on a fresh registry.
func NewManager() *Manager {
	return NewManagerWithRegistry(prometheus.NewRegistry())
}

// NewManagerWithRegistry registers all collectors on registry.
func NewManagerWithRegistry(registry *prometheus.Registry) *Manager {
	auto := promauto.With(registry)
	return &Manager{
		registry: registry,
		fetches: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fetches_total",
			Help:      "GitHub queries by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		fetchDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fetch_duration_seconds",
			Help:      "GitHub query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		cacheLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by outcome.",
		}, []string{"outcome"}),
		cacheLoads: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "loads_total",
			Help:      "Aggregation loads by result.",
		}, []string{"success"}),
		cacheLoadTime: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "load_duration_seconds",
			Help:      "Aggregation load latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		navSignals: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "signals_total",
			Help:      "Navigation signals by source and whether the location changed.",
		}, []string{"source", "changed"}),
		injectionEvent: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "injection",
			Name:      "events_total",
			Help:      "Panel lifecycle events.",
		}, []string{"event"}),
		mounted: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "injection",
			Name:      "mounted",
			Help:      "1 while a panel is mounted.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FetchObserved implements gateway.Recorder.
func (m *Manager) FetchObserved(op string, err error, elapsed time.Duration) {
	m.fetches.WithLabelValues(op, outcome(err)).Inc()
	m.fetchDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// CacheLookup implements cache.Recorder.
func (m *Manager) CacheLookup(outcome string) {
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// CacheLoad implements cache.Recorder.
func (m *Manager) CacheLoad(err error, elapsed time.Duration) {
	m.cacheLoads.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	m.cacheLoadTime.Observe(elapsed.Seconds())
}

// NavigationSignal implements navigation.Recorder.
func (m *Manager) NavigationSignal(source string, changed bool) {
	m.navSignals.WithLabelValues(source, strconv.FormatBool(changed)).Inc()
}

// InjectionEvent implements injection.Recorder.
func (m *Manager) InjectionEvent(event string) {
	m.injectionEvent.WithLabelValues(event).Inc()
	switch event {
	case injection.EventMounted:
		m.mounted.Set(1)
	case injection.EventUnmounted:
		m.mounted.Set(0)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch domain.KindOf(err) {
	case domain.KindRateLimited:
		return "rate_limited"
	case domain.KindNotFound:
		return "not_found"
	case domain.KindTimeout:
		return "timeout"
	default:
		return "transport"
	}
}
