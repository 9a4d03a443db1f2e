// Package metrics provides Prometheus metrics for bootstrap passes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modgraph"

// Pass results used as the "result" label.
const (
	ResultOK         = "ok"
	ResultRolledBack = "rolled_back"
	ResultFailed     = "failed"
)

// Collector holds all Prometheus metrics for the module graph.
type Collector struct {
	// Pass metrics
	PassesTotal  *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec
	Rollbacks    prometheus.Counter

	// Graph metrics
	Modules            prometheus.Gauge
	CollisionsResolved prometheus.Counter
	DependenciesPulled prometheus.Counter

	// Extension metrics
	ExtensionInits    *prometheus.CounterVec
	ExtensionDuration prometheus.Histogram

	// Manifest metrics
	ManifestReloads      prometheus.Counter
	ManifestReloadErrors prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates a collector registered with a fresh registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		PassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstrap_passes_total",
				Help:      "Total number of bootstrap and reinit passes by result",
			},
			[]string{"kind", "result"},
		),
		PassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bootstrap_pass_duration_seconds",
				Help:      "Bootstrap pass duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		Rollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of module graph rollbacks after a failed reinit",
			},
		),
		Modules: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules",
				Help:      "Number of modules in the live graph",
			},
		),
		CollisionsResolved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collisions_resolved_total",
				Help:      "Total number of provider collisions settled by a resolution directive",
			},
		),
		DependenciesPulled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependencies_pulled_total",
				Help:      "Total number of transitive dependencies pulled into importing modules",
			},
		),
		ExtensionInits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_inits_total",
				Help:      "Total number of extension Init calls by result",
			},
			[]string{"result"},
		),
		ExtensionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extension_init_duration_seconds",
				Help:      "Extension Init duration in seconds",
				Buckets:   []float64{.0001, .001, .01, .1, .5, 1, 5},
			},
		),
		ManifestReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_reloads_total",
				Help:      "Total number of successful manifest reloads",
			},
		),
		ManifestReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_reload_errors_total",
				Help:      "Total number of failed manifest reloads",
			},
		),
		gatherer: reg,
	}
}

// ObservePass records one finished pass.
func (c *Collector) ObservePass(kind, result string, d time.Duration) {
	c.PassesTotal.WithLabelValues(kind, result).Inc()
	c.PassDuration.WithLabelValues(kind).Observe(d.Seconds())
	if result == ResultRolledBack {
		c.Rollbacks.Inc()
	}
}

// ObserveExtension records one extension Init call.
func (c *Collector) ObserveExtension(d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	c.ExtensionInits.WithLabelValues(result).Inc()
	c.ExtensionDuration.Observe(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
