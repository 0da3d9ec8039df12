package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// File outcome labels.
const (
	OutcomeSuccess        = "success"
	OutcomeFailed         = "failed"
	OutcomeSkipped        = "skipped"
	OutcomeSchemaRejected = "schema_rejected"
	OutcomeDeferred       = "deferred"
)

// Collector holds the pipeline metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	filesTotal       *prometheus.CounterVec
	rowsTotal        *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	runDuration      prometheus.Histogram
	scansTotal       prometheus.Counter
	lastScanUnixTime prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_elt_files_total",
			Help: "Files handled by the orchestrator, by outcome",
		}, []string{"outcome"}),

		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_elt_rows_total",
			Help: "Transformed rows, by classification",
		}, []string{"classification"}),

		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_elt_failures_total",
			Help: "File-level failures, by reason",
		}, []string{"reason"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensor_elt_run_duration_seconds",
			Help:    "Wall time of one run from open to finalize",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),

		scansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_elt_scans_total",
			Help: "Directory scans completed",
		}),

		lastScanUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_elt_last_scan_timestamp_seconds",
			Help: "Unix time the last directory scan finished",
		}),
	}

	registry.MustRegister(
		c.filesTotal,
		c.rowsTotal,
		c.failuresTotal,
		c.runDuration,
		c.scansTotal,
		c.lastScanUnixTime,
	)

	return c
}

func (c *Collector) FileProcessed(outcome string) {
	c.filesTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RowsTransformed(valid, rejected int) {
	c.rowsTotal.WithLabelValues("valid").Add(float64(valid))
	c.rowsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

func (c *Collector) Failure(reason string) {
	c.failuresTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveRun(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
}

func (c *Collector) ScanCompleted(at time.Time) {
	c.scansTotal.Inc()
	c.lastScanUnixTime.Set(float64(at.Unix()))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
