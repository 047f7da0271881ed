// Package metrics exposes pipeline telemetry as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

const namespace = "snapshot"

// Collector implements snapshot.Observer on top of a private registry.
type Collector struct {
	registry *prometheus.Registry

	framesRouted     prometheus.Counter
	framesDropped    *prometheus.CounterVec
	framesRendered   prometheus.Counter
	renderFailures   prometheus.Counter
	captureRequests  prometheus.Counter
	capturesWritten  prometheus.Counter
	captureFailures  *prometheus.CounterVec
	captureDuration  prometheus.Histogram
	lastCaptureEpoch prometheus.Gauge
}

var _ snapshot.Observer = (*Collector)(nil)

// New creates a collector with its own registry. Go runtime and process
// collectors are registered alongside the pipeline metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_routed_total",
			Help:      "Frames delivered by the router to both branches.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by a full leaky branch queue.",
		}, []string{"branch"}),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames presented by the display branch.",
		}),
		renderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Frames the render sink rejected.",
		}),
		captureRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_requests_total",
			Help:      "Capture commands received from any command source.",
		}),
		capturesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_written_total",
			Help:      "Snapshots encoded and written to disk.",
		}),
		captureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Failed capture attempts by error category.",
		}, []string{"category"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Time from gate consumption to the snapshot being on disk.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		lastCaptureEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_capture_timestamp_seconds",
			Help:      "Unix time of the most recent successful capture.",
		}),
	}

	c.registry.MustRegister(
		c.framesRouted,
		c.framesDropped,
		c.framesRendered,
		c.renderFailures,
		c.captureRequests,
		c.capturesWritten,
		c.captureFailures,
		c.captureDuration,
		c.lastCaptureEpoch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry backing this collector
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FrameRouted() { c.framesRouted.Inc() }

func (c *Collector) FrameDropped(branch string) { c.framesDropped.WithLabelValues(branch).Inc() }

func (c *Collector) FrameRendered() { c.framesRendered.Inc() }

func (c *Collector) RenderFailed() { c.renderFailures.Inc() }

func (c *Collector) CaptureRequested() { c.captureRequests.Inc() }

func (c *Collector) CaptureWritten(elapsed time.Duration) {
	c.capturesWritten.Inc()
	c.captureDuration.Observe(elapsed.Seconds())
	c.lastCaptureEpoch.SetToCurrentTime()
}

func (c *Collector) CaptureFailed(category snapshot.ErrorCategory) {
	c.captureFailures.WithLabelValues(category.String()).Inc()
}
