package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cappair"

// Run holds the collectors for one caption run. Each run gets its own
// registry so the textfile reflects that run only.
type Run struct {
	registry *prometheus.Registry
	images   *prometheus.CounterVec
	requests prometheus.Histogram
	duration prometheus.Gauge
	lastRun  prometheus.Gauge
}

func NewRun(backendName string) *Run {
	labels := prometheus.Labels{"backend": backendName}
	run := &Run{
		registry: prometheus.NewRegistry(),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "images_total",
			Help:        "Images processed, by outcome.",
			ConstLabels: labels,
		}, []string{"status"}),
		requests: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "image_duration_seconds",
			Help:        "Time spent encoding, requesting and parsing one image.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the last caption run.",
			ConstLabels: labels,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last caption run finished.",
			ConstLabels: labels,
		}),
	}
	run.registry.MustRegister(run.images, run.requests, run.duration, run.lastRun)
	// pre-create both series so a clean run still reports failed=0
	run.images.WithLabelValues("succeeded")
	run.images.WithLabelValues("failed")
	return run
}

// ObserveImage records the outcome of one image.
func (r *Run) ObserveImage(ok bool, elapsed time.Duration) {
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	r.images.WithLabelValues(status).Inc()
	r.requests.Observe(elapsed.Seconds())
}

// Finish stamps the run duration and completion time.
func (r *Run) Finish(duration time.Duration, now time.Time) {
	r.duration.Set(duration.Seconds())
	r.lastRun.Set(float64(now.Unix()))
}

// Registry exposes the underlying registry for gathering.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the run's metrics in the node-exporter textfile
// collector format. An empty path is a no-op.
func (r *Run) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
