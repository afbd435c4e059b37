package pipeline

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "vision"
	subsystem = "pipeline"
)

// metrics holds the collectors of a pipeline. A nil *metrics records
// nothing.
type metrics struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	nodeDuration *prometheus.HistogramVec
	queued       prometheus.Gauge
	texturesUsed prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "The number of completed pipeline runs, by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Time spent executing a pipeline run, excluding queueing.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "node_duration_seconds",
			Help:      "Time spent executing a node, including its readback.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"node"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queued_runs",
			Help:      "The number of runs waiting for the pipeline to become free.",
		}),
		texturesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_textures_in_use",
			Help:      "The number of pooled textures held between runs.",
		}),
	}

	var err error
	m.runs, err = register(reg, m.runs)
	if err != nil {
		return nil, err
	}
	if m.runDuration, err = register(reg, m.runDuration); err != nil {
		return nil, err
	}
	if m.nodeDuration, err = register(reg, m.nodeDuration); err != nil {
		return nil, err
	}
	if m.queued, err = register(reg, m.queued); err != nil {
		return nil, err
	}
	if m.texturesUsed, err = register(reg, m.texturesUsed); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, or returns the collector already registered
// under the same description so that pipelines can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observeRun(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(time.Since(start).Seconds())
}

func (m *metrics) observeNode(name string, start time.Time) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func (m *metrics) queue(delta float64) {
	if m == nil {
		return
	}
	m.queued.Add(delta)
}

func (m *metrics) texturesInUse(n int) {
	if m == nil {
		return
	}
	m.texturesUsed.Set(float64(n))
}
