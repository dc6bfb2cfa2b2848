// Package metrics exports session activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/storage"
)

const namespace = "speedpulse"

// Exporter records session events into its own registry.
// It implements session.Recorder.
type Exporter struct {
	registry *prometheus.Registry

	phaseGauge      *prometheus.GaugeVec
	speedGauge      *prometheus.GaugeVec
	sampleCounter   *prometheus.CounterVec
	pingHistogram   prometheus.Histogram
	transitions     *prometheus.CounterVec
	outOfOrder      *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	iterations      prometheus.Counter
	iterationGauge  *prometheus.GaugeVec
	sessionsCounter *prometheus.CounterVec
}

// NewExporter creates an exporter with the Go and process collectors registered
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		phaseGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_phase",
				Help:      "1 for the current session phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		speedGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_value",
				Help:      "Latest sample per metric (ping in ms, throughput in Mbps)",
			},
			[]string{"kind"},
		),
		sampleCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_total",
				Help:      "Samples accepted per metric",
			},
			[]string{"kind"},
		),
		pingHistogram: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ping_ms",
				Help:      "Ping samples in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~2s
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Session phase transitions",
			},
			[]string{"from", "to"},
		),
		outOfOrder: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_out_of_order_total",
				Help:      "Events accepted outside their expected phase",
			},
			[]string{"event"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events dropped as malformed or not allowed",
			},
			[]string{"event"},
		),
		iterations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Continuous test iterations recorded",
			},
		),
		iterationGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_iteration_value",
				Help:      "Result of the most recent iteration per metric",
			},
			[]string{"kind"},
		),
		sessionsCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Sessions ended by mode and final phase",
			},
			[]string{"mode", "outcome"},
		),
	}

	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.phaseGauge,
		e.speedGauge,
		e.sampleCounter,
		e.pingHistogram,
		e.transitions,
		e.outOfOrder,
		e.rejected,
		e.iterations,
		e.iterationGauge,
		e.sessionsCounter,
	)

	e.setPhase(session.PhaseIdle)
	return e
}

// Registry returns the registry the exporter writes to
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// PhaseChanged records a transition and moves the phase gauge
func (e *Exporter) PhaseChanged(from, to session.Phase) {
	e.transitions.WithLabelValues(string(from), string(to)).Inc()
	e.setPhase(to)
}

// SampleRecorded records an accepted live sample
func (e *Exporter) SampleRecorded(kind storage.Kind, value float64) {
	e.sampleCounter.WithLabelValues(string(kind)).Inc()
	e.speedGauge.WithLabelValues(string(kind)).Set(value)
	if kind == storage.KindPing {
		e.pingHistogram.Observe(value)
	}
}

// EventOutOfOrder counts an event accepted outside its phase
func (e *Exporter) EventOutOfOrder(eventType string) {
	e.outOfOrder.WithLabelValues(eventType).Inc()
}

// EventRejected counts a dropped event
func (e *Exporter) EventRejected(eventType string) {
	e.rejected.WithLabelValues(eventType).Inc()
}

// IterationRecorded records a continuous iteration result
func (e *Exporter) IterationRecorded(result stability.IterationResult) {
	e.iterations.Inc()
	e.iterationGauge.WithLabelValues(string(storage.KindPing)).Set(result.Ping)
	e.iterationGauge.WithLabelValues(string(storage.KindDownload)).Set(result.Download)
	e.iterationGauge.WithLabelValues(string(storage.KindUpload)).Set(result.Upload)
}

// SessionEnded counts a session reaching a terminal phase
func (e *Exporter) SessionEnded(mode session.Mode, phase session.Phase) {
	e.sessionsCounter.WithLabelValues(string(mode), string(phase)).Inc()
}

func (e *Exporter) setPhase(current session.Phase) {
	for _, p := range session.Phases {
		v := 0.0
		if p == current {
			v = 1
		}
		e.phaseGauge.WithLabelValues(string(p)).Set(v)
	}
}
