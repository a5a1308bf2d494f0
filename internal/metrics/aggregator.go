// Package metrics accumulates request latencies into Prometheus histograms
// and exposes them, together with the exporter's own health counters, through
// a private registry.
package metrics

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mrzor/blkiolat/internal/blktrace"
	"github.com/mrzor/blkiolat/internal/lifecycle"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/expfmt"
)

const (
	namespace = "diskio"
	program   = "blkiolat"
)

// Buckets are the histogram upper bounds in seconds, 10µs to 100ms.
var Buckets = []float64{
	0.00001, 0.000025, 0.00005, 0.000075,
	0.0001, 0.00025, 0.0005, 0.00075,
	0.001, 0.0025, 0.005, 0.0075,
	0.01, 0.025, 0.05, 0.075,
	0.1,
}

var _ lifecycle.Observer = (*Aggregator)(nil)

// Kind selects one of the latency histograms.
type Kind int

// Latency histograms.
const (
	Queue Kind = iota
	Service
	Total
)

func (k Kind) String() string {
	switch k {
	case Queue:
		return "queue"
	case Service:
		return "service"
	case Total:
		return "total"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Aggregator owns the latency histograms. Observations and scrapes may run
// concurrently.
type Aggregator struct {
	registry   *prometheus.Registry
	histograms [3]*prometheus.HistogramVec

	linesSkipped *prometheus.CounterVec
	unmatched    prometheus.Counter
	staleDropped prometheus.Counter
	negative     *prometheus.CounterVec
	pendingGauge prometheus.Gauge
}

// New creates an Aggregator with its own registry.
func New() *Aggregator {
	labels := []string{"device", "optype"}
	a := &Aggregator{
		registry: prometheus.NewRegistry(),
		histograms: [3]*prometheus.HistogramVec{
			Queue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_time_seconds",
				Help:      "Time spent in the queue.",
				Buckets:   Buckets,
			}, labels),
			Service: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "disk_time_seconds",
				Help:      "Time spent in the disk (aka service time).",
				Buckets:   Buckets,
			}, labels),
			Total: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "total_time_seconds",
				Help:      "Total time taken by IO requests (aka latency).",
				Buckets:   Buckets,
			}, labels),
		},
		linesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: program,
			Name:      "trace_lines_skipped_total",
			Help:      "Trace records that could not be parsed.",
		}, []string{"reason"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: program,
			Name:      "unmatched_completions_total",
			Help:      "Completions whose insert or issue event was not observed.",
		}),
		staleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: program,
			Name:      "stale_requests_dropped_total",
			Help:      "Pending insert or issue entries dropped because no completion arrived in time.",
		}),
		negative: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: program,
			Name:      "negative_durations_total",
			Help:      "Correlated requests with a negative phase duration.",
		}, []string{"phase"}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: program,
			Name:      "pending_requests",
			Help:      "Insert and issue entries awaiting completion.",
		}),
	}

	a.registry.MustRegister(
		a.histograms[Queue],
		a.histograms[Service],
		a.histograms[Total],
		a.linesSkipped,
		a.unmatched,
		a.staleDropped,
		a.negative,
		a.pendingGauge,
		versioncollector.NewCollector(program),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return a
}

// Observe records one duration in the histogram selected by kind.
func (a *Aggregator) Observe(kind Kind, devicePath string, dir blktrace.Direction, seconds float64) {
	if kind < Queue || kind > Total {
		return
	}
	a.histograms[kind].WithLabelValues(devicePath, dir.String()).Observe(seconds)
}

// HandleLatency records the three durations of a completed request.
func (a *Aggregator) HandleLatency(l lifecycle.Latency) {
	a.Observe(Queue, l.DevicePath, l.Direction, l.Queue)
	a.Observe(Service, l.DevicePath, l.Direction, l.Service)
	a.Observe(Total, l.DevicePath, l.Direction, l.Total)
}

// LineSkipped counts a trace record that was skipped for reason.
func (a *Aggregator) LineSkipped(reason string) {
	a.linesSkipped.WithLabelValues(reason).Inc()
}

// PendingRequests implements lifecycle.Observer.
func (a *Aggregator) PendingRequests(n int) {
	a.pendingGauge.Set(float64(n))
}

// UnmatchedCompletion implements lifecycle.Observer.
func (a *Aggregator) UnmatchedCompletion() {
	a.unmatched.Inc()
}

// StaleDropped implements lifecycle.Observer.
func (a *Aggregator) StaleDropped(n int) {
	a.staleDropped.Add(float64(n))
}

// NegativeDuration implements lifecycle.Observer.
func (a *Aggregator) NegativeDuration(phase string) {
	a.negative.WithLabelValues(phase).Inc()
}

// Gatherer returns the registry for exposition.
func (a *Aggregator) Gatherer() prometheus.Gatherer {
	return a.registry
}

// WriteText writes every registered metric in the text exposition format.
func (a *Aggregator) WriteText(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
