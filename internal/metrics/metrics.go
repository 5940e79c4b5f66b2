// Package metrics keeps live run counters that workers bump as they go. They
// feed the progress line and the /metrics endpoint and are independent of the
// per-worker tallies handed to the collector at exit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "echobench"

// Metrics is safe for concurrent use. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	sent           prometheus.Counter
	received       prometheus.Counter
	lost           prometheus.Counter
	mismatched     prometheus.Counter
	retries        prometheus.Counter
	connectFailure prometheus.Counter
	activeWorkers  prometheus.Gauge
	latency        prometheus.Histogram
}

func New(transport string) *Metrics {
	labels := prometheus.Labels{"transport": transport}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		registry:       prometheus.NewRegistry(),
		sent:           counter("messages_sent_total", "Messages sent to the echo server"),
		received:       counter("messages_received_total", "Echo responses fully received"),
		lost:           counter("messages_lost_total", "Messages given up after the attempt ceiling"),
		mismatched:     counter("messages_mismatched_total", "Echo responses whose payload differed from the request"),
		retries:        counter("attempts_retried_total", "Extra send attempts for datagrams"),
		connectFailure: counter("connect_failures_total", "Workers that could not connect"),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_workers",
			Help:        "Workers currently running their send loop",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "round_trip_seconds",
			Help:        "Round-trip latency of completed exchanges",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(25e-6, 2, 18),
		}),
	}
	m.registry.MustRegister(
		m.sent, m.received, m.lost, m.mismatched, m.retries,
		m.connectFailure, m.activeWorkers, m.latency,
	)
	return m
}

// Registry exposes the collectors for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Sent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) Received(rtt time.Duration) {
	if m != nil {
		m.received.Inc()
		m.latency.Observe(rtt.Seconds())
	}
}

func (m *Metrics) Lost() {
	if m != nil {
		m.lost.Inc()
	}
}

func (m *Metrics) Mismatched() {
	if m != nil {
		m.mismatched.Inc()
	}
}

func (m *Metrics) Retried() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) ConnectFailed() {
	if m != nil {
		m.connectFailure.Inc()
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.activeWorkers.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.activeWorkers.Dec()
	}
}

// Snapshot is a point-in-time read of the live counters.
type Snapshot struct {
	Sent          uint64
	Received      uint64
	Lost          uint64
	Mismatched    uint64
	ActiveWorkers int
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Sent:          uint64(counterValue(m.sent)),
		Received:      uint64(counterValue(m.received)),
		Lost:          uint64(counterValue(m.lost)),
		Mismatched:    uint64(counterValue(m.mismatched)),
		ActiveWorkers: int(gaugeValue(m.activeWorkers)),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var pb dto.Metric
	if err := g.Write(&pb); err != nil {
		return 0
	}
	return pb.GetGauge().GetValue()
}
