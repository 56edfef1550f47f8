package master

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional Prometheus instrumentation layer for a Master,
// grounded on _examples/runZeroInc-sockstats's pkg/exporter/exporter.go,
// which wires a prometheus.Collector directly around per-connection state.
// It is purely additive: nothing in the protocol depends on it, and a Master
// created without one (the zero value of *Metrics) skips every update.
type Metrics struct {
	pending   prometheus.Gauge
	completed prometheus.Counter
	timeouts  prometheus.Counter
	checksum  prometheus.Counter
	resyncs   prometheus.Counter
}

// NewMetrics builds a Metrics instance and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uartcat",
			Subsystem: "master",
			Name:      "pending_tokens",
			Help:      "Number of command tokens currently awaiting a response.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uartcat",
			Subsystem: "master",
			Name:      "commands_completed_total",
			Help:      "Commands that received a matching response.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uartcat",
			Subsystem: "master",
			Name:      "commands_timed_out_total",
			Help:      "Commands that exceeded their deadline awaiting a response.",
		}),
		checksum: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uartcat",
			Subsystem: "master",
			Name:      "checksum_mismatches_total",
			Help:      "Responses discarded due to a data checksum mismatch.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uartcat",
			Subsystem: "master",
			Name:      "header_resyncs_total",
			Help:      "Bytes skipped while resynchronizing on a valid header.",
		}),
	}
	reg.MustRegister(m.pending, m.completed, m.timeouts, m.checksum, m.resyncs)
	return m
}

func (m *Metrics) addPending(delta float64) {
	if m != nil {
		m.pending.Add(delta)
	}
}

func (m *Metrics) incCompleted() {
	if m != nil {
		m.completed.Inc()
	}
}

func (m *Metrics) incTimeouts() {
	if m != nil {
		m.timeouts.Inc()
	}
}

func (m *Metrics) incChecksumMismatches() {
	if m != nil {
		m.checksum.Inc()
	}
}

func (m *Metrics) incResyncs() {
	if m != nil {
		m.resyncs.Inc()
	}
}
