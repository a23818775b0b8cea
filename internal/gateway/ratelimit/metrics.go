package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the admission-control engine.
// Constructed once against an explicit registerer and passed by reference;
// a nil *Metrics disables collection, so tests can run without a registry.
type Metrics struct {
	checks        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	storeFailOpen prometheus.Counter

	flushes       prometheus.Counter
	flushFailures prometheus.Counter
	flushSize     prometheus.Histogram

	gateInFlight prometheus.Gauge
	gateRejects  prometheus.Counter
}

// NewMetrics registers the engine's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_checks_total",
				Help: "Total admission checks performed",
			},
			[]string{"result"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_rejections_total",
				Help: "Total admission rejections by scope and dimension",
			},
			[]string{"scope", "dimension"},
		),
		storeFailOpen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_admission_store_fail_open_total",
				Help: "Total checks admitted without a distributed check because the counter store was unreachable",
			},
		),
		flushes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_counter_flushes_total",
				Help: "Total batched counter flush round trips",
			},
		),
		flushFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_counter_flush_failures_total",
				Help: "Total flush ticks rejected by the counter store",
			},
		),
		flushSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_counter_flush_keys",
				Help:    "Distinct counter keys per flush round trip",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		gateInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_concurrency_gate_in_flight",
				Help: "Requests currently holding a process-local concurrency slot",
			},
		),
		gateRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_concurrency_gate_rejects_total",
				Help: "Requests vetoed by the process-local concurrency gate",
			},
		),
	}
}

// ObserveCheck records an admission decision.
func (m *Metrics) ObserveCheck(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.checks.WithLabelValues("accept").Inc()
	} else {
		m.checks.WithLabelValues("reject").Inc()
	}
}

// ObserveRejection records which scope and dimension tripped.
func (m *Metrics) ObserveRejection(scope, dimension string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(scope, dimension).Inc()
}

// ObserveFailOpen records a check admitted despite an unreachable store.
func (m *Metrics) ObserveFailOpen() {
	if m == nil {
		return
	}
	m.storeFailOpen.Inc()
}

// ObserveFlush records one batch round trip and its outcome.
func (m *Metrics) ObserveFlush(keys int, err error) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushSize.Observe(float64(keys))
	if err != nil {
		m.flushFailures.Inc()
	}
}

// ObserveGate records gate occupancy after an acquire or release.
func (m *Metrics) ObserveGate(inFlight int64) {
	if m == nil {
		return
	}
	m.gateInFlight.Set(float64(inFlight))
}

// ObserveGateReject records a gate veto.
func (m *Metrics) ObserveGateReject() {
	if m == nil {
		return
	}
	m.gateRejects.Inc()
}
