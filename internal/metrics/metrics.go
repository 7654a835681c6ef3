// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

const namespace = "modbus_master"

// Metrics collects engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reads        *prometheus.CounterVec
	writes       *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	blacklisted  *prometheus.GaugeVec
	connectionUp *prometheus.GaugeVec
	cycle        *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_reads_total",
			Help:      "Register reads by gateway and outcome category.",
		}, []string{"gateway", "category"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_writes_total",
			Help:      "Register writes by gateway and outcome category.",
		}, []string{"gateway", "category"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts by gateway and result.",
		}, []string{"gateway", "result"}),
		blacklisted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blacklisted_registers",
			Help:      "Registers currently excluded from polling.",
		}, []string{"gateway"}),
		connectionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 when the gateway connection is live.",
		}, []string{"gateway"}),
		cycle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_seconds",
			Help:      "Duration of one poll sweep, sleeps excluded.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"gateway"}),
	}

	if reg != nil {
		reg.MustRegister(m.reads, m.writes, m.reconnects, m.blacklisted, m.connectionUp, m.cycle)
	}
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return status.Classify(err).String()
}

// ObserveRead counts one register read.
func (m *Metrics) ObserveRead(gateway string, err error) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(gateway, outcome(err)).Inc()
}

// ObserveUnreachable counts reads skipped because the link was down.
func (m *Metrics) ObserveUnreachable(gateway string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reads.WithLabelValues(gateway, status.Unreachable.String()).Add(float64(n))
}

// ObserveWrite counts one register write.
func (m *Metrics) ObserveWrite(gateway string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(gateway, outcome(err)).Inc()
}

// ObserveReconnect counts one scheduled reconnection attempt.
func (m *Metrics) ObserveReconnect(gateway string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.reconnects.WithLabelValues(gateway, result).Inc()
}

// ObserveCycle records one finished sweep.
func (m *Metrics) ObserveCycle(gateway string, d time.Duration, blacklisted int) {
	if m == nil {
		return
	}
	m.cycle.WithLabelValues(gateway).Observe(d.Seconds())
	m.blacklisted.WithLabelValues(gateway).Set(float64(blacklisted))
}

// SetConnected tracks the connection state of gateway.
func (m *Metrics) SetConnected(gateway string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.connectionUp.WithLabelValues(gateway).Set(v)
}

// Forget drops the per-gateway series once a gateway is removed.
func (m *Metrics) Forget(gateway string) {
	if m == nil {
		return
	}
	m.blacklisted.DeleteLabelValues(gateway)
	m.connectionUp.DeleteLabelValues(gateway)
	m.cycle.DeleteLabelValues(gateway)
}
