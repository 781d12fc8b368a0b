// Package metrics exposes engine activity as Prometheus metrics and keeps a
// running latency distribution summary via gonum/stat, for ports where a
// full histogram export is more than the diagnostics endpoint needs.
package metrics

import (
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// Collector implements engine.Observer, recording command completions,
// timeouts, and URC dispatches per port as Prometheus metrics.
type Collector struct {
	commandsTotal  *prometheus.CounterVec
	timeoutsTotal  *prometheus.CounterVec
	urcTotal       *prometheus.CounterVec
	submittedTotal *prometheus.CounterVec

	mu        sync.Mutex
	latencies map[int][]float64
}

// NewCollector constructs a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atengine",
			Name:      "commands_completed_total",
			Help:      "Commands completed, partitioned by port and outcome.",
		}, []string{"port", "success"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atengine",
			Name:      "command_timeouts_total",
			Help:      "Commands that timed out before a terminal line arrived.",
		}, []string{"port"}),
		urcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atengine",
			Name:      "urc_dispatched_total",
			Help:      "Unsolicited result codes dispatched to a handler.",
		}, []string{"port"}),
		submittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atengine",
			Name:      "commands_submitted_total",
			Help:      "Commands submitted for transmission.",
		}, []string{"port"}),
		latencies: make(map[int][]float64),
	}
	reg.MustRegister(c.commandsTotal, c.timeoutsTotal, c.urcTotal, c.submittedTotal)
	return c
}

func portLabel(port int) string {
	const digits = "0123456789"
	if port < 10 {
		return string(digits[port])
	}
	var buf []byte
	for port > 0 {
		buf = append([]byte{digits[port%10]}, buf...)
		port /= 10
	}
	return string(buf)
}

// Submitted satisfies engine.Observer.
func (c *Collector) Submitted(port int) {
	c.submittedTotal.WithLabelValues(portLabel(port)).Inc()
}

// Completed satisfies engine.Observer, recording the command's elapsed
// time into the port's latency distribution.
func (c *Collector) Completed(port int, success bool, elapsedMS uint32) {
	label := "false"
	if success {
		label = "true"
	}
	c.commandsTotal.WithLabelValues(portLabel(port), label).Inc()
	c.RecordLatency(port, float64(elapsedMS))
}

// Timeout satisfies engine.Observer. A timed-out command still took
// elapsedMS to fail, so it is folded into the same latency distribution
// as a successful completion would be.
func (c *Collector) Timeout(port int, elapsedMS uint32) {
	c.timeoutsTotal.WithLabelValues(portLabel(port)).Inc()
	c.RecordLatency(port, float64(elapsedMS))
}

// URCDispatched satisfies engine.Observer.
func (c *Collector) URCDispatched(port int) {
	c.urcTotal.WithLabelValues(portLabel(port)).Inc()
}

// RecordLatency appends a round-trip latency sample (in milliseconds) for
// port, for later summarization by LatencyStats.
func (c *Collector) RecordLatency(port int, ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies[port] = append(c.latencies[port], ms)
}

// LatencyStats summarizes port's recorded latency samples. It returns
// ok=false if no samples have been recorded yet.
func (c *Collector) LatencyStats(port int) (mean, stddev float64, ok bool) {
	c.mu.Lock()
	samples := append([]float64(nil), c.latencies[port]...)
	c.mu.Unlock()
	if len(samples) == 0 {
		return 0, 0, false
	}
	mean, variance := stat.MeanVariance(samples, nil)
	return mean, math.Sqrt(variance), true
}
