// Package metrics exports pipeline observations to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imgpress"

// Metrics records per-request outcomes and per-stage latency. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inputBytes    prometheus.Counter
	outputBytes   prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Compress requests by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		inputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes received in accepted uploads.",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to object storage.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.stageDuration, m.inputBytes, m.outputBytes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest counts a finished request under outcome ("ok", "client_error", ...).
func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBytes adds the sizes of one upload before and after transcoding.
func (m *Metrics) ObserveBytes(in, out int) {
	if m == nil {
		return
	}
	m.inputBytes.Add(float64(in))
	m.outputBytes.Add(float64(out))
}
