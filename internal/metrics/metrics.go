// Package metrics defines the Prometheus instrumentation for catalogd's
// write path. Grounded directly on bittoy-rule's engine/metrics.go: a
// package-level CounterVec/HistogramVec pair registered once via
// prometheus.MustRegister, generalized from HTTP request labels to the
// catalog's store-operation labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metacatalog",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Total Graph Writer operations, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metacatalog",
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Graph Writer operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(writesTotal, writeDuration)
}

// Recorder implements internal/store.Recorder with the package-level
// Prometheus metrics above.
type Recorder struct{}

// ObserveWrite records one Graph Writer operation's outcome and latency.
func (Recorder) ObserveWrite(op string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	writesTotal.WithLabelValues(op, outcome).Inc()
	writeDuration.WithLabelValues(op).Observe(dur.Seconds())
}
