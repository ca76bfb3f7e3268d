package signer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the signing service's request count and latency collector
// set, registered against the shared registry cmd/enclave builds.
type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nitrosign",
				Subsystem: "signer",
				Name:      "requests_total",
				Help:      "Total number of signing-service HTTP requests handled.",
			},
			[]string{"route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nitrosign",
				Subsystem: "signer",
				Name:      "request_duration_seconds",
				Help:      "Duration of signing-service HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to 512ms
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}
