package differ

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	diffDuration   *prometheus.HistogramVec
	holdersChanged prometheus.Histogram
}

// NewMetrics registers the differ's collectors. Registering twice on the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		diffDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sharepool",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time taken to diff two pool states.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
		}, []string{}),
		holdersChanged: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sharepool",
			Subsystem: "differ",
			Name:      "holders_changed",
			Help:      "Number of holders listed in each diff.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 64, 256},
		}),
	}
	reg.MustRegister(m.diffDuration, m.holdersChanged)
	return m
}
