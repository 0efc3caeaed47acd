// Package metrics implements scheduler.Stats with Prometheus collectors,
// grounded on the Counter/Histogram registration pattern the retrieved
// corpus uses for its own simulation instrumentation (an event-driven
// simulator's main loop registering named counters/histograms against
// prometheus.Registerer).
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a scheduler.Stats implementation backed by Prometheus
// collectors (edges ticked per domain/polarity, and step wall-duration).
type Collector struct {
	edgesTicked *prometheus.CounterVec
	stepSeconds prometheus.Histogram
}

// NewCollector registers its collectors against reg and returns the
// resulting Collector. Pass prometheus.NewRegistry() in tests to avoid the
// global DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		edgesTicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_edges_ticked_total",
			Help: "Number of clock edges ticked, by domain and polarity.",
		}, []string{"domain_id", "polarity"}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_step_duration_seconds",
			Help:    "Wall-clock duration of one scheduler step (a same-tick bucket's five phases).",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.edgesTicked, c.stepSeconds)
	return c
}

// EdgeTicked satisfies scheduler.Stats.
func (c *Collector) EdgeTicked(domainID uint32, rising bool) {
	polarity := "falling"
	if rising {
		polarity = "rising"
	}
	c.edgesTicked.WithLabelValues(strconv.FormatUint(uint64(domainID), 10), polarity).Inc()
}

// StepDuration satisfies scheduler.Stats.
func (c *Collector) StepDuration(d time.Duration) {
	c.stepSeconds.Observe(d.Seconds())
}
