package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcomes.
const (
	PollIdle       = "idle"
	PollMisaligned = "misaligned"
	PollTorn       = "torn"
	PollReady      = "ready"
	// PollGap counts records whose integration is more than one past the previous.
	PollGap        = "gap"
)

// Collector holds the acquisition metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	polls      *prometheus.CounterVec
	records    prometheus.Counter
	recordWait prometheus.Histogram
	failures   *prometheus.CounterVec
	sinkWrites *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corrspec_accumulator_polls_total",
			Help: "Accumulator count polls by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corrspec_records_total",
			Help: "Integration records read from the correlator.",
		}),
		recordWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corrspec_record_wait_seconds",
			Help:    "Time spent polling until a record was available.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corrspec_failures_total",
			Help: "Fatal acquisition failures by kind.",
		}, []string{"kind"}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corrspec_sink_writes_total",
			Help: "Records handed to the output sink by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.polls, c.records, c.recordWait, c.failures, c.sinkWrites)
	return c
}

func (c *Collector) Poll(outcome string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(outcome).Inc()
}

func (c *Collector) Record(wait time.Duration) {
	if c == nil {
		return
	}
	c.records.Inc()
	c.recordWait.Observe(wait.Seconds())
}

func (c *Collector) Failure(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

func (c *Collector) SinkWrite(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.sinkWrites.WithLabelValues(result).Inc()
}
