// Package metrics exposes pipeline counters and gauges to Prometheus. All
// series carry a "rank" label so several participants can share a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ringclock/internal/clock"
)

// Metrics holds the collectors registered for a process.
type Metrics struct {
	received     *prometheus.CounterVec
	sent         *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	localEvents  *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	queueWaits   *prometheus.CounterVec
	counters     *prometheus.GaugeVec
	sendLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringclock_messages_received_total",
			Help: "Clocks received from the ring predecessor",
		}, []string{"rank"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringclock_messages_sent_total",
			Help: "Clocks sent to the ring successor",
		}, []string{"rank"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringclock_send_failures_total",
			Help: "Sends that failed at the transport layer",
		}, []string{"rank"}),
		localEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringclock_local_events_total",
			Help: "Increments of the participant's own counter, by stage (ingress, clock)",
		}, []string{"rank", "stage"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringclock_queue_depth",
			Help: "Clocks buffered between pipeline stages",
		}, []string{"rank", "queue"}),
		queueWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringclock_queue_waits_total",
			Help: "Times a stage blocked on a full or empty queue",
		}, []string{"rank", "queue", "op"}),
		counters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringclock_clock_counter",
			Help: "Last forwarded clock value, per ring index",
		}, []string{"rank", "index"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ringclock_send_duration_seconds",
			Help:    "Time spent handing a clock to the transport",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"rank"}),
	}

	reg.MustRegister(
		m.received,
		m.sent,
		m.sendFailures,
		m.localEvents,
		m.queueDepth,
		m.queueWaits,
		m.counters,
		m.sendLatency,
	)
	return m
}

// Participant returns the view of m for one rank. A nil *Metrics yields a
// nil *Participant, whose methods are no-ops.
func (m *Metrics) Participant(rank int) *Participant {
	if m == nil {
		return nil
	}
	return &Participant{m: m, rank: strconv.Itoa(rank)}
}

// Participant records metrics for a single rank.
type Participant struct {
	m    *Metrics
	rank string
}

// Received counts one clock taken from the transport.
func (p *Participant) Received() {
	if p == nil {
		return
	}
	p.m.received.WithLabelValues(p.rank).Inc()
}

// Sent records a send attempt and how long it took.
func (p *Participant) Sent(d time.Duration, err error) {
	if p == nil {
		return
	}
	p.m.sendLatency.WithLabelValues(p.rank).Observe(d.Seconds())
	if err != nil {
		p.m.sendFailures.WithLabelValues(p.rank).Inc()
		return
	}
	p.m.sent.WithLabelValues(p.rank).Inc()
}

// LocalEvent counts an increment of the participant's own index.
func (p *Participant) LocalEvent(stage string) {
	if p == nil {
		return
	}
	p.m.localEvents.WithLabelValues(p.rank, stage).Inc()
}

// QueueDepth sets the current depth of the named queue.
func (p *Participant) QueueDepth(queue string, depth int) {
	if p == nil {
		return
	}
	p.m.queueDepth.WithLabelValues(p.rank, queue).Set(float64(depth))
}

// QueueWait counts a blocked Put or Take.
func (p *Participant) QueueWait(queue, op string) {
	if p == nil {
		return
	}
	p.m.queueWaits.WithLabelValues(p.rank, queue, op).Inc()
}

// Clock publishes every counter of vc.
func (p *Participant) Clock(vc clock.VectorClock) {
	if p == nil {
		return
	}
	for i, c := range vc {
		p.m.counters.WithLabelValues(p.rank, strconv.Itoa(i)).Set(float64(c))
	}
}
