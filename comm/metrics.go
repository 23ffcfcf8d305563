package comm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts channel activity. A single Metrics value is safe to share
// across role instances of the same protocol; all methods are nil-safe so
// instrumentation stays optional.
type Metrics struct {
	published         prometheus.Counter
	consumed          prometheus.Counter
	replies           prometheus.Counter
	processorFailures prometheus.Counter
}

// NewMetrics creates and registers channel counters with reg, labelled with
// the backend protocol.
func NewMetrics(reg prometheus.Registerer, protocol string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"protocol": protocol}

	return &Metrics{
		published: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "commflow",
			Subsystem:   "channel",
			Name:        "published_total",
			Help:        "Messages published by producers.",
			ConstLabels: labels,
		}),
		consumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "commflow",
			Subsystem:   "channel",
			Name:        "consumed_total",
			Help:        "Messages delivered to consumer processors.",
			ConstLabels: labels,
		}),
		replies: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "commflow",
			Subsystem:   "channel",
			Name:        "replies_total",
			Help:        "Responses published back to RPC callers.",
			ConstLabels: labels,
		}),
		processorFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "commflow",
			Subsystem:   "channel",
			Name:        "processor_failures_total",
			Help:        "Processor invocations converted to error responses.",
			ConstLabels: labels,
		}),
	}
}

// IncPublished counts one published message.
func (m *Metrics) IncPublished() {
	if m != nil {
		m.published.Inc()
	}
}

// IncConsumed counts one message handed to a processor.
func (m *Metrics) IncConsumed() {
	if m != nil {
		m.consumed.Inc()
	}
}

// IncReplies counts one response sent back to a reply destination.
func (m *Metrics) IncReplies() {
	if m != nil {
		m.replies.Inc()
	}
}

// IncProcessorFailures counts one processor outcome in an error band.
func (m *Metrics) IncProcessorFailures() {
	if m != nil {
		m.processorFailures.Inc()
	}
}
