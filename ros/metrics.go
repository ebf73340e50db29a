package ros

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional, opt-in collector for ambient node activity:
// message/byte throughput per topic and connected-subscriber counts.
// Broadcast lag events are logged, not counted. Nodes built without
// WithMetricsRegistry never touch this type.
type Metrics struct {
	messagesPublished *prometheus.CounterVec
	bytesPublished    *prometheus.CounterVec
	subscribersGauge  *prometheus.GaugeVec
}

// NewMetrics registers the node's collectors against reg and returns the
// resulting Metrics; NewNode calls it when WithMetricsRegistry is given.
// A nil reg uses the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosgo",
			Name:      "messages_published_total",
			Help:      "Messages sent by this node's publishers, by topic.",
		}, []string{"topic"}),
		bytesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosgo",
			Name:      "bytes_published_total",
			Help:      "Encoded message bytes sent by this node's publishers, by topic.",
		}, []string{"topic"}),
		subscribersGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rosgo",
			Name:      "publisher_subscribers",
			Help:      "Subscribers currently connected to each of this node's publishers.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.messagesPublished, m.bytesPublished, m.subscribersGauge)
	return m
}

func (m *Metrics) messagePublished(topic string, size int) {
	m.messagesPublished.WithLabelValues(topic).Inc()
	m.bytesPublished.WithLabelValues(topic).Add(float64(size))
}

func (m *Metrics) subscriberConnected(topic string) {
	m.subscribersGauge.WithLabelValues(topic).Inc()
}

func (m *Metrics) subscriberDisconnected(topic string) {
	m.subscribersGauge.WithLabelValues(topic).Dec()
}
