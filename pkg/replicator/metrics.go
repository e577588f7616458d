package replicator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments for one replicator. nil when
// metrics are disabled.
type metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	packetBytes     *prometheus.HistogramVec
	resyncs         prometheus.Counter
	stateEntities   prometheus.Gauge
	ringEntries     prometheus.Gauge
}

func initMetrics(namespace string, constLabels prometheus.Labels, registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)

	return &metrics{
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "packets_sent_total",
			Help:        "Packets encoded, by kind (init, full, delta)",
			ConstLabels: constLabels,
		}, []string{"kind"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "packets_received_total",
			Help:        "Packets handled, by kind and outcome",
			ConstLabels: constLabels,
		}, []string{"kind", "status"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "bytes_sent_total",
			Help:        "Total encoded packet bytes",
			ConstLabels: constLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "bytes_received_total",
			Help:        "Total handled packet bytes",
			ConstLabels: constLabels,
		}),

		packetBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "packet_bytes",
			Help:        "Encoded packet sizes in bytes, by kind",
			ConstLabels: constLabels,
			Buckets:     []float64{64, 256, 1024, 4096, 16384, 65536},
		}, []string{"kind"}),

		resyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "resyncs_total",
			Help:        "Failures that require a session re-init",
			ConstLabels: constLabels,
		}),

		stateEntities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "state_entities",
			Help:        "Entities in the current applied snapshot",
			ConstLabels: constLabels,
		}),

		ringEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "replicator",
			Name:        "baseline_ring_entries",
			Help:        "Baselines currently held in the ring",
			ConstLabels: constLabels,
		}),
	}
}

func (m *metrics) recordSend(kind string, n int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(kind).Inc()
	m.bytesSent.Add(float64(n))
	m.packetBytes.WithLabelValues(kind).Observe(float64(n))
}

func (m *metrics) recordReceive(kind, status string, n int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(kind, status).Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *metrics) recordResync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

func (m *metrics) recordState(entities, ringLen int) {
	if m == nil {
		return
	}
	m.stateEntities.Set(float64(entities))
	m.ringEntries.Set(float64(ringLen))
}
