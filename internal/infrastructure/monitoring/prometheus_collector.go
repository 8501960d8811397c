package monitoring

import (
	"strconv"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
	"quickdowntime/internal/infrastructure/broadcast"
	"quickdowntime/internal/infrastructure/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	factory promauto.Factory

	// Broadcast
	messagesDelivered  *prometheus.CounterVec
	connectionsDropped *prometheus.CounterVec

	// WebSocket transport
	wsConnectionsTotal  *prometheus.CounterVec
	wsConnectionsActive *prometheus.GaugeVec
	wsHandshakeRejected *prometheus.CounterVec

	// Ingestion pipeline
	submissionsTotal  *prometheus.CounterVec
	resolutionsTotal  prometheus.Counter
	syncedTotal       prometheus.Counter
	syncFailuresTotal prometheus.Counter
	analyzerFailures  prometheus.Counter
	analyzerDuration  *prometheus.HistogramVec
}

// NewPrometheusCollector registers every metric with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		factory: factory,

		messagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quickdowntime_broadcast_messages_delivered_total",
			Help: "Messages written to live connections, by broadcast target",
		}, []string{"target"}),

		connectionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quickdowntime_broadcast_connections_dropped_total",
			Help: "Connections removed after a failed send, by broadcast target",
		}, []string{"target"}),

		wsConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quickdowntime_ws_connections_total",
			Help: "WebSocket connections accepted, by endpoint",
		}, []string{"endpoint"}),

		wsConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quickdowntime_ws_connections_active",
			Help: "Open WebSocket connections, by endpoint",
		}, []string{"endpoint"}),

		wsHandshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quickdowntime_ws_handshake_rejected_total",
			Help: "WebSocket handshakes closed during authentication, by endpoint and close code",
		}, []string{"endpoint", "code"}),

		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quickdowntime_submissions_total",
			Help: "Downtime submissions, by result (saved, queued, failed)",
		}, []string{"result"}),

		resolutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quickdowntime_resolutions_total",
			Help: "Downtime records resolved",
		}),

		syncedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quickdowntime_queue_synced_total",
			Help: "Queued records replayed into the record store",
		}),

		syncFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quickdowntime_queue_sync_failures_total",
			Help: "Queued records that failed to replay",
		}),

		analyzerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "quickdowntime_analyzer_failures_total",
			Help: "Analyzer calls that failed or timed out",
		}),

		analyzerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quickdowntime_analyzer_duration_seconds",
			Help:    "Duration of analyzer calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
	}
}

var (
	_ broadcast.DeliveryObserver = (*PrometheusCollector)(nil)
	_ signal.ConnectionObserver  = (*PrometheusCollector)(nil)
	_ ports.IngestionMetrics     = (*PrometheusCollector)(nil)
)

// WatchRegistry exposes the partition sizes of m as gauges read at scrape time.
func (p *PrometheusCollector) WatchRegistry(m *broadcast.Manager) {
	gauge := func(name, help string, read func(broadcast.Stats) int) {
		p.factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(read(m.Stats()))
		})
	}

	gauge("quickdowntime_registry_all_connections", "Connections in the legacy global partition",
		func(s broadcast.Stats) int { return s.All })
	gauge("quickdowntime_registry_manager_connections", "Connections in the manager role partition",
		func(s broadcast.Stats) int { return s.Managers })
	gauge("quickdowntime_registry_operator_connections", "Connections in the operator role partition",
		func(s broadcast.Stats) int { return s.Operators })
	gauge("quickdowntime_registry_channels", "Named channels with at least one member",
		func(s broadcast.Stats) int { return s.Channels })
	gauge("quickdowntime_registry_channel_members", "Channel memberships across all channels",
		func(s broadcast.Stats) int { return s.Members })
}

func (p *PrometheusCollector) ObserveDelivery(target string, delivered, dropped int) {
	if delivered > 0 {
		p.messagesDelivered.WithLabelValues(target).Add(float64(delivered))
	}
	if dropped > 0 {
		p.connectionsDropped.WithLabelValues(target).Add(float64(dropped))
	}
}

func (p *PrometheusCollector) ConnectionOpened(endpoint string) {
	p.wsConnectionsTotal.WithLabelValues(endpoint).Inc()
	p.wsConnectionsActive.WithLabelValues(endpoint).Inc()
}

func (p *PrometheusCollector) ConnectionClosed(endpoint string) {
	p.wsConnectionsActive.WithLabelValues(endpoint).Dec()
}

func (p *PrometheusCollector) HandshakeRejected(endpoint string, code int) {
	p.wsHandshakeRejected.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func (p *PrometheusCollector) RecordSubmission(status domain.IngestStatus) {
	p.submissionsTotal.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusCollector) RecordSubmissionFailed() {
	p.submissionsTotal.WithLabelValues("failed").Inc()
}

func (p *PrometheusCollector) RecordResolution() {
	p.resolutionsTotal.Inc()
}

func (p *PrometheusCollector) RecordSync(synced, failed int) {
	p.syncedTotal.Add(float64(synced))
	p.syncFailuresTotal.Add(float64(failed))
}

func (p *PrometheusCollector) RecordAnalysis(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		p.analyzerFailures.Inc()
	}
	p.analyzerDuration.WithLabelValues(result).Observe(duration.Seconds())
}
