// Package metrics provides Prometheus metrics for jsondb
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for jsondb.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge
	SubscribeStreams     prometheus.Gauge

	// Dispatch metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ItemsTotal      *prometheus.CounterVec
	ConflictsTotal  *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Store metrics
	MetadataRecords *prometheus.GaugeVec
	TreeNodes       *prometheus.GaugeVec
	SnapshotBytes   *prometheus.GaugeVec
	SnapshotsTotal  *prometheus.CounterVec

	// Server metrics
	ServerUptimeSeconds prometheus.GaugeFunc
	ServerStartTime     time.Time
}

// NewMetrics creates all collectors and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsondb_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsondb_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.SubscribeStreams = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsondb_subscribe_streams",
			Help: "Number of open subscription streams",
		},
	)

	// Dispatch metrics
	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_requests_total",
			Help: "Total number of dispatched request batches",
		},
		[]string{"db", "operation", "status"},
	)

	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsondb_request_duration_seconds",
			Help:    "Duration of request batches in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"db", "operation"},
	)

	m.ItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_items_total",
			Help: "Total number of query items processed",
		},
		[]string{"db", "operation", "status"},
	)

	m.ConflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_conflicts_total",
			Help: "Total number of items denied by the lock manager",
		},
		[]string{"db", "kind"},
	)

	// Notification metrics
	m.NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_notifications_total",
			Help: "Total number of subscriber notifications",
		},
		[]string{"db", "result"},
	)

	// Store metrics
	m.MetadataRecords = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jsondb_metadata_records",
			Help: "Current number of metadata records",
		},
		[]string{"db"},
	)

	m.TreeNodes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jsondb_tree_nodes",
			Help: "Number of nodes in the document tree at the last snapshot",
		},
		[]string{"db"},
	)

	m.SnapshotBytes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jsondb_snapshot_bytes",
			Help: "Size of the last loaded or saved snapshot in bytes",
		},
		[]string{"db"},
	)

	m.SnapshotsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_snapshots_total",
			Help: "Total number of snapshot loads and saves",
		},
		[]string{"db", "operation", "status"},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "jsondb_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 {
			return time.Since(m.ServerStartTime).Seconds()
		},
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRequest records one dispatched batch
func (m *Metrics) RecordRequest(db, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(db, operation, status).Inc()
	m.RequestDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
}

// RecordItem records one processed query item
func (m *Metrics) RecordItem(db, operation, status string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(db, operation, status).Inc()
}

// RecordConflict records an item denied by the lock manager
func (m *Metrics) RecordConflict(db, kind string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(db, kind).Inc()
}

// RecordNotifications records delivered and dropped notifications
func (m *Metrics) RecordNotifications(db string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.NotificationsTotal.WithLabelValues(db, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		m.NotificationsTotal.WithLabelValues(db, "dropped").Add(float64(dropped))
	}
}

// SetMetadataRecords updates the metadata record gauge
func (m *Metrics) SetMetadataRecords(db string, n int) {
	if m == nil {
		return
	}
	m.MetadataRecords.WithLabelValues(db).Set(float64(n))
}

// RecordSnapshot records a snapshot load or save
func (m *Metrics) RecordSnapshot(db, operation string, sizeBytes int64, nodes int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SnapshotsTotal.WithLabelValues(db, operation, status).Inc()
	if err == nil {
		m.SnapshotBytes.WithLabelValues(db).Set(float64(sizeBytes))
		m.TreeNodes.WithLabelValues(db).Set(float64(nodes))
	}
}

// StreamOpened tracks a new subscription stream
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.SubscribeStreams.Inc()
}

// StreamClosed tracks a finished subscription stream
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.SubscribeStreams.Dec()
}
