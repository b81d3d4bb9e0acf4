package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/retrofs/nfsvfs/pkg/nfsconn"
)

// poolMetrics is the Prometheus implementation of nfsconn.Metrics.
type poolMetrics struct {
	mountDuration     prometheus.Histogram
	mountFailures     prometheus.Counter
	activeConnections prometheus.Gauge
}

// NewPoolMetrics returns a Prometheus-backed nfsconn.Metrics, or nil if
// metrics are disabled.
func NewPoolMetrics() nfsconn.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &poolMetrics{
		mountDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "nfsvfs_pool_mount_duration_seconds",
			Help:    "Duration of NFS MOUNT calls issued by the connection pool",
			Buckets: prometheus.DefBuckets,
		}),
		mountFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_pool_mount_failures_total",
			Help: "Total number of failed mount attempts",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "nfsvfs_pool_active_connections",
			Help: "Current number of mounted (server, export) connections",
		}),
	}
}

func (m *poolMetrics) ObserveMount(server, export string, duration time.Duration, err error) {
	m.mountDuration.Observe(duration.Seconds())
	if err != nil {
		m.mountFailures.Inc()
	}
}

func (m *poolMetrics) RecordActiveConnections(n int) {
	m.activeConnections.Set(float64(n))
}
