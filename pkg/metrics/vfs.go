package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/retrofs/nfsvfs/pkg/vfs"
)

// vfsMetrics is the Prometheus implementation of vfs.Metrics.
type vfsMetrics struct {
	syncFallbackBytes prometheus.Counter
	syncFallbacks     prometheus.Counter
	partialReads      *prometheus.HistogramVec
}

// NewVFSMetrics returns a Prometheus-backed vfs.Metrics, or nil if metrics
// are disabled.
func NewVFSMetrics() vfs.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &vfsMetrics{
		syncFallbackBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_read_sync_fallback_bytes_total",
			Help: "Total bytes served by the synchronous read fallback",
		}),
		syncFallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_read_sync_fallback_total",
			Help: "Total number of reads that fell through to a synchronous network read",
		}),
		partialReads: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nfsvfs_read_partial_ratio",
			Help:    "Fraction of requested bytes actually returned on a short read",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99},
		}, []string{}),
	}
}

func (m *vfsMetrics) ObserveSyncFallback(bytesRequested, bytesFromSync int) {
	m.syncFallbacks.Inc()
	m.syncFallbackBytes.Add(float64(bytesFromSync))
}

func (m *vfsMetrics) ObservePartialRead(bytesRequested, bytesReturned int) {
	if bytesRequested == 0 {
		return
	}
	m.partialReads.WithLabelValues().Observe(float64(bytesReturned) / float64(bytesRequested))
}
