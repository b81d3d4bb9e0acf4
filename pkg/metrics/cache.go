package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/retrofs/nfsvfs/pkg/blockcache"
)

// cacheMetrics is the Prometheus implementation of blockcache.Metrics.
type cacheMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	partials   *prometheus.HistogramVec
	evictions  prometheus.Counter
	puts       prometheus.Counter
	validSlots prometheus.Gauge
}

// NewCacheMetrics returns a Prometheus-backed blockcache.Metrics, or nil if
// metrics are disabled — callers pass the result straight to
// blockcache.NewWithMetrics, which already treats nil as "use the no-op".
func NewCacheMetrics() blockcache.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &cacheMetrics{
		hits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_blockcache_hits_total",
			Help: "Total number of blocks served by full-hit block cache reads",
		}),
		misses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_blockcache_misses_total",
			Help: "Total number of block cache reads that found nothing",
		}),
		partials: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nfsvfs_blockcache_partial_ratio",
			Help:    "Fraction of requested bytes served on a partial-hit read",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99},
		}, []string{}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_blockcache_evictions_total",
			Help: "Total number of slot evictions",
		}),
		puts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nfsvfs_blockcache_puts_total",
			Help: "Total number of blocks inserted into the cache",
		}),
		validSlots: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "nfsvfs_blockcache_valid_slots",
			Help: "Current number of valid (occupied) cache slots",
		}),
	}
}

func (m *cacheMetrics) ObserveHit(blocks int) { m.hits.Add(float64(blocks)) }
func (m *cacheMetrics) ObserveMiss()          { m.misses.Inc() }

func (m *cacheMetrics) ObservePartial(copied, requested int) {
	if requested == 0 {
		return
	}
	m.partials.WithLabelValues().Observe(float64(copied) / float64(requested))
}

func (m *cacheMetrics) ObserveEviction()       { m.evictions.Inc() }
func (m *cacheMetrics) ObservePut()            { m.puts.Inc() }
func (m *cacheMetrics) RecordValidSlots(n int) { m.validSlots.Set(float64(n)) }
