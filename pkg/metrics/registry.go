// Package metrics provides Prometheus metrics collection for the cache shim.
//
// Metrics are optional: components accept their metrics interface as nil and
// fall back to a zero-overhead no-op implementation (see the noopMetrics
// types in pkg/blockcache and pkg/vfs). Call InitRegistry once during
// startup to turn them on.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call more
// than once; later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil if InitRegistry hasn't run.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether metrics collection is turned on.
func IsEnabled() bool {
	return GetRegistry() != nil
}
