// Package metrics holds every Prometheus collector of the reconciler. Each
// file declares its collectors and queues them from init(); main installs
// the whole set with one MustRegister call.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	installOnce sync.Once
	pending     []prometheus.Collector
)

// register queues collectors for installation. Called from init() only, so
// no locking is needed.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister installs every queued collector with the default registry.
// Safe to call more than once; only the first call does anything.
func MustRegister() {
	installOnce.Do(func() {
		if len(pending) > 0 {
			prometheus.MustRegister(pending...)
		}
	})
}
