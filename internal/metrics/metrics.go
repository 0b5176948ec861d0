// Package metrics defines the Prometheus collectors shared by the adapters
// and the inventory exporter.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cloudfleet"

var (
	// Vendor call metrics
	vendorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "calls_total",
			Help:      "Total number of vendor API calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	operationWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "operation_wait_seconds",
			Help:      "Time spent waiting on long-running operations",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4min
		},
		[]string{"provider", "operation"},
	)

	// Inventory metrics
	instancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "instances",
			Help:      "Number of instances by provider, location and vendor status",
		},
		[]string{"provider", "location", "status"},
	)

	scopeErrors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "scope_errors",
			Help:      "Number of scopes that failed during the last inventory run",
		},
		[]string{"provider"},
	)

	registerOnce sync.Once
)

// Register adds all collectors to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(vendorCallsTotal, operationWaitDuration, instancesTotal, scopeErrors)
	})
}

// ObserveCall counts one vendor call.
func ObserveCall(provider, operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	vendorCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
}

// ObserveWait records how long a long-running operation was waited on.
func ObserveWait(provider, operation string, d time.Duration) {
	operationWaitDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// InstanceCount is one series of the instances gauge.
type InstanceCount struct {
	Provider string
	Location string
	Status   string
	Count    int
}

// SetInventory replaces the inventory gauges with the given counts.
func SetInventory(counts []InstanceCount, failedScopes map[string]int) {
	instancesTotal.Reset()
	for _, c := range counts {
		instancesTotal.WithLabelValues(c.Provider, c.Location, c.Status).Set(float64(c.Count))
	}
	scopeErrors.Reset()
	for provider, n := range failedScopes {
		scopeErrors.WithLabelValues(provider).Set(float64(n))
	}
}
