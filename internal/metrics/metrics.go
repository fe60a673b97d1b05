// Package metrics provides Prometheus metrics for the shopmesh backend.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all shopmesh metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// metricsOnce ensures metrics are only initialized once.
var metricsOnce sync.Once

// metricsInstance is the singleton instance of backend metrics.
var metricsInstance *Metrics

// Metrics holds all Prometheus metrics for the coordination layer and API.
type Metrics struct {
	// Conditional-write retry metrics
	CASRetries   *prometheus.CounterVec // shopmesh_cas_retries_total{key_prefix}
	CASExhausted *prometheus.CounterVec // shopmesh_cas_exhausted_total{key_prefix}
	CASAborts    prometheus.Counter     // shopmesh_cas_aborts_total

	// Guard metrics
	LimiterRejections *prometheus.CounterVec // shopmesh_limiter_rejections_total{phase}
	RevocationHits    prometheus.Counter     // shopmesh_revocation_hits_total
	LinkConflicts     prometheus.Counter     // shopmesh_link_conflicts_total

	// Registry metrics
	RegistryRetries   prometheus.Counter // shopmesh_registry_retries_total
	RegistryFailures  prometheus.Counter // shopmesh_registry_failures_total
	RegistryRollbacks prometheus.Counter // shopmesh_registry_rollbacks_total

	// Batch processor metrics
	BatchItems  *prometheus.CounterVec // shopmesh_batch_items_total{status}
	BatchChunks prometheus.Counter     // shopmesh_batch_chunks_total

	// Store metrics
	StoreCalls    *prometheus.CounterVec   // shopmesh_store_calls_total{operation,status}
	StoreDuration *prometheus.HistogramVec // shopmesh_store_call_duration_seconds{operation}

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec   // shopmesh_http_requests_total{route,method,status}
	RequestDuration *prometheus.HistogramVec // shopmesh_http_request_duration_seconds{route}
}

// Init initializes all metrics on the given registry. Metrics are only
// registered once; subsequent calls return the same instance.
func Init(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = Registry
		}
		metricsInstance = &Metrics{
			CASRetries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_cas_retries_total",
				Help: "Conditional-write retries by key prefix",
			}, []string{"key_prefix"}),
			CASExhausted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_cas_exhausted_total",
				Help: "Conditional-write updates that exhausted all retries",
			}, []string{"key_prefix"}),
			CASAborts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_cas_aborts_total",
				Help: "Conditional-write updates aborted before writing",
			}),
			LimiterRejections: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_limiter_rejections_total",
				Help: "Attempt-counter rejections by phase (early or post_write)",
			}, []string{"phase"}),
			RevocationHits: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_revocation_hits_total",
				Help: "Single-use tokens observed as already revoked",
			}),
			LinkConflicts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_link_conflicts_total",
				Help: "Create-once link writes that hit an existing link",
			}),
			RegistryRetries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_registry_retries_total",
				Help: "Registry document update retries",
			}),
			RegistryFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_registry_failures_total",
				Help: "Registry document updates that exhausted all retries",
			}),
			RegistryRollbacks: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_registry_rollbacks_total",
				Help: "Registry entry rollbacks after failed index creation",
			}),
			BatchItems: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_batch_items_total",
				Help: "Batch items processed by outcome",
			}, []string{"status"}),
			BatchChunks: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "shopmesh_batch_chunks_total",
				Help: "Batch chunks processed",
			}),
			StoreCalls: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_store_calls_total",
				Help: "Object store calls by operation and status",
			}, []string{"operation", "status"}),
			StoreDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "shopmesh_store_call_duration_seconds",
				Help:    "Object store call duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "shopmesh_http_requests_total",
				Help: "HTTP requests by route, method and status",
			}, []string{"route", "method", "status"}),
			RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "shopmesh_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
		}
	})
	return metricsInstance
}
