package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docvault_documents_generated_total",
		Help: "Total number of documents generated.",
	})

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_access_decisions_total",
			Help: "Authorization decisions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	auditEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docvault_audit_entries_total",
		Help: "Access log rows written.",
	})

	storageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_storage_op_duration_seconds",
			Help:    "Storage backend operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// Init registers the service metrics in the default registry.
func Init() {
	prometheus.MustRegister(documentsGenerated, accessDecisions, auditEntries, storageOpDuration)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncGenerated() { documentsGenerated.Inc() }

func IncDecision(action, outcome string) {
	accessDecisions.WithLabelValues(action, outcome).Inc()
}

func IncAuditEntry() { auditEntries.Inc() }

// ObserveStorageOp records one storage call's latency.
func ObserveStorageOp(backend, op string, started time.Time) {
	storageOpDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
}
