// Package metrics holds the platform's Prometheus collectors. They live on a private registry so
// binaries expose exactly these series plus the Go runtime and process collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	DraftsGenerated = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_rag_drafts_generated_total",
		Help: "Prescription drafts produced by the generator.",
	})
	GenerationFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "prescritto_rag_generation_failures_total",
		Help: "Generator calls that failed, by reason (unavailable, invalid_output).",
	}, []string{"reason"})
	RetrievalEmpty = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_rag_retrieval_empty_total",
		Help: "Retrievals that found no protocol above the similarity floor.",
	})
	EmbeddingFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_rag_embedding_failures_total",
		Help: "Embedding API calls that failed.",
	})
	PrescriptionsSigned = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_workflow_signed_total",
		Help: "Prescriptions signed by a doctor.",
	})
	TransitionsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "prescritto_workflow_transitions_rejected_total",
		Help: "Workflow actions rejected by the state machine, by action.",
	}, []string{"acao"})
	AuditEntries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "prescritto_audit_entries_total",
		Help: "Audit entries appended, by action.",
	}, []string{"action"})
	PDFsGenerated = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_export_pdfs_generated_total",
		Help: "Signed prescription PDFs rendered.",
	})
	PermissionDenials = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_tenant_permission_denials_total",
		Help: "Requests denied by the tenant guard.",
	})
	RateLimited = factory.NewCounter(prometheus.CounterOpts{
		Name: "prescritto_http_rate_limited_total",
		Help: "Requests rejected with 429.",
	})
	AuditEventsViolations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "prescritto_audit_monitor_violations_total",
		Help: "Audit events missing identifiers or compliance flags seen by the monitor, by action.",
	}, []string{"action"})
	HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prescritto_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status code.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
