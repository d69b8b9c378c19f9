package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can live in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	Mutations          *prometheus.CounterVec
	DocumentsSubmitted *prometheus.CounterVec
	DossierTransitions *prometheus.CounterVec
	Normalizations     prometheus.Counter
	ArchiverRuns       *prometheus.CounterVec
	SessionsArchived   prometheus.Counter
	WebhookDeliveries  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossierline_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_mutations_total",
			Help: "Store mutations by operation and result.",
		}, []string{"operation", "result"}),
		DocumentsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_documents_submitted_total",
			Help: "Files submitted by document key.",
		}, []string{"key"}),
		DossierTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_dossier_transitions_total",
			Help: "Dossier status changes by target status.",
		}, []string{"to"}),
		Normalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossierline_store_normalizations_total",
			Help: "Writes that also rewrote a legacy or non-canonical payload.",
		}),
		ArchiverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_archiver_runs_total",
			Help: "Scheduled auto-archive runs by result.",
		}, []string{"result"}),
		SessionsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossierline_sessions_archived_total",
			Help: "Sessions archived automatically.",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossierline_webhook_deliveries_total",
			Help: "Webhook deliveries by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration, m.Mutations, m.DocumentsSubmitted,
		m.DossierTransitions, m.Normalizations, m.ArchiverRuns, m.SessionsArchived,
		m.WebhookDeliveries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordMutation counts an engine operation outcome.
func (m *Metrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) DocumentSubmitted(key string) {
	if m == nil {
		return
	}
	m.DocumentsSubmitted.WithLabelValues(key).Inc()
}

func (m *Metrics) DossierTransition(to string) {
	if m == nil {
		return
	}
	m.DossierTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Normalized() {
	if m == nil {
		return
	}
	m.Normalizations.Inc()
}

func (m *Metrics) ArchiverRun(archived int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ArchiverRuns.WithLabelValues("error").Inc()
		return
	}
	m.ArchiverRuns.WithLabelValues("ok").Inc()
	m.SessionsArchived.Add(float64(archived))
}

func (m *Metrics) WebhookDelivery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}
	m.WebhookDeliveries.WithLabelValues("ok").Inc()
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
