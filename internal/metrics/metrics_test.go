package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordMutation("x", nil)
	m.DocumentSubmitted("id_photo")
	m.ArchiverRun(1, nil)
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	assert.NotNil(t, h)
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordMutation("submit_document", nil)
	m.RecordMutation("submit_document", errors.New("boom"))
	m.ArchiverRun(3, nil)
	m.DossierTransition("complete")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("submit_document", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsArchived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DossierTransitions.WithLabelValues("complete")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/sessions/{id}", "418")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dossierline_http_requests_total")
}
