package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestSeries returns the label sets recorded on test_http_requests_total.
func requestSeries(t *testing.T, reg *prometheus.Registry) []map[string]string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var series []map[string]string
	for _, mf := range families {
		if mf.GetName() != "test_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			series = append(series, labels(m))
		}
	}
	return series
}

func labels(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, l := range m.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestMetrics_LabelsByRoute(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		pattern    string
		path       string
		status     int
		wantPath   string
		wantStatus string
	}{
		{"webhook by provider pattern", http.MethodPost, "/webhooks/{provider}", "/webhooks/qr_a", http.StatusOK, "/webhooks/{provider}", "200"},
		{"order read by id pattern", http.MethodGet, "/api/v1/orders/{id}", "/api/v1/orders/8d1c", http.StatusNotFound, "/api/v1/orders/{id}", "404"},
		{"created checkout", http.MethodPost, "/api/v1/orders", "/api/v1/orders", http.StatusCreated, "/api/v1/orders", "201"},
		{"unrouted path is collapsed", http.MethodGet, "/health", "/wp-admin/setup.php", 0, "unmatched", "404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			r := chi.NewRouter()
			r.Use(Metrics(observability.NewMetrics("test", reg)))
			r.MethodFunc(tt.method, tt.pattern, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			series := requestSeries(t, reg)
			require.Len(t, series, 1)
			assert.Equal(t, tt.wantPath, series[0]["path"])
			assert.Equal(t, tt.wantStatus, series[0]["status"])
			assert.Equal(t, tt.method, series[0]["method"])
		})
	}
}

func TestMetrics_ImplicitOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := chi.NewRouter()
	r.Use(Metrics(observability.NewMetrics("test", reg)))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "ok", w.Body.String())
	series := requestSeries(t, reg)
	require.Len(t, series, 1)
	assert.Equal(t, "200", series[0]["status"])
}

func TestMetrics_WithoutRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := Metrics(observability.NewMetrics("test", reg))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	series := requestSeries(t, reg)
	require.Len(t, series, 1)
	assert.Equal(t, "unmatched", series[0]["path"])
}

func TestMetrics_NilMetrics(t *testing.T) {
	handler := Metrics(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
}
