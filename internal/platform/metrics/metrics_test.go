package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHandler_refreshesGauges(t *testing.T) {
	m := New()
	m.SetProducerActive(true)
	m.IncProducerStalls()
	m.IncSignalingErrors("consume")

	body := scrape(t, m, func() { m.SetTransports(4) })

	for _, want := range []string{
		"relay_transports 4",
		"relay_producer_active 1",
		"relay_producer_stalls_total 1",
		`relay_signaling_errors_total{event="consume"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
}

func TestRequestMiddleware_countsErrors(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/streams/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/streams/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/streams/b", nil))

	body := scrape(t, m, nil)
	for _, want := range []string{
		`relay_requests_total{route="/status"} 1`,
		`relay_requests_total{route="/streams/{id}"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
	if !strings.Contains(body, "relay_errors_total 2") {
		t.Errorf("expected 2 errors:\n%s", body)
	}
}
