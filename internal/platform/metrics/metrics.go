package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           *prometheus.CounterVec
	errorsTotal             prometheus.Counter
	signalingErrorsTotal    *prometheus.CounterVec
	viewersConnected        prometheus.Gauge
	transports              prometheus.Gauge
	producerActive          prometheus.Gauge
	producersCreatedTotal   prometheus.Counter
	producerStallsTotal     prometheus.Counter
	consumersCreatedTotal   prometheus.Counter
	consumersResumedTotal   prometheus.Counter
	mediaStoppedBroadcasted prometheus.Counter
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "HTTP requests received, by route pattern",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		signalingErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_signaling_errors_total",
			Help: "Signaling requests answered with an error payload, by event",
		}, []string{"event"}),
		viewersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_viewers_connected",
			Help: "Number of connected viewer sessions",
		}),
		transports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_transports",
			Help: "Number of viewer transports in the registry",
		}),
		producerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_producer_active",
			Help: "1 while an upstream producer is active, 0 while awaiting the source",
		}),
		producersCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_producers_created_total",
			Help: "Total number of upstream producers created",
		}),
		producerStallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_producer_stalls_total",
			Help: "Total number of producers closed by the liveness monitor",
		}),
		consumersCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_consumers_created_total",
			Help: "Total number of paused consumers handed to viewers",
		}),
		consumersResumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_consumers_resumed_total",
			Help: "Total number of consumers resumed after viewer acknowledgment",
		}),
		mediaStoppedBroadcasted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_media_stopped_broadcasts_total",
			Help: "Total number of media-stopped notifications broadcast to viewers",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.signalingErrorsTotal,
		m.viewersConnected,
		m.transports,
		m.producerActive,
		m.producersCreatedTotal,
		m.producerStallsTotal,
		m.consumersCreatedTotal,
		m.consumersResumedTotal,
		m.mediaStoppedBroadcasted,
	)

	return m
}

// IncRequests counts one request on route.
func (m *Metrics) IncRequests(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSignalingErrors counts an error ack sent for event.
func (m *Metrics) IncSignalingErrors(event string) {
	m.signalingErrorsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) IncViewers() { m.viewersConnected.Inc() }
func (m *Metrics) DecViewers() { m.viewersConnected.Dec() }

// SetTransports sets the registry size gauge.
func (m *Metrics) SetTransports(n int) {
	m.transports.Set(float64(n))
}

// SetProducerActive flips the producer gauge.
func (m *Metrics) SetProducerActive(active bool) {
	if active {
		m.producerActive.Set(1)
		return
	}
	m.producerActive.Set(0)
}

func (m *Metrics) IncProducersCreated()      { m.producersCreatedTotal.Inc() }
func (m *Metrics) IncProducerStalls()        { m.producerStallsTotal.Inc() }
func (m *Metrics) IncConsumersCreated()      { m.consumersCreatedTotal.Inc() }
func (m *Metrics) IncConsumersResumed()      { m.consumersResumedTotal.Inc() }
func (m *Metrics) IncMediaStoppedBroadcast() { m.mediaStoppedBroadcasted.Inc() }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. transports).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
