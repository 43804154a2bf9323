package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Integration metrics
	IntegrationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "junction_integrations_total",
			Help: "Number of managed integrations by type and status",
		},
		[]string{"type", "status"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_registrations_total",
			Help: "Total number of registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Health prober metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_health_checks_total",
			Help: "Total number of health probes by result",
		},
		[]string{"result"},
	)

	// Port allocator metrics
	PortsLeased = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "junction_ports_leased",
			Help: "Number of currently leased ports",
		},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "junction_events_published_total",
			Help: "Total number of events published on the bus",
		},
	)

	EventHandlerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "junction_event_handler_errors_total",
			Help: "Total number of handler failures that exhausted retries",
		},
	)

	// Webhook metrics
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "junction_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Deintegration metrics
	DeintegrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_deintegrations_total",
			Help: "Total number of deintegrations by policy and status",
		},
		[]string{"policy", "status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "junction_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(IntegrationsTotal)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(PortsLeased)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventHandlerErrorsTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(WebhookDeliveryDuration)
	prometheus.MustRegister(DeintegrationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
