package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disaster_coord"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Record store metrics.
	Mutations *prometheus.CounterVec // labels: kind={create,update,delete}, outcome={success,error}

	// Broadcast metrics.
	EventsPublished    *prometheus.CounterVec // labels: type
	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter

	// Lookup gateway metrics.
	LookupRequests *prometheus.CounterVec   // labels: lookup, outcome={success,fallback,error,timeout,cached}
	LookupDuration *prometheus.HistogramVec // labels: lookup

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Kafka sink metrics.
	KafkaEventsForwarded prometheus.Counter
	KafkaForwardErrors   prometheus.Counter

	RateLimited prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Mutations,
		m.EventsPublished,
		m.Subscribers,
		m.SubscribersDropped,
		m.LookupRequests,
		m.LookupDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.KafkaEventsForwarded,
		m.KafkaForwardErrors,
		m.RateLimited,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Record store mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events fanned out to subscribers, by event type.",
		}, []string{"type"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently open event subscriptions.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscriptions closed because their buffer was full.",
		}),
		LookupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_requests_total",
			Help:      "Lookup gateway calls by lookup and outcome.",
		}, []string{"lookup", "outcome"}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Lookup gateway call duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"lookup"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Mapbox geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when Mapbox geocoding is enabled, 0 otherwise.",
		}),
		KafkaEventsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_events_forwarded_total",
			Help:      "Mutation events written to the Kafka topic.",
		}),
		KafkaForwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_forward_errors_total",
			Help:      "Mutation events that could not be written to Kafka.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
}
