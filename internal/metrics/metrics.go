package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_events_published_total",
			Help: "Events fanned out to push subscribers, by event type",
		},
		[]string{"type"},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderdesk_subscribers",
			Help: "Currently open push connections",
		},
	)

	SubscribersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_subscribers_dropped_total",
			Help: "Push connections dropped because a send failed",
		},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_status_transitions_total",
			Help: "Successful order status transitions, by target status",
		},
		[]string{"status"},
	)

	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_relay_messages_total",
			Help: "Events exchanged with other instances, by direction",
		},
		[]string{"direction"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(SubscribersDropped)
	prometheus.MustRegister(StatusTransitions)
	prometheus.MustRegister(RelayMessages)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// Instrument records request count and latency labelled by chi route pattern.
// Long-lived push streams are counted once they end.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
