package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_notifications_created_total",
			Help: "Notifications accepted by the classifier",
		},
		[]string{"type", "priority", "category"},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_lifecycle_transitions_total",
			Help: "Lifecycle transitions applied, by kind",
		},
		[]string{"kind"},
	)

	channelDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_channel_dispatches_total",
			Help: "Secondary-channel hand-offs by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	channelSuppressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_channel_suppressions_total",
			Help: "Channels removed from an eligibility set, by reason",
		},
		[]string{"reason"},
	)

	feedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_feed_subscribers",
			Help: "Currently connected feed subscribers",
		},
	)

	janitorActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_janitor_actions_total",
			Help: "Retention actions applied by the janitor",
		},
		[]string{"action"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Create requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"recipient_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated records an accepted creation request
func RecordNotificationCreated(typ, priority, category string) {
	notificationsCreated.WithLabelValues(typ, priority, category).Inc()
}

// RecordLifecycleTransition records one applied lifecycle transition
func RecordLifecycleTransition(kind string) {
	lifecycleTransitions.WithLabelValues(kind).Inc()
}

// RecordChannelDispatch records a secondary-channel hand-off result
func RecordChannelDispatch(channel, outcome string) {
	channelDispatches.WithLabelValues(channel, outcome).Inc()
}

// RecordChannelSuppression records channels dropped from an eligibility set
func RecordChannelSuppression(reason string) {
	channelSuppressions.WithLabelValues(reason).Inc()
}

// FeedSubscriberConnected tracks a new live feed subscriber
func FeedSubscriberConnected() {
	feedSubscribers.Inc()
}

// FeedSubscriberDisconnected tracks a departed feed subscriber
func FeedSubscriberDisconnected() {
	feedSubscribers.Dec()
}

// RecordJanitorAction records retention actions (auto_archive, prune, expire)
func RecordJanitorAction(action string, count int) {
	janitorActions.WithLabelValues(action).Add(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(recipientID string) {
	rateLimitRejections.WithLabelValues(recipientID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
