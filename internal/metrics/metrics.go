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
	/* HTTP */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "takipus_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	/* Lifecycle */
	lifecycleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_lifecycle_operations_total",
			Help: "Lifecycle operations by name and outcome kind",
		},
		[]string{"op", "outcome"},
	)

	/* Scheduler */
	reminderNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_scheduler_notifications_total",
			Help: "Reminder and overdue events emitted by the scheduler",
		},
		[]string{"kind"},
	)

	schedulerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_scheduler_item_errors_total",
			Help: "Per-action errors collected during a scheduler run",
		},
		[]string{"pass"},
	)

	schedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "takipus_scheduler_run_duration_seconds",
			Help:    "Duration of a full scheduler run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	/* Notifications */
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_notifications_total",
			Help: "Notifications persisted by type and outcome",
		},
		[]string{"type", "status"},
	)

	pushAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takipus_push_attempts_total",
			Help: "Push gateway delivery attempts by result",
		},
		[]string{"result"},
	)

	/* Live */
	liveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "takipus_live_clients",
			Help: "Connected websocket clients",
		},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLifecycle counts one lifecycle operation; outcome is "ok" or an error kind.
func RecordLifecycle(op, outcome string) {
	lifecycleTransitionsTotal.WithLabelValues(op, outcome).Inc()
}

func RecordReminderSent() {
	reminderNotificationsTotal.WithLabelValues("due_soon").Inc()
}

func RecordOverdueSent() {
	reminderNotificationsTotal.WithLabelValues("overdue").Inc()
}

func RecordSchedulerError(pass string) {
	schedulerErrorsTotal.WithLabelValues(pass).Inc()
}

func RecordSchedulerRun(duration time.Duration) {
	schedulerRunDuration.Observe(duration.Seconds())
}

func RecordNotification(notificationType, status string) {
	notificationsTotal.WithLabelValues(notificationType, status).Inc()
}

func RecordPushAttempt(result string) {
	pushAttemptsTotal.WithLabelValues(result).Inc()
}

func LiveClientConnected() {
	liveClients.Inc()
}

func LiveClientDisconnected() {
	liveClients.Dec()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
