package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_service",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	raffleEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Total number of accepted raffle entries.",
		},
	)

	rafflePool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "pool_value",
			Help:      "Prize pool accumulated for the current round.",
		},
	)

	raffleParticipants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "participants",
			Help:      "Number of entries recorded for the current round.",
		},
	)

	upkeepChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "upkeep_checks_total",
			Help:      "Total number of upkeep evaluations.",
		},
		[]string{"eligible"},
	)

	drawsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "draws_started_total",
			Help:      "Total number of winner draws started.",
		},
	)

	drawsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "draws_settled_total",
			Help:      "Total number of settled draws.",
		},
		[]string{"outcome"},
	)

	payoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "payout_failures_total",
			Help:      "Total number of failed winner payouts.",
		},
	)

	drawDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raffle_service",
			Subsystem: "raffle",
			Name:      "draw_duration_seconds",
			Help:      "Duration from draw start to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	randomnessRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_service",
			Subsystem: "randomness",
			Name:      "requests_total",
			Help:      "Total number of randomness request transitions.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raffleEntries,
		rafflePool,
		raffleParticipants,
		upkeepChecks,
		drawsStarted,
		drawsSettled,
		payoutFailures,
		drawDuration,
		randomnessRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight marks an HTTP request as started.
func IncInFlight() {
	httpInFlight.Inc()
}

// DecInFlight marks an HTTP request as finished.
func DecInFlight() {
	httpInFlight.Dec()
}

// RecordHTTPRequest records one handled HTTP request. Path should be the
// route template, not the raw URL, to keep the label cardinality bounded.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEntry records an accepted entry and refreshes the round gauges.
func RecordEntry(pool float64, participants int) {
	raffleEntries.Inc()
	SetRoundGauges(pool, participants)
}

// SetRoundGauges publishes the current pool value and participant count.
func SetRoundGauges(pool float64, participants int) {
	rafflePool.Set(pool)
	raffleParticipants.Set(float64(participants))
}

// RecordUpkeepCheck records one upkeep evaluation.
func RecordUpkeepCheck(eligible bool) {
	result := "false"
	if eligible {
		result = "true"
	}
	upkeepChecks.WithLabelValues(result).Inc()
}

// RecordDrawStarted records a round moving into the calculating state.
func RecordDrawStarted() {
	drawsStarted.Inc()
}

// RecordDrawSettled records a settled draw. Outcome is "won" when a winner
// was paid and "aborted" when an operator cancelled the draw.
func RecordDrawSettled(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	drawsSettled.WithLabelValues(outcome).Inc()
	drawDuration.Observe(duration.Seconds())
}

// RecordPayoutFailure records a winner payout that did not complete.
func RecordPayoutFailure() {
	payoutFailures.Inc()
}

// RecordRandomnessRequest records a randomness request status transition.
func RecordRandomnessRequest(status string) {
	if status == "" {
		status = "unknown"
	}
	randomnessRequests.WithLabelValues(status).Inc()
}
