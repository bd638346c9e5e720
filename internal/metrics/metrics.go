// Package metrics registers pg_cmdqd's Prometheus instrumentation and
// adapts it to the runner.Metrics and supervisor.Metrics interfaces.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pg_cmdqd",
		Name:      "command_duration_seconds",
		Help:      "Time spent executing one queued command, by queue and outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"queue", "outcome"})

	CommandTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_cmdqd",
		Name:      "command_timeouts_total",
		Help:      "Total commands killed for exceeding cmd_timeout_sec.",
	}, []string{"queue"})

	ReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_cmdqd",
		Name:      "runner_reconnects_total",
		Help:      "Total times a runner reconnected after losing its connection.",
	}, []string{"queue"})

	EmptyReselectStreak = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pg_cmdqd",
		Name:      "empty_reselect_streak",
		Help:      "Consecutive reselects that found no command, per queue. A proxy for queue depth and reselect-interval tuning.",
	}, []string{"queue"})

	NoticesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_cmdqd",
		Name:      "sql_notices_total",
		Help:      "Total non-fatal PostgreSQL notices raised by queued SQL commands.",
	}, []string{"queue"})

	FatalErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_cmdqd",
		Name:      "runner_fatal_errors_total",
		Help:      "Total runner-fatal errors (session setup failures that stop a runner).",
	}, []string{"queue"})

	QueuesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pg_cmdqd",
		Name:      "queues_active",
		Help:      "Number of queues the supervisor currently runs a runner for.",
	})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pg_cmdqd",
		Name:      "admin_http_request_duration_seconds",
		Help:      "Admin HTTP surface request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_cmdqd",
		Name:      "admin_http_requests_total",
		Help:      "Total admin HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		CommandDuration,
		CommandTimeoutsTotal,
		ReconnectsTotal,
		EmptyReselectStreak,
		NoticesTotal,
		FatalErrorsTotal,
		QueuesActive,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

// RunnerMetrics adapts the package-level collectors to runner.Metrics.
type RunnerMetrics struct{}

func (RunnerMetrics) ObserveCommandDuration(queue, outcome string, seconds float64) {
	CommandDuration.WithLabelValues(queue, outcome).Observe(seconds)
}

func (RunnerMetrics) IncCommandTimeout(queue string) {
	CommandTimeoutsTotal.WithLabelValues(queue).Inc()
}

func (RunnerMetrics) IncReconnect(queue string) {
	ReconnectsTotal.WithLabelValues(queue).Inc()
}

func (RunnerMetrics) SetEmptyReselectStreak(queue string, n int) {
	EmptyReselectStreak.WithLabelValues(queue).Set(float64(n))
}

func (RunnerMetrics) IncNotice(queue string) {
	NoticesTotal.WithLabelValues(queue).Inc()
}

func (RunnerMetrics) IncFatalError(queue string) {
	FatalErrorsTotal.WithLabelValues(queue).Inc()
}

// SupervisorMetrics adapts the package-level collectors to supervisor.Metrics.
type SupervisorMetrics struct{}

func (SupervisorMetrics) SetQueuesActive(n int) {
	QueuesActive.Set(float64(n))
}
