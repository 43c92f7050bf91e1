package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	pollsTotal        *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	transientFailures prometheus.Counter
	staleResponses    *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	teardownsTotal    *prometheus.CounterVec
	launchesTotal     *prometheus.CounterVec
}

var (
	initOnce sync.Once
	m        *collectors
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	initOnce.Do(func() {
		m = &collectors{
			pollsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trainwatch_polls_total",
					Help: "Progress polls applied, by outcome",
				},
				[]string{"outcome"},
			),
			pollDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "trainwatch_poll_duration_seconds",
					Help:    "Latency of progress requests",
					Buckets: prometheus.DefBuckets,
				},
			),
			transientFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "trainwatch_transient_failures_total",
					Help: "Progress requests that failed and will be retried",
				},
			),
			staleResponses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trainwatch_stale_responses_total",
					Help: "Progress responses discarded on arrival",
				},
				[]string{"reason"},
			),
			activeSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "trainwatch_active_sessions",
					Help: "Sessions currently monitored",
				},
			),
			teardownsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trainwatch_teardowns_total",
					Help: "Session teardowns, by final poller state",
				},
				[]string{"state"},
			),
			launchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trainwatch_launches_total",
					Help: "Training launches, by result",
				},
				[]string{"result"},
			),
		}
	})
}

func ObservePoll(outcome string, took time.Duration) {
	Init()
	m.pollsTotal.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(took.Seconds())
}

func ObserveTransientFailure() {
	Init()
	m.transientFailures.Inc()
}

// ObserveStale counts a discarded response. reason is "stopped" when the
// poller had already left Polling and "epoch" for out-of-order arrivals.
func ObserveStale(reason string) {
	Init()
	m.staleResponses.WithLabelValues(reason).Inc()
}

func SessionStarted() {
	Init()
	m.activeSessions.Inc()
}

func SessionTornDown(state string) {
	Init()
	m.activeSessions.Dec()
	m.teardownsTotal.WithLabelValues(state).Inc()
}

func ObserveLaunch(result string) {
	Init()
	m.launchesTotal.WithLabelValues(result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
