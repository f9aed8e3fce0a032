package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "craftctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	oracleAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftctl",
			Subsystem: "oracle",
			Name:      "attempts_total",
			Help:      "Oracle request attempts by outcome.",
		},
		[]string{"outcome"},
	)
	oracleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "craftctl",
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Oracle combine duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"success"},
	)
	dispatchPairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftctl",
			Subsystem: "dispatch",
			Name:      "pairs_total",
			Help:      "Candidate pairs by dispatch stage.",
		},
		[]string{"stage"},
	)
	integrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftctl",
			Subsystem: "graph",
			Name:      "integrations_total",
			Help:      "Integrated oracle results by kind.",
		},
		[]string{"kind"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craftctl",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Oracle calls currently outstanding.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			oracleAttempts,
			oracleDuration,
			dispatchPairs,
			integrations,
			inFlight,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordOracleAttempt counts one HTTP round trip to the oracle.
func RecordOracleAttempt(outcome string) {
	RegisterMetrics()
	oracleAttempts.WithLabelValues(outcome).Inc()
}

func RecordOracleCall(duration time.Duration, success bool) {
	RegisterMetrics()
	oracleDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordDispatch(stage string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	dispatchPairs.WithLabelValues(stage).Add(float64(n))
}

func RecordIntegration(kind string) {
	RegisterMetrics()
	integrations.WithLabelValues(kind).Inc()
}

func AddInFlight(delta int) {
	RegisterMetrics()
	inFlight.Add(float64(delta))
}
