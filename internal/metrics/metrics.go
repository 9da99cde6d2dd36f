package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invite_tracker"

// Attribution outcomes.
const (
	OutcomeAttributed   = "attributed"
	OutcomeUnattributed = "unattributed"
	OutcomeUntracked    = "untracked"
	OutcomeLedgerError  = "ledger_error"
	OutcomeUnavailable  = "directory_unavailable"
)

// Command outcomes.
const (
	CommandOK     = "ok"
	CommandDenied = "denied"
	CommandError  = "error"
	CommandPanic  = "panic"
)

// Registry holds every collector of the process. It is separate from the
// default registry so tests can read values without global side effects
// from other packages.
var Registry = prometheus.NewRegistry()

var startTime = time.Now()

var (
	Attributions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attributions_total",
		Help:      "Member joins by attribution outcome.",
	}, []string{"outcome"})

	DirectoryFailures = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_failures_total",
		Help:      "Failed guild directory calls by operation.",
	}, []string{"op"})

	LedgerErrors = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_errors_total",
		Help:      "Storage failures by ledger operation.",
	}, []string{"op"})

	Commands = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Command invocations by command and outcome.",
	}, []string{"command", "outcome"})

	CommandDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Command execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	QueueDepth = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending guild events per worker.",
	}, []string{"worker"})

	QueuePanics = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_panics_total",
		Help:      "Recovered panics in guild event workers.",
	})

	RESTLatency = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "discord_rest_duration_seconds",
		Help:      "Discord REST round trip latency.",
		Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "status"})

	CacheResults = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_results_total",
		Help:      "Read cache lookups by tier hit or miss.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordAttribution counts one attribution attempt.
func RecordAttribution(outcome string) {
	Attributions.WithLabelValues(outcome).Inc()
}

func RecordDirectoryFailure(op string) {
	DirectoryFailures.WithLabelValues(op).Inc()
}

func RecordLedgerError(op string) {
	LedgerErrors.WithLabelValues(op).Inc()
}

// RecordCommand counts one dispatched command and its latency.
func RecordCommand(command, outcome string, took time.Duration) {
	Commands.WithLabelValues(command, outcome).Inc()
	CommandDuration.WithLabelValues(command).Observe(took.Seconds())
}

func RecordREST(method string, status int, took time.Duration) {
	RESTLatency.WithLabelValues(method, statusClass(status)).Observe(took.Seconds())
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RuntimeStats is a point in time view used by the ping command.
type RuntimeStats struct {
	Goroutines  int
	HeapAllocMB uint64
	Uptime      time.Duration
}

func Runtime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: m.Alloc / 1024 / 1024,
		Uptime:      time.Since(startTime),
	}
}
