// Package metrics exposes the prometheus collectors of the verification
// pipeline. Collectors register with the default registry on import.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliverkit_verdicts_total",
			Help: "Finalized verification results by verdict.",
		},
		[]string{"verdict"},
	)

	stageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliverkit_stage_outcomes_total",
			Help: "Pipeline stage outcomes by stage, status and detail code.",
		},
		[]string{"stage", "status", "code"},
	)

	smtpCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deliverkit_smtp_command_duration_seconds",
			Help:    "SMTP probe command duration by command and reply class (0 on I/O error).",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command", "class"},
	)

	probeConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliverkit_probe_connections_total",
			Help: "SMTP probe connection attempts by result: ok, error, rate_limited.",
		},
		[]string{"result"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliverkit_domain_cache_lookups_total",
			Help: "Domain cache lookups by kind (mx, catch_all) and result (hit, miss).",
		},
		[]string{"kind", "result"},
	)

	stored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliverkit_results_stored_total",
			Help: "Result upserts by outcome: ok, error.",
		},
		[]string{"result"},
	)
)

// ObserveVerdict counts a finalized verdict.
func ObserveVerdict(verdict string) {
	verdicts.WithLabelValues(verdict).Inc()
}

// ObserveStage counts a stage outcome.
func ObserveStage(stage, status, code string) {
	stageOutcomes.WithLabelValues(stage, status, code).Inc()
}

// ObserveCommand records the duration of one SMTP exchange. code is the
// reply code, or 0 when the exchange failed at the I/O level.
func ObserveCommand(command string, code int, d time.Duration) {
	smtpCommandDuration.WithLabelValues(command, strconv.Itoa(code/100)).Observe(d.Seconds())
}

// ObserveConnection counts a probe dial by result.
func ObserveConnection(result string) {
	probeConnections.WithLabelValues(result).Inc()
}

// ObserveCache counts a domain cache lookup.
func ObserveCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveStore counts a result upsert.
func ObserveStore(err error) {
	if err != nil {
		stored.WithLabelValues("error").Inc()
		return
	}
	stored.WithLabelValues("ok").Inc()
}
