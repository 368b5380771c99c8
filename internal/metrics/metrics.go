// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verdicts counts terminal verdicts.
	// Labels: verdict, engine
	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "pipeline",
		Name:      "verdicts_total",
		Help:      "Terminal verdicts per code unit",
	}, []string{"verdict", "engine"})

	// verifierDuration measures compiler invocations.
	// Labels: engine, outcome (proved, failed, timeout, crash, tooling)
	verifierDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "argus",
		Subsystem: "verifier",
		Name:      "duration_seconds",
		Help:      "Compiler subprocess wall time",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"engine", "outcome"})

	repairAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "repair",
		Name:      "attempts_total",
		Help:      "Repair proposals requested",
	})

	// guardViolations counts rejected artifacts by violation code.
	guardViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "guard",
		Name:      "violations_total",
		Help:      "Semantic guard violations",
	}, []string{"code"})

	discoveryBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "discovery",
		Name:      "batches_total",
		Help:      "Candidate batches by outcome (admitted, discarded, failed, disabled)",
	}, []string{"outcome"})
)

func RecordVerdict(verdict, engine string) {
	verdicts.WithLabelValues(verdict, engine).Inc()
}

func ObserveVerifier(engine, outcome string, elapsed time.Duration) {
	verifierDuration.WithLabelValues(engine, outcome).Observe(elapsed.Seconds())
}

func RecordRepairAttempt() { repairAttempts.Inc() }

func RecordGuardViolation(code string) {
	guardViolations.WithLabelValues(code).Inc()
}

func RecordDiscoveryBatch(outcome string) {
	discoveryBatches.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps the default registry in the Prometheus text format,
// for node_exporter's textfile collector after a one-shot run.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
