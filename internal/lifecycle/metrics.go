package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/imamik/branchenv/internal/environment"
)

var (
	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "branchenv",
			Subsystem: "lifecycle",
			Name:      "workflows_total",
			Help:      "Total number of finished workflow runs by event and result",
		},
		[]string{"event", "result"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "branchenv",
			Subsystem: "lifecycle",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each phase of a workflow run",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
		},
		[]string{"phase"},
	)

	activeWorkflows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "branchenv",
			Subsystem: "lifecycle",
			Name:      "active_workflows",
			Help:      "Number of workflow runs in progress",
		},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "branchenv",
			Subsystem: "lifecycle",
			Name:      "recoveries_total",
			Help:      "Total number of stuck-deletion recoveries by result",
		},
		[]string{"result"},
	)

	changesetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "branchenv",
			Subsystem: "migration",
			Name:      "changesets_total",
			Help:      "Total number of changeset outcomes by status",
		},
		[]string{"status"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		workflowsTotal,
		phaseDuration,
		activeWorkflows,
		recoveriesTotal,
		changesetsTotal,
	)
}

// recordReportMetric records a finished run.
func recordReportMetric(report environment.Report) {
	result := "success"
	if !report.Succeeded() {
		result = "failure"
	}
	workflowsTotal.WithLabelValues(string(report.Event), result).Inc()
	for phase, d := range report.DurationByPhase {
		phaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
	}
	for _, cs := range report.Changesets {
		changesetsTotal.WithLabelValues(string(cs.Status)).Inc()
	}
}

func recordRecoveryMetric(err error) {
	if err != nil {
		recoveriesTotal.WithLabelValues("error").Inc()
		return
	}
	recoveriesTotal.WithLabelValues("success").Inc()
}

func (o *Orchestrator) recordReport(report environment.Report) {
	if o.enableMetrics {
		recordReportMetric(report)
	}
}

func (o *Orchestrator) recordRecovery(err error) {
	if o.enableMetrics {
		recordRecoveryMetric(err)
	}
}

func (o *Orchestrator) trackActive(delta float64) {
	if o.enableMetrics {
		activeWorkflows.Add(delta)
	}
}
