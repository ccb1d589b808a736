package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestrator.
// Using promauto for automatic registration with default registry.
var (
	// --- Campaign/Run Metrics ---

	// CampaignsTotal counts campaigns by status.
	CampaignsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "leadforge",
			Subsystem: "campaigns",
			Name:      "total",
			Help:      "Total number of campaigns by status",
		},
		[]string{"status"},
	)

	// RunsTotal counts campaign runs by terminal status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of campaign runs by terminal status",
		},
		[]string{"status"},
	)

	// RunDuration tracks campaign run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leadforge",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of campaign runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"campaign_name", "status"},
	)

	// RunCost accumulates total cost recorded across all runs.
	RunCost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "runs",
			Name:      "cost_total",
			Help:      "Total cost recorded across all campaign runs",
		},
	)

	// StepsCompleted counts successful step dispatches by engine.
	StepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "steps",
			Name:      "completed_total",
			Help:      "Total number of successfully dispatched steps by engine",
		},
		[]string{"engine"},
	)

	// StepsFailed counts failed step dispatches by engine.
	StepsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "steps",
			Name:      "failed_total",
			Help:      "Total number of failed step dispatches by engine",
		},
		[]string{"engine"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between a campaign's scheduled firing
	// time and the Runner actually starting.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leadforge",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled firing time and run start",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// ScheduledFirings counts cron firings by campaign outcome.
	ScheduledFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Total number of scheduled firings by outcome",
		},
		[]string{"outcome"}, // started, skipped_single_flight
	)

	// ActiveSchedules tracks the number of campaigns currently scheduled.
	ActiveSchedules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leadforge",
			Subsystem: "scheduler",
			Name:      "active_schedules",
			Help:      "Number of campaigns currently registered with the cron scheduler",
		},
	)

	// OrphansReaped counts runs recovered by the startup sweep.
	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned running runs marked failed at startup",
		},
	)

	// --- Budget Metrics ---

	// BudgetBlocks counts runs aborted by the Budget Gate.
	BudgetBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "budget",
			Name:      "blocks_total",
			Help:      "Total number of runs aborted by the budget gate",
		},
	)

	// PerLeadExceeded counts non-blocking per-lead budget warnings.
	PerLeadExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "budget",
			Name:      "per_lead_exceeded_total",
			Help:      "Total number of steps whose cost-per-lead exceeded the configured ceiling",
		},
	)

	// --- Retry Metrics ---

	// RetriesTotal counts step retries.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadforge",
			Subsystem: "steps",
			Name:      "retries_total",
			Help:      "Total number of step retries",
		},
		[]string{"engine"},
	)
)

// RecordRun records metrics for a completed campaign run.
func RecordRun(campaignName, status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(campaignName, status).Observe(durationSeconds)
}
