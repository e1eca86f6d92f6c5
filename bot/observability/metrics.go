package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks queued processes by action kind.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_queue_depth",
		Help: "Current number of queued processes",
	}, []string{"action"})

	// ActiveProcess is 1 while a process runs, labeled by action.
	ActiveProcess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_active_process",
		Help: "Whether a process of the given action is currently active",
	}, []string{"action"})

	// SchedulerDecisions counts admission/preemption decisions by type.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision"})

	// Preemptions counts evictions of an active process.
	Preemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_preemptions_total",
		Help: "Total number of active-process preemptions",
	})

	// ProcessOutcomes counts terminal transitions by action and status.
	ProcessOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_process_outcomes_total",
		Help: "Processes reaching a terminal status",
	}, []string{"action", "status"})

	// APICalls counts remote game-API calls by endpoint and outcome.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_api_calls_total",
		Help: "Game API calls issued, by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// APIBudgetWaitSeconds observes time spent waiting on the shared rate budget.
	APIBudgetWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_api_budget_wait_seconds",
		Help:    "Time handlers wait for an API budget token",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// PlayersProcessed counts refresh loop iterations by bucket outcome.
	PlayersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_players_processed_total",
		Help: "Player ids moved out of pending, by destination bucket",
	}, []string{"action", "bucket"})

	// NotificationSends counts change-notification deliveries.
	NotificationSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_notification_sends_total",
		Help: "Change notification messages sent, by result",
	}, []string{"result"})

	// RefreshTimersArmed tracks the number of armed per-alliance timers.
	RefreshTimersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_refresh_timers_armed",
		Help: "Per-alliance auto-refresh timers currently armed",
	})

	// AdmitLoopDuration observes one pass of the admission loop.
	AdmitLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_admit_loop_duration_seconds",
		Help:    "Duration of one admission pass",
		Buckets: prometheus.DefBuckets,
	})

	// RecoveredProcesses counts rows swept back to queued at boot.
	RecoveredProcesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_recovered_processes_total",
		Help: "Interrupted processes requeued by the crash-recovery sweep",
	})
)
