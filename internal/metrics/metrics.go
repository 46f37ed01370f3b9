// Package metrics holds the Prometheus instrumentation of nab.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HarnessRuns counts finished harness runs by outcome
	// ("succeeded", "failed", "refused").
	HarnessRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nab_harness_runs_total",
			Help: "Total number of backup harness runs by outcome",
		},
		[]string{"outcome"},
	)

	HarnessRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nab_harness_running",
			Help: "Number of backup harness runs currently in progress",
		},
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nab_transfer_duration_seconds",
			Help:    "Duration of rsync transfers in seconds",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		},
		[]string{"generation"},
	)

	TransferExitCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nab_transfer_exit_codes_total",
			Help: "rsync exit codes observed by the harness",
		},
		[]string{"code"},
	)

	StalePIDsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nab_stale_pids_reclaimed_total",
			Help: "Backup records whose dead process id was cleared",
		},
	)

	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nab_snapshots_pruned_total",
			Help: "Snapshots destroyed by retention pruning",
		},
	)

	StorageUsagePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nab_storage_usage_percent",
			Help: "Utilization of a storage location",
		},
		[]string{"storage"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nab_notifications_total",
			Help: "Notifications sent by provider and result",
		},
		[]string{"provider", "result"},
	)

	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nab_scheduler_skips_total",
			Help: "Hosts the scheduler did not start, by reason",
		},
		[]string{"reason"},
	)
)

// RecordTransfer observes a finished transfer.
func RecordTransfer(generation string, code int, duration time.Duration) {
	TransferDuration.WithLabelValues(generation).Observe(duration.Seconds())
	TransferExitCodes.WithLabelValues(exitCodeLabel(code)).Inc()
}

// TrackRunning adjusts the in-progress gauge.
func TrackRunning(inc bool) {
	if inc {
		HarnessRunning.Inc()
	} else {
		HarnessRunning.Dec()
	}
}

func exitCodeLabel(code int) string {
	if code < 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
