package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RowsPushed counts rows sent to a remote
	RowsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_rows_pushed_total",
			Help: "Total number of rows sent to a remote",
		},
		[]string{"model", "op", "status"}, // status: ok, error, conflict, skipped
	)

	// BatchesTotal counts transmitted batches
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_batches_total",
			Help: "Total number of batches transmitted",
		},
		[]string{"model", "status"},
	)

	// BatchDuration measures batch round trip time in seconds
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spinta_sync_batch_duration_seconds",
			Help:    "Batch round trip time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"model"},
	)

	// RemoteRetries counts retried remote requests
	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_remote_retries_total",
			Help: "Total number of retried remote requests",
		},
		[]string{"host", "reason"},
	)

	// RevisionConflicts counts revision conflicts by outcome
	RevisionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_revision_conflicts_total",
			Help: "Total number of revision conflicts",
		},
		[]string{"model", "outcome"}, // outcome: reconciled, escalated
	)

	// KeymapEncodes counts keymap encodes by whether the key was already known
	KeymapEncodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_keymap_encodes_total",
			Help: "Total number of keymap encodes",
		},
		[]string{"model", "result"}, // result: hit, miss
	)

	// SyncChanges counts changelog records applied to the keymap
	SyncChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_keymap_sync_changes_total",
			Help: "Total number of changelog records applied to the keymap",
		},
		[]string{"model", "op"},
	)

	// SyncWatermark tracks the keymap sync watermark per model (unix timestamp)
	SyncWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spinta_sync_keymap_watermark",
			Help: "Keymap sync watermark (unix timestamp)",
		},
		[]string{"model"},
	)

	// MigrationSteps counts executed migration steps
	MigrationSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_migration_steps_total",
			Help: "Total number of migration steps executed",
		},
		[]string{"kind", "status"},
	)

	// TasksEnqueued counts push tasks enqueued
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_tasks_enqueued_total",
			Help: "Total number of push tasks enqueued",
		},
		[]string{"model", "trigger"}, // trigger: manual, schedule
	)

	// TasksRunning tracks push tasks currently running
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spinta_sync_tasks_running",
			Help: "Number of push tasks currently running",
		},
		[]string{"model"},
	)

	// ErrorsTotal counts errors by component and error code
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spinta_sync_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "code"},
	)
)

// RecordRowPushed records one row result
func RecordRowPushed(model, op, status string) {
	RowsPushed.WithLabelValues(model, op, status).Inc()
}

// RecordBatch records a transmitted batch
func RecordBatch(model, status string, duration float64) {
	BatchesTotal.WithLabelValues(model, status).Inc()
	BatchDuration.WithLabelValues(model).Observe(duration)
}

// RecordRetry records a retried remote request
func RecordRetry(host, reason string) {
	RemoteRetries.WithLabelValues(host, reason).Inc()
}

// RecordConflict records the outcome of a revision conflict
func RecordConflict(model, outcome string) {
	RevisionConflicts.WithLabelValues(model, outcome).Inc()
}

// RecordKeymapEncode records a keymap encode
func RecordKeymapEncode(model string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	KeymapEncodes.WithLabelValues(model, result).Inc()
}

// RecordSyncChange records one applied changelog record
func RecordSyncChange(model, op string) {
	SyncChanges.WithLabelValues(model, op).Inc()
}

// RecordWatermark records the keymap watermark of a model
func RecordWatermark(model string, unix float64) {
	SyncWatermark.WithLabelValues(model).Set(unix)
}

// RecordMigrationStep records an executed migration step
func RecordMigrationStep(kind, status string) {
	MigrationSteps.WithLabelValues(kind, status).Inc()
}

// RecordTaskEnqueued records a task enqueue
func RecordTaskEnqueued(model, trigger string) {
	TasksEnqueued.WithLabelValues(model, trigger).Inc()
}

// RecordTaskStart records the start of a task
func RecordTaskStart(model string) {
	TasksRunning.WithLabelValues(model).Inc()
}

// RecordTaskComplete records task completion
func RecordTaskComplete(model string) {
	TasksRunning.WithLabelValues(model).Dec()
}

// RecordError records an error
func RecordError(component, code string) {
	ErrorsTotal.WithLabelValues(component, code).Inc()
}
