package ports

// Metric names reported through Observability.
const (
	MetricErrorsRecorded   = "isolate_errors_recorded_total"
	MetricRejected         = "isolate_submissions_rejected_total"
	MetricIgnored          = "isolate_submissions_ignored_total"
	MetricGuardBlocked     = "isolate_guard_blocked_total"
	MetricOfflineAttempts  = "isolate_offline_attempts_total"
	MetricOfflineSucceeded = "isolate_offline_succeeded_total"
	MetricOfflineFailed    = "isolate_offline_failed_total"
	MetricConfigErrors     = "isolate_config_errors_total"
	MetricDispatched       = "isolate_dispatched_total"
	MetricEventsPersisted  = "isolate_events_persisted_total"
	MetricJournalDropped   = "isolate_journal_dropped_total"
	MetricDLQ              = "isolate_dlq_total"

	MetricUnitsOffline = "isolate_units_offline"
	MetricQueueLength  = "isolate_journal_queue_length"
	MetricWALSize      = "isolate_journal_wal_size_bytes"

	MetricOfflineLatency = "isolate_offline_latency_seconds"
	MetricSinkLatency    = "isolate_sink_latency_seconds"
)

type MetricKind int

const (
	CounterMetric MetricKind = iota // IncCounter
	GaugeMetric                     // SetGauge
	LatencyMetric                   // ObserveLatency
)

type MetricDesc struct {
	Name string
	Kind MetricKind
	Help string
}

// MetricCatalog lists every metric name above with its kind.
var MetricCatalog = []MetricDesc{
	{MetricErrorsRecorded, CounterMetric, "Classified errors accumulated against an online unit."},
	{MetricRejected, CounterMetric, "Submissions rejected as invalid or while disabled."},
	{MetricIgnored, CounterMetric, "Submissions for units that were not online."},
	{MetricGuardBlocked, CounterMetric, "Offline actions suppressed by the isolation limit."},
	{MetricOfflineAttempts, CounterMetric, "Offline attempts issued to the unit controller."},
	{MetricOfflineSucceeded, CounterMetric, "Offline attempts verified by a status read."},
	{MetricOfflineFailed, CounterMetric, "Offline attempts that failed or did not take effect."},
	{MetricConfigErrors, CounterMetric, "Policy parameters rejected at load time."},
	{MetricDispatched, CounterMetric, "Classified errors handed to the isolation controller."},
	{MetricEventsPersisted, CounterMetric, "Isolation events written to the audit sink."},
	{MetricJournalDropped, CounterMetric, "Isolation events refused by journal backpressure."},
	{MetricDLQ, CounterMetric, "Isolation events the sink rejected."},
	{MetricUnitsOffline, GaugeMetric, "Units currently offline according to the operating environment."},
	{MetricQueueLength, GaugeMetric, "Isolation events buffered for the audit sink."},
	{MetricWALSize, GaugeMetric, "Size of the isolation journal on disk."},
	{MetricOfflineLatency, LatencyMetric, "Time spent writing and verifying a unit's offline state."},
	{MetricSinkLatency, LatencyMetric, "Latency of audit sink batch writes."},
}
