package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Snapshot metrics
	SnapshotPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabricsub_snapshot_phase_duration_seconds",
			Help:    "Time taken by each snapshot builder phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	SnapshotPhaseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_snapshot_phase_failures_total",
			Help: "Total number of snapshot builder phase failures",
		},
		[]string{"phase"},
	)

	SnapshotRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_snapshot_rows_written_total",
			Help: "Total number of rows bulk-inserted by the snapshot builder",
		},
		[]string{"table"},
	)

	// Dispatch metrics
	DispatchMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_dispatch_messages_total",
			Help: "Total number of envelopes handed to the dispatcher",
		},
		[]string{"role"},
	)

	DispatchBulksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_dispatch_bulks_total",
			Help: "Total number of outbound bulk envelopes emitted",
		},
		[]string{"role"},
	)

	DispatchBroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_dispatch_broadcast_total",
			Help: "Total number of broadcast envelopes published",
		},
		[]string{"channel"},
	)

	DispatchDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_dispatch_dropped_total",
			Help: "Total number of envelopes dropped on a bus push failure",
		},
		[]string{"role"},
	)

	// Event router / batcher metrics
	EventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_events_routed_total",
			Help: "Total number of controller events classified by the event router",
		},
		[]string{"class"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_events_dropped_total",
			Help: "Total number of controller events dropped by init/stop policy",
		},
		[]string{"class", "reason"},
	)

	BatchFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabricsub_batch_flush_duration_seconds",
			Help:    "Time taken to dispatch one drained queue on a batcher tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchFlushSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabricsub_batch_flush_size",
			Help:    "Number of events drained per batcher tick",
			Buckets: []float64{0, 1, 5, 20, 100, 500, 2000, 10000},
		},
		[]string{"queue"},
	)

	// FSM / restart metrics
	FSMState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabricsub_fsm_state",
			Help: "Current FSM state as an enumerated value (see subscriber.State)",
		},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_restarts_total",
			Help: "Total number of soft/hard restarts triggered",
		},
		[]string{"kind", "reason"},
	)

	EpmEofDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabricsub_epm_eof_duration_seconds",
			Help:    "Time from EPM_EOF broadcast to all-acked or timeout",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	EpmEofTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabricsub_epm_eof_timeouts_total",
			Help: "Total number of EPM EOF barriers that hit MAX_EPM_BUILD_TIME",
		},
	)

	// Queue stats gauges, mirrored from pkg/queuestats for scraping
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabricsub_queue_depth",
			Help: "Last sampled depth of a (proc,queue) pair",
		},
		[]string{"proc", "queue"},
	)

	QueueTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_queue_tx_total",
			Help: "Total number of messages pushed onto a (proc,queue) pair",
		},
		[]string{"proc", "queue"},
	)

	QueueRxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_queue_rx_total",
			Help: "Total number of messages received from a (proc,queue) pair",
		},
		[]string{"proc", "queue"},
	)

	// Watchdog metrics
	WatchdogChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricsub_watchdog_checks_total",
			Help: "Total number of liveness checks performed, by target and outcome",
		},
		[]string{"target", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SnapshotPhaseDuration,
		SnapshotPhaseFailures,
		SnapshotRowsWritten,
		DispatchMessagesTotal,
		DispatchBulksTotal,
		DispatchBroadcastTotal,
		DispatchDroppedTotal,
		EventsRoutedTotal,
		EventsDroppedTotal,
		BatchFlushDuration,
		BatchFlushSize,
		FSMState,
		RestartsTotal,
		EpmEofDuration,
		EpmEofTimeoutsTotal,
		QueueDepth,
		QueueTxTotal,
		QueueRxTotal,
		WatchdogChecksTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
