// Package queuestats tracks per-(proc,queue) message traffic and depth
// samples. A single global mutex guards all counter reads and writes, since
// both the event-send path and the periodic sampling path touch it (§5).
package queuestats

import (
	"sync"

	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/types"
)

// Tracker accumulates QueueStats rows in memory; the stats ticker reads
// them via Snapshot and writes them to a Store on its own cadence.
type Tracker struct {
	mu   sync.Mutex
	rows map[key]*types.QueueStats
	proc string
}

type key struct {
	proc  string
	queue string
}

// NewTracker creates a Tracker for the given process identifier (the
// subscriber's own proc label, distinct from worker/watcher queue keys).
func NewTracker(proc string) *Tracker {
	return &Tracker{
		rows: make(map[key]*types.QueueStats),
		proc: proc,
	}
}

func (t *Tracker) row(queue string) *types.QueueStats {
	k := key{proc: t.proc, queue: queue}
	row, ok := t.rows[k]
	if !ok {
		row = &types.QueueStats{Proc: t.proc, Queue: queue}
		t.rows[k] = row
	}
	return row
}

// IncrTx increments the tx counter for a queue, called inline from the
// dispatcher at every successful push (original `increment_stats`).
func (t *Tracker) IncrTx(queue string, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.row(queue).TotalTx += n
	metrics.QueueTxTotal.WithLabelValues(t.proc, queue).Add(float64(n))
}

// IncrRx increments the rx counter for a queue, called inline from the
// event router for each slow-MO or EPM event it queues (original
// `increment_stats`).
func (t *Tracker) IncrRx(queue string, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.row(queue).TotalRx += n
	metrics.QueueRxTotal.WithLabelValues(t.proc, queue).Add(float64(n))
}

// SampleDepth appends a depth sample for a queue, called by the stats
// ticker at STATS_INTERVAL.
func (t *Tracker) SampleDepth(queue string, depth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.row(queue)
	row.DepthSamples = append(row.DepthSamples, depth)
	metrics.QueueDepth.WithLabelValues(t.proc, queue).Set(float64(depth))
}

// Snapshot returns a copy of all tracked rows, for bulk flush to the Store.
func (t *Tracker) Snapshot() []*types.QueueStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*types.QueueStats, 0, len(t.rows))
	for _, row := range t.rows {
		cp := *row
		cp.DepthSamples = append([]int(nil), row.DepthSamples...)
		out = append(out, &cp)
	}
	return out
}

// ResetDepthSamples clears accumulated depth samples after a flush, keeping
// tx/rx totals (which are cumulative for the subscriber's lifetime).
func (t *Tracker) ResetDepthSamples() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		row.DepthSamples = nil
	}
}
