package queuestats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncrTxRx(t *testing.T) {
	tr := NewTracker("subscriber-fab1")
	tr.IncrTx("worker-1:0", 5)
	tr.IncrTx("worker-1:0", 3)
	tr.IncrRx("worker-1:0", 1)

	rows := tr.Snapshot()
	assert.Len(t, rows, 1)
	assert.Equal(t, uint64(8), rows[0].TotalTx)
	assert.Equal(t, uint64(1), rows[0].TotalRx)
}

func TestSampleDepthAccumulatesThenResets(t *testing.T) {
	tr := NewTracker("subscriber-fab1")
	tr.SampleDepth("watcher-broadcast", 10)
	tr.SampleDepth("watcher-broadcast", 20)

	rows := tr.Snapshot()
	assert.Equal(t, []int{10, 20}, rows[0].DepthSamples)

	tr.ResetDepthSamples()
	rows = tr.Snapshot()
	assert.Empty(t, rows[0].DepthSamples)
}
