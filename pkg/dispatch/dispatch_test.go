package dispatch

import (
	"context"
	"testing"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/codec"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeWorkers() ActiveWorkerTable {
	return ActiveWorkerTable{
		types.RoleWorker: {
			{WorkerID: "w0", Role: types.RoleWorker, Queues: []string{"w0:0"}},
			{WorkerID: "w1", Role: types.RoleWorker, Queues: []string{"w1:0"}},
			{WorkerID: "w2", Role: types.RoleWorker, Queues: []string{"w2:0"}},
		},
	}
}

// TestHashPartitioningAndBulking covers S5: 25 identical-key messages land
// on one worker/queue as two bulks (20 + 5), with strictly increasing seq.
func TestHashPartitioningAndBulking(t *testing.T) {
	table := threeWorkers()
	memBus := bus.NewMemory()
	d := New(memBus, table, queuestats.NewTracker("subscriber-fab1"))

	key := types.PartitionKey{Vnid: 0xE00001, Addr: "aa:bb:cc:dd:ee:01"}
	target := table[types.RoleWorker][int(codec.Hash(key)%3)]

	var msgs []*types.Envelope
	for i := 0; i < 25; i++ {
		msgs = append(msgs, &types.Envelope{
			Fabric: "fab1", MsgType: types.MsgTypeWork, WorkType: types.WorkStdMo,
			Role: types.RoleWorker, Qnum: 0, Vnid: key.Vnid, Addr: key.Addr,
			Payload: i,
		})
	}

	d.Send(context.Background(), msgs, false)

	// only the target worker's queue should have anything
	for _, w := range table[types.RoleWorker] {
		n := len(memBus.Drain(w.Queues[0]))
		if w.WorkerID == target.WorkerID {
			assert.Equal(t, 2, n, "expected two outbound bulks on the target queue")
		} else {
			assert.Equal(t, 0, n)
		}
	}
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.Seq)
	}
}

// TestHashRoutingDeterministic covers invariant 2: identical table and
// message pick the same worker across runs.
func TestHashRoutingDeterministic(t *testing.T) {
	table := threeWorkers()
	env := &types.Envelope{Role: types.RoleWorker, Vnid: 7, Addr: "10.1.1.2"}

	d1 := New(bus.NewMemory(), table, nil)
	d2 := New(bus.NewMemory(), table, nil)

	w1, ok1 := d1.workerFor(env)
	w2, ok2 := d2.workerFor(env)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, w1.WorkerID, w2.WorkerID)
}

// TestSeqStrictlyIncreasing covers invariant 1 directly against the
// sequence values produced for one partition.
func TestSeqStrictlyIncreasing(t *testing.T) {
	table := ActiveWorkerTable{
		types.RoleWatcher: {{WorkerID: "watcher-0", Role: types.RoleWatcher, Queues: []string{"watcher-0:0"}}},
	}
	memBus := bus.NewMemory()
	d := New(memBus, table, nil)

	var msgs []*types.Envelope
	for i := 0; i < 5; i++ {
		msgs = append(msgs, &types.Envelope{Role: types.RoleWatcher, WorkType: types.WorkStdMo})
	}
	d.Send(context.Background(), msgs, false)

	var lastSeq uint64
	for _, m := range msgs {
		assert.Greater(t, m.Seq, lastSeq)
		lastSeq = m.Seq
	}
}

// TestSingleMessageSentPlain covers §4.2: a group of size 1 is a plain
// envelope, not a bulk.
func TestSingleMessageSentPlain(t *testing.T) {
	table := ActiveWorkerTable{
		types.RoleWatcher: {{WorkerID: "watcher-0", Role: types.RoleWatcher, Queues: []string{"watcher-0:0"}}},
	}
	memBus := bus.NewMemory()
	d := New(memBus, table, nil)

	d.Send(context.Background(), []*types.Envelope{{Role: types.RoleWatcher, WorkType: types.WorkWatchNode}}, false)

	raw := memBus.Drain("watcher-0:0")
	require.Len(t, raw, 1)
	decoded, err := codec.Decode(raw[0])
	require.NoError(t, err)
	assert.Equal(t, types.MsgTypeWork, decoded.MsgType)
}

// TestQnumClampedToLastQueue covers §4.2: an out-of-range qnum clamps.
func TestQnumClampedToLastQueue(t *testing.T) {
	table := ActiveWorkerTable{
		types.RoleWorker: {{WorkerID: "w0", Role: types.RoleWorker, Queues: []string{"w0:0", "w0:1"}}},
	}
	memBus := bus.NewMemory()
	d := New(memBus, table, nil)

	d.Send(context.Background(), []*types.Envelope{{Role: types.RoleWorker, Qnum: 9}}, false)

	assert.Empty(t, memBus.Drain("w0:0"))
	assert.Len(t, memBus.Drain("w0:1"), 1)
}

// TestBroadcastByRole covers §4.2: role "worker"/"watcher" map to their own
// topic; nil/empty role fans out to both, each with its own seq counter.
func TestBroadcastByRole(t *testing.T) {
	memBus := bus.NewMemory()
	d := New(memBus, ActiveWorkerTable{}, nil)
	ctx := context.Background()

	workerCh, cancelW, err := memBus.Subscribe(ctx, bus.TopicWorkerBroadcast)
	require.NoError(t, err)
	defer cancelW()
	watcherCh, cancelWa, err := memBus.Subscribe(ctx, bus.TopicWatcherBroadcast)
	require.NoError(t, err)
	defer cancelWa()

	d.Broadcast(ctx, []*types.Envelope{{WorkType: types.WorkWatchPause}})

	select {
	case <-workerCh:
	default:
		t.Fatal("expected worker broadcast")
	}
	select {
	case <-watcherCh:
	default:
		t.Fatal("expected watcher broadcast")
	}
}

// TestDropsWhenNoWorkersForRole covers the fail-soft path: a role with no
// registered workers is dropped, not panicked on.
func TestDropsWhenNoWorkersForRole(t *testing.T) {
	memBus := bus.NewMemory()
	d := New(memBus, ActiveWorkerTable{}, nil)
	assert.NotPanics(t, func() {
		d.Send(context.Background(), []*types.Envelope{{Role: types.RoleWorker}}, false)
	})
}
