package batch

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/router"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct{}

func (fakeState) Stopped() bool         { return false }
func (fakeState) Initializing() bool    { return false }
func (fakeState) EpmInitializing() bool { return false }

func TestBatcherDrainsAndDispatchesOnTick(t *testing.T) {
	memBus := bus.NewMemory()
	table := dispatch.ActiveWorkerTable{
		types.RoleWatcher: {{WorkerID: "watcher-0", Role: types.RoleWatcher, Queues: []string{"watcher-0/q0"}}},
	}
	disp := dispatch.New(memBus, table, queuestats.NewTracker("subscriber"))
	r := router.New(fakeState{}, queuestats.NewTracker("subscriber"))

	b := New(Config{Interval: 20 * time.Millisecond}, r, disp)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	r.Route(context.Background(), "fab1", controller.ClassQueryResult{Class: "fvBD", Dn: "uni/tn-x/bd-y"}, 0)

	require.Eventually(t, func() bool {
		n, err := memBus.QueueLen(context.Background(), "watcher-0/q0")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFlushIsNoOpWhenQueuesEmpty(t *testing.T) {
	memBus := bus.NewMemory()
	disp := dispatch.New(memBus, dispatch.ActiveWorkerTable{}, nil)
	r := router.New(fakeState{}, nil)
	b := New(Config{}, r, disp)

	b.flush(context.Background())

	assert.Empty(t, r.DrainStdMo())
}
