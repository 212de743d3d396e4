package subscriber

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/fabricevent"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FSM, *controller.FakeSession, *controller.FakeSubscription, storage.Store, *bus.Memory) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	session := controller.NewFakeSession(controller.Version{Major: 5, Minor: 2, Build: 1})
	sub := controller.NewFakeSubscription()
	memBus := bus.NewMemory()
	table := dispatch.ActiveWorkerTable{
		types.RoleWorker:  {{WorkerID: "worker-0", Role: types.RoleWorker, Queues: []string{"worker-0/q0"}}},
		types.RoleWatcher: {{WorkerID: "watcher-0", Role: types.RoleWatcher, Queues: []string{"watcher-0/q0"}}},
	}

	f := New(Config{Fabric: "fab1"}, session, sub, store, memBus, table)
	return f, session, sub, store, memBus
}

func TestBootstrapClearsInitFlagsAndOpensEpmEofBarrier(t *testing.T) {
	f, session, _, _, _ := newTestFSM(t)
	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-101", Class: "fabricNode",
		Attrs: controller.MoAttrs{"id": "101", "name": "leaf101", "role": "leaf"}})
	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-101/sys", Class: "topSystem",
		Attrs: controller.MoAttrs{"id": "101", "address": "10.0.0.1", "state": "active"}})

	settings := &types.Settings{Fabric: "fab1"}
	require.NoError(t, f.store.SaveSettings(settings))
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()

	require.NoError(t, f.bootstrap(context.Background()))
	require.False(t, f.Initializing())
	require.False(t, f.EpmInitializing())

	f.epmMu.Lock()
	defer f.epmMu.Unlock()
	require.NotNil(t, f.epmEofTracking)
	require.Len(t, f.epmEofTracking, 2)
}

func TestHandleFabricProtPolHardRestartsOnPairTChange(t *testing.T) {
	f, _, sub, _, memBus := newTestFSM(t)
	f.lastPairT = "pairTypeA"

	f.handleFabricProtPol(context.Background(), controller.ClassQueryResult{Class: "fabricProtPol", Attrs: controller.MoAttrs{"pairT": "pairTypeB"}})

	require.Equal(t, StateHardRestarting, f.State())
	require.True(t, f.Stopped())
	require.False(t, sub.Alive())
	n, err := memBus.QueueLen(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestHandleFabricProtPolNoRestartOnFirstSighting(t *testing.T) {
	f, _, _, _, _ := newTestFSM(t)
	f.handleFabricProtPol(context.Background(), controller.ClassQueryResult{Class: "fabricProtPol", Attrs: controller.MoAttrs{"pairT": "pairTypeA"}})
	require.NotEqual(t, StateHardRestarting, f.State())
}

func TestSoftRestartDedupesStaleTimestamp(t *testing.T) {
	f, _, _, _, _ := newTestFSM(t)
	f.lastSoftRestartTs = 100
	f.softRestart(context.Background(), "test", "stale request", 50)
	require.NotEqual(t, StateSoftRestarting, f.State())
	require.Equal(t, float64(100), f.lastSoftRestartTs)
}

func TestHandleFabricNodeKnownLeafInactiveEmitsWatchNode(t *testing.T) {
	f, _, _, store, memBus := newTestFSM(t)
	require.NoError(t, store.UpsertNode(&types.Node{Fabric: "fab1", NodeID: "101", Role: types.NodeRoleLeaf, State: types.NodeStateActive}))

	f.handleFabricNode(context.Background(), controller.ClassQueryResult{
		Class: "fabricNode", Dn: "topology/pod-1/node-101",
		Attrs: controller.MoAttrs{"id": "101", "state": "inactive", "name": "leaf101"},
	})

	n, err := memBus.QueueLen(context.Background(), "watcher-0/q0")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	updated, err := store.GetNode("fab1", "101")
	require.NoError(t, err)
	require.Equal(t, types.NodeStateInactive, updated.State)
}

func TestHandleFabricNodeKnownLeafActiveHardRestarts(t *testing.T) {
	f, _, _, store, _ := newTestFSM(t)
	require.NoError(t, store.UpsertNode(&types.Node{Fabric: "fab1", NodeID: "101", Role: types.NodeRoleLeaf, State: types.NodeStateInactive}))

	f.handleFabricNode(context.Background(), controller.ClassQueryResult{
		Class: "fabricNode", Dn: "topology/pod-1/node-101",
		Attrs: controller.MoAttrs{"id": "101", "state": "active", "name": "leaf101"},
	})

	require.Equal(t, StateHardRestarting, f.State())
}

func TestHandleFabricNodeNameOnlyChangeUpdatesInPlace(t *testing.T) {
	f, _, _, store, _ := newTestFSM(t)
	require.NoError(t, store.UpsertNode(&types.Node{Fabric: "fab1", NodeID: "101", Role: types.NodeRoleLeaf, State: types.NodeStateActive, Name: "old-name"}))

	f.handleFabricNode(context.Background(), controller.ClassQueryResult{
		Class: "fabricNode", Dn: "topology/pod-1/node-101",
		Attrs: controller.MoAttrs{"id": "101", "state": "active", "name": "new-name"},
	})

	require.NotEqual(t, StateHardRestarting, f.State())
	updated, err := store.GetNode("fab1", "101")
	require.NoError(t, err)
	require.Equal(t, "new-name", updated.Name)
}

func TestDeleteEndpointEnqueuesWorkItem(t *testing.T) {
	f, _, _, _, memBus := newTestFSM(t)
	f.deleteEndpoint(context.Background(), 1, "00:00:00:00:00:01", 0)
	n, err := memBus.QueueLen(context.Background(), "worker-0/q0")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSettingsReloadBroadcastsToBothRoles(t *testing.T) {
	f, _, _, store, memBus := newTestFSM(t)
	require.NoError(t, store.SaveSettings(&types.Settings{Fabric: "fab1", QueueInitEvents: true}))
	workerCh, cancelWorker, err := memBus.Subscribe(context.Background(), bus.TopicWorkerBroadcast)
	require.NoError(t, err)
	defer cancelWorker()
	watcherCh, cancelWatcher, err := memBus.Subscribe(context.Background(), bus.TopicWatcherBroadcast)
	require.NoError(t, err)
	defer cancelWatcher()

	f.reloadSettings(context.Background())

	workerN, err := memBus.QueueLen(context.Background(), bus.TopicWorkerBroadcast)
	require.NoError(t, err)
	require.Equal(t, 0, workerN) // broadcasts are topic publishes, not queue pushes
	for _, ch := range []<-chan []byte{workerCh, watcherCh} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("expected a SETTINGS_RELOAD publish on each role's broadcast topic")
		}
	}
	require.True(t, f.settings.QueueInitEvents)
}

func TestEpmEofAckClosesBarrierOnceAllWorkersAck(t *testing.T) {
	f, _, _, _, memBus := newTestFSM(t)
	topic := bus.TopicWatcherBroadcast
	ch, cancel, err := memBus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	defer cancel()

	f.epmMu.Lock()
	f.epmEofTracking = map[string]bool{"worker-0": true, "watcher-0": true}
	f.epmEofStart = time.Now()
	f.epmMu.Unlock()

	f.handleEpmEofAck(context.Background(), "worker-0")
	f.epmMu.Lock()
	require.NotNil(t, f.epmEofTracking)
	f.epmMu.Unlock()

	f.handleEpmEofAck(context.Background(), "watcher-0")
	f.epmMu.Lock()
	require.Nil(t, f.epmEofTracking)
	f.epmMu.Unlock()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a FABRIC_WATCH_RESUME publish on watcher broadcast topic")
	}
}

func TestCheckEpmEofTimeoutEmitsWarningNamingPendingWorkers(t *testing.T) {
	f, _, _, _, _ := newTestFSM(t)
	f.cfg.MaxEpmBuildTime = time.Millisecond

	f.events.Start()
	listener := f.events.Listen()
	defer f.events.Unlisten(listener)

	f.epmMu.Lock()
	f.epmEofTracking = map[string]bool{"worker-0": true, "watcher-0": false}
	f.epmEofStart = time.Now().Add(-time.Hour)
	f.epmMu.Unlock()

	f.checkEpmEofTimeout(context.Background())

	f.epmMu.Lock()
	require.Nil(t, f.epmEofTracking)
	f.epmMu.Unlock()

	var warning *fabricevent.Event
	for i := 0; i < 2; i++ {
		select {
		case ev := <-listener:
			if ev.Kind == fabricevent.KindWarning {
				warning = ev
			}
		case <-time.After(time.Second):
			t.Fatal("expected a warning fabric event before the running transition")
		}
	}
	require.NotNil(t, warning)
	require.Contains(t, warning.Message, "worker-0")
	require.NotContains(t, warning.Message, "watcher-0")
}
