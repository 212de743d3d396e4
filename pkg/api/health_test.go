package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/subscriber"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestHealthServer(t *testing.T) *HealthServer {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	session := controller.NewFakeSession(controller.Version{Major: 5})
	sub := controller.NewFakeSubscription()
	memBus := bus.NewMemory()
	table := dispatch.ActiveWorkerTable{
		types.RoleWorker: {{WorkerID: "worker-0", Role: types.RoleWorker, Queues: []string{"worker-0/q0"}}},
	}

	fsm := subscriber.New(subscriber.Config{Fabric: "fab1"}, session, sub, store, memBus, table)
	return NewHealthServer(fsm, fsm.Watchdog(), "test")
}

func TestLivenessAlwaysOK(t *testing.T) {
	hs := newTestHealthServer(t)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestProbeRegistersComponentsAndReadyReflectsThem(t *testing.T) {
	hs := newTestHealthServer(t)
	hs.probe(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
