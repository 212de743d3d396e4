package snapshot

import (
	"context"
	"testing"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) (*Builder, *controller.FakeSession, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	session := controller.NewFakeSession(controller.Version{Major: 5, Minor: 2, Build: 3})
	memBus := bus.NewMemory()
	table := dispatch.ActiveWorkerTable{
		types.RoleWorker: {{WorkerID: "worker-0", Role: types.RoleWorker, Queues: []string{"worker-0/q0"}}},
	}
	disp := dispatch.New(memBus, table, queuestats.NewTracker("subscriber"))

	b := New("fab1", session, nil, store, disp)
	return b, session, store
}

func TestBuildNodeDBCreatesVpcPseudoNode(t *testing.T) {
	b, session, store := newTestBuilder(t)

	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-101", Class: "fabricNode",
		Attrs: controller.MoAttrs{"id": "101", "name": "leaf101", "role": "leaf"}})
	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-102", Class: "fabricNode",
		Attrs: controller.MoAttrs{"id": "102", "name": "leaf102", "role": "leaf"}})
	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-101/sys", Class: "topSystem",
		Attrs: controller.MoAttrs{"id": "101", "address": "10.0.0.1", "state": "in-service"}})
	session.Add(controller.ClassQueryResult{Dn: "topology/pod-1/node-102/sys", Class: "topSystem",
		Attrs: controller.MoAttrs{"id": "102", "address": "10.0.0.2", "state": "in-service"}})
	session.Add(controller.ClassQueryResult{Dn: "uni/fabric/vpc-dom", Class: "fabricExplicitGEp",
		Attrs: controller.MoAttrs{"name": "vpc1", "virtualIp": "10.0.0.99/32", "members": "101,102"}})

	require.NoError(t, b.buildNodeDB(context.Background()))

	nodes, err := store.ListNodes("fab1")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	var vpcNode *types.Node
	for _, n := range nodes {
		if n.Role == types.NodeRoleVpc {
			vpcNode = n
		}
	}
	require.NotNil(t, vpcNode)
	require.ElementsMatch(t, []string{"101", "102"}, vpcNode.Members)
	require.Equal(t, pairNodeID("101", "102"), pairNodeID("102", "101"))
	require.Equal(t, vpcNode.NodeID, pairNodeID("101", "102"))
}

func TestBuildVnidDBResolvesExternalEncapVrf(t *testing.T) {
	b, session, store := newTestBuilder(t)
	session.Add(controller.ClassQueryResult{Dn: "uni/tn-x/ctx-vrf1", Class: "fvCtx", Attrs: controller.MoAttrs{"scope": "2097153"}})
	session.Add(controller.ClassQueryResult{Dn: "uni/tn-x/out-l3out1/rsectx", Class: "l3extRsEctx", Attrs: controller.MoAttrs{"tDn": "uni/tn-x/ctx-vrf1"}})
	session.Add(controller.ClassQueryResult{Dn: "uni/tn-x/out-l3out1/encap", Class: "l3extExtEncapAllocator", Attrs: controller.MoAttrs{"extEncap": "vxlan-14680065"}})

	require.NoError(t, b.moClasses["fvCtx"].Rebuild(context.Background(), session))
	require.NoError(t, b.moClasses["l3extRsEctx"].Rebuild(context.Background(), session))
	require.NoError(t, b.moClasses["l3extExtEncapAllocator"].Rebuild(context.Background(), session))
	require.NoError(t, b.buildVnidDB(context.Background()))

	vnids, err := store.ListVnids("fab1")
	require.NoError(t, err)
	require.Len(t, vnids, 2)
	for _, v := range vnids {
		if v.External {
			require.Equal(t, uint32(14680065), v.Vnid)
			require.Equal(t, uint32(2097153), v.Vrf)
		}
	}
}

func TestBuildEndpointDBSendsCreateBatches(t *testing.T) {
	b, session, _ := newTestBuilder(t)
	for i := 0; i < 25; i++ {
		session.Add(controller.ClassQueryResult{
			Dn: "epm-mac", Class: "epmMacEp",
			Attrs: controller.MoAttrs{"addr": "aa:bb:cc:dd:ee:0" + string(rune('a'+i)), "node": "101", "encap": "vxlan-1"},
		})
	}
	require.NoError(t, b.buildEndpointDB(context.Background()))
	// 25 creates on the single worker go out as one bulk of 20 and one of 5.
	require.Equal(t, 2, b.Dispatch.QueueDepth("worker-0/q0"))
}
