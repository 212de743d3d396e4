// Package storage defines the document snapshot store the subscriber is
// the sole writer of during bootstrap/restart (spec.md §3), and ships a
// bbolt-backed reference implementation.
package storage

import (
	"github.com/cuemby/fabricsub/pkg/types"
)

// Store is the per-fabric snapshot store. Bulk* methods flush the
// existing rows for the fabric before inserting, matching the "flush
// immediately before bulk insert" discipline the snapshot builder phases
// require (spec.md §4.4); single-row methods support incremental updates
// from control-MO handling (§4.5).
type Store interface {
	// Nodes
	UpsertNode(node *types.Node) error
	GetNode(fabric, nodeID string) (*types.Node, error)
	ListNodes(fabric string) ([]*types.Node, error)
	DeleteNodesByFabric(fabric string) error

	// Tunnels
	BulkInsertTunnels(fabric string, tunnels []*types.Tunnel) error
	ListTunnels(fabric string) ([]*types.Tunnel, error)

	// Port-channels
	BulkInsertPcs(fabric string, pcs []*types.Pc) error
	ListPcs(fabric string) ([]*types.Pc, error)

	// Vpc bindings
	BulkInsertVpcs(fabric string, vpcs []*types.Vpc) error
	ListVpcs(fabric string) ([]*types.Vpc, error)

	// Vnids
	BulkInsertVnids(fabric string, vnids []*types.Vnid) error
	ListVnids(fabric string) ([]*types.Vnid, error)
	GetVnid(fabric string, vnid uint32) (*types.Vnid, error)

	// Epgs
	BulkInsertEpgs(fabric string, epgs []*types.Epg) error
	ListEpgs(fabric string) ([]*types.Epg, error)

	// Subnets
	BulkInsertSubnets(fabric string, subnets []*types.Subnet) error
	ListSubnets(fabric string) ([]*types.Subnet, error)

	// Settings
	GetSettings(fabric string) (*types.Settings, error)
	SaveSettings(settings *types.Settings) error

	// QueueStats
	UpsertQueueStats(rows []*types.QueueStats) error
	ListQueueStats(proc string) ([]*types.QueueStats, error)

	// EndpointHistory is owned and written by workers; the subscriber only
	// reads it, during delete-job synthesis in build_endpoint_db (§4.4
	// phase 7).
	ListEndpointHistory(fabric string) ([]*types.EndpointHistory, error)

	Close() error
}
