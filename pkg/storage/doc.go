/*
Package storage provides the document snapshot store the fabric
subscriber is the sole writer of during bootstrap and restart.

The storage package implements the Store interface using BoltDB as the
underlying database, holding the derived tables a SnapshotBuilder run
populates: nodes, tunnels, port-channels, vpc bindings, vnids, epgs,
subnets, per-fabric settings, and queue stats. All rows are serialized as
JSON and stored in separate buckets, keyed "<fabric>/<id>" so a fabric's
rows can be listed or flushed by range without a secondary index.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/fabricsub.db             │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ nodes          (fabric/nodeId)│          │          │
	│  │  │ tunnels        (fabric/node/intf/dst)│   │          │
	│  │  │ pcs            (fabric/node/name)│       │          │
	│  │  │ vpcs           (fabric/node/pcName)│     │          │
	│  │  │ vnids          (fabric/vnid)│             │          │
	│  │  │ epgs           (fabric/dn)  │             │          │
	│  │  │ subnets        (fabric/bd/ip/#)│          │          │
	│  │  │ settings       (fabric)     │             │          │
	│  │  │ queue_stats    (proc/queue) │             │          │
	│  │  │ endpoint_history (fabric/node/vnid/addr, worker-owned)│
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Flush-before-bulk-insert per fabric       │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	└────────────────────────────────────────────────────────┘

# Bulk vs. incremental

Node rows are updated incrementally (UpsertNode), since control-MO
handling in pkg/subscriber updates individual nodes in place (§4.5, open
question (ii): a vpc member's name-only change touches only that member,
never its peer). Every other table is rebuilt wholesale per phase:
Bulk*(fabric, rows) deletes the fabric's existing rows under that bucket
before writing the new set, matching the snapshot builder's
flush-then-insert discipline (spec.md §4.4).

# Security

  - Database file not encrypted by default; rely on disk-level encryption.
  - File permissions: 0600 (owner read/write only).
  - No authentication within the database; the subscriber process is the
    only writer per fabric, enforced by the caller (spec.md §3 invariant 5).

# See Also

  - pkg/types for all entity definitions
  - pkg/snapshot for the builder phases that populate this store
  - pkg/subscriber for the FSM that drives bootstrap and restart
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
