package types

import "time"

// WorkType is the `work_type` discriminant carried by worker-bound envelopes.
type WorkType string

const (
	WorkStdMo        WorkType = "STD_MO"
	WorkRaw          WorkType = "RAW"
	WorkEpmIPEvent   WorkType = "EPM_IP_EVENT"
	WorkEpmMacEvent  WorkType = "EPM_MAC_EVENT"
	WorkEpmRsIPEvent WorkType = "EPM_RS_IP_EVENT"
	WorkFlushCache   WorkType = "FLUSH_CACHE"
	WorkWatchPause   WorkType = "FABRIC_WATCH_PAUSE"
	WorkWatchResume  WorkType = "FABRIC_WATCH_RESUME"
	WorkEpmEof       WorkType = "FABRIC_EPM_EOF"
	WorkSettings     WorkType = "SETTINGS_RELOAD"
	WorkDeleteEpt    WorkType = "DELETE_EPT"
	WorkWatchNode    WorkType = "WATCH_NODE"
)

// MsgType is the outermost envelope discriminant; BULK wraps a run of inner envelopes.
type MsgType string

const (
	MsgTypeWork MsgType = "WORK"
	MsgTypeBulk MsgType = "BULK"
)

// FlushKind names the entity kind a FLUSH_CACHE message invalidates worker-side.
type FlushKind string

const (
	FlushNode   FlushKind = "node"
	FlushVpc    FlushKind = "vpc"
	FlushPc     FlushKind = "pc"
	FlushTunnel FlushKind = "tunnel"
)

// Envelope is one unit of work addressed to a worker or watcher, or a
// broadcast payload. Bulk wrapping is modeled separately (BulkEnvelope)
// rather than as a recursive field, since a bulk's inner members are
// always plain envelopes (§3 Envelope / Bulk envelope).
type Envelope struct {
	Fabric   string
	MsgType  MsgType
	WorkType WorkType
	Role     WorkerRole // empty means "both roles" for broadcast sends
	Addr     string     // endpoint address; with Vnid, the partition key hashed to pick a worker
	Qnum     int
	Vnid     uint32
	Seq      uint64
	Payload  any
	Ts       time.Time
	Force    bool // set by REFRESH_EPT redelivery to bypass worker-side no-op dedupe
}

// BulkEnvelope carries a run of inner envelopes destined for the same
// (worker, qnum); its own Seq equals the last inner envelope's Seq (§4.2).
type BulkEnvelope struct {
	Fabric string
	Seq    uint64
	Msgs   []*Envelope
}

// PartitionKey is the pair a Dispatcher hashes to pick a worker (§4.1, §4.2).
type PartitionKey struct {
	Vnid uint32
	Addr string
}
