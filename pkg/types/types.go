package types

import "time"

// NodeRole identifies the kind of fabric member a Node record describes.
type NodeRole string

const (
	NodeRoleLeaf       NodeRole = "leaf"
	NodeRoleSpine      NodeRole = "spine"
	NodeRoleController NodeRole = "controller"
	NodeRoleVpc        NodeRole = "vpc"
)

// NodeState mirrors the controller's notion of node reachability.
type NodeState string

const (
	NodeStateActive   NodeState = "active"
	NodeStateInactive NodeState = "inactive"
	NodeStateUnknown  NodeState = "unknown"
)

// Node is a fabric member: a physical leaf/spine/controller, or a
// synthetic vpc pseudo-node built by pairing two leaves.
type Node struct {
	Fabric  string
	NodeID  string
	Pod     int
	Addr    string
	Name    string
	Role    NodeRole
	State   NodeState
	Version string
	// Peer holds the other member's NodeID for a vpc-paired leaf; empty otherwise.
	Peer string
	// Members holds the two member NodeIDs for a vpc pseudo-node; empty otherwise.
	Members   []string
	UpdatedAt time.Time
}

// TunnelEncap is the overlay encapsulation carried by a Tunnel.
type TunnelEncap string

const (
	EncapVxlan  TunnelEncap = "vxlan"
	EncapIvxlan TunnelEncap = "ivxlan"
)

// TunnelStatus mirrors the controller's reported operational state.
type TunnelStatus string

const (
	TunnelStatusUp   TunnelStatus = "up"
	TunnelStatusDown TunnelStatus = "down"
)

// Tunnel flags that legitimately carry no resolvable remote node (§4.4 phase 3).
const (
	TunnelFlagProxy         = "proxy"
	TunnelFlagDci           = "dci"
	TunnelFlagGolf          = "golf"
	TunnelFlagFabricExt     = "fabric-ext"
	TunnelFlagUnderlayMcast = "underlay-mcast"
)

// Tunnel is a fabric overlay tunnel endpoint owned by a Node.
type Tunnel struct {
	Fabric     string
	Node       string // owning Node.NodeID
	Intf       string
	Src        string
	Dst        string
	RemoteNode string // resolved by matching Dst to some Node.Addr; empty if unresolved
	Status     TunnelStatus
	Encap      TunnelEncap
	Flags      []string
	UpdatedAt  time.Time
}

// HasFlag reports whether the tunnel carries the named flag.
func (t *Tunnel) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Pc is a local port-channel aggregate.
type Pc struct {
	Fabric  string
	Node    string
	Name    string
	Members []string // physical interface names
}

// Vpc binds a local Pc to a logical vpc interface exposed by the vpc pseudo-node.
type Vpc struct {
	Fabric  string
	Node    string // owning leaf NodeID
	PcName  string // local Pc.Name this vpc binds
	VpcIntf string // logical vpc interface name
}

// Vnid is a 24-bit overlay network identifier, modeled as a 32-bit integer.
type Vnid struct {
	Fabric   string
	Vnid     uint32
	Name     string // dn of the originating VRF/BD/service-BD/external-encap MO
	Encap    string // "vxlan-<n>" source string for external vnids, else empty
	Vrf      uint32 // resolved VRF vnid for external entries; 0 otherwise
	External bool
}

// Epg is an endpoint group, resolved to the bridge-domain vnid that carries it.
type Epg struct {
	Fabric string
	Name   string // dn
	Bd     uint32 // resolved bridge-domain Vnid.Vnid
}

// Subnet is an ip/mask configured on a bridge domain. The same ip may
// legitimately appear on multiple BDs (shared-services subnets); there is
// no uniqueness constraint.
type Subnet struct {
	Fabric string
	Bd     uint32
	IP     string
	Name   string // dn
	Ts     time.Time
}

// EndpointType distinguishes MAC and IP endpoint records.
type EndpointType string

const (
	EndpointTypeMac EndpointType = "mac"
	EndpointTypeIP  EndpointType = "ip"
)

// EndpointStatus is the lifecycle state of the most recent endpoint event.
type EndpointStatus string

const (
	EndpointStatusCreated EndpointStatus = "created"
	EndpointStatusDeleted EndpointStatus = "deleted"
)

// EndpointHistoryEvent is a single entry in an endpoint's event history.
type EndpointHistoryEvent struct {
	Status    EndpointStatus
	Timestamp time.Time
}

// EndpointHistory is the worker-owned projection the subscriber reads
// (never writes) during delete-job synthesis in build_endpoint_db.
type EndpointHistory struct {
	Node   string
	Vnid   uint32
	Addr   string
	Type   EndpointType
	Events []EndpointHistoryEvent // Events[0] is most recent
}

// LatestStatus returns the status of the most recent history event, or
// "" if the endpoint has no recorded events.
func (h *EndpointHistory) LatestStatus() EndpointStatus {
	if len(h.Events) == 0 {
		return ""
	}
	return h.Events[0].Status
}

// VpcPairType reflects fabricProtPol's configured vpc pairing method.
type VpcPairType string

const (
	VpcPairReciprocal VpcPairType = "reciprocal"
	VpcPairExplicit   VpcPairType = "explicit"
)

// Settings are the per-fabric tunables owned by the subscriber.
type Settings struct {
	Fabric             string
	OverlayVnid        uint32
	VpcPairType        VpcPairType
	Tz                 string
	QueueInitEvents    bool // queue (vs. drop) slow-MO events seen during bootstrap
	QueueInitEpmEvents bool // queue (vs. drop) EPM events seen during bootstrap
}

// QueueStats counts per-(proc,queue) message traffic, sampled by the stats ticker.
type QueueStats struct {
	Proc         string
	Queue        string
	TotalTx      uint64
	TotalRx      uint64
	DepthSamples []int
}

// WorkerRole distinguishes the two downstream consumer roles.
type WorkerRole string

const (
	RoleWorker  WorkerRole = "worker"
	RoleWatcher WorkerRole = "watcher"
)

// Worker is one downstream analyzer process/queue-set, as seen by the subscriber.
// Control state only; never persisted.
type Worker struct {
	WorkerID string
	Role     WorkerRole
	Queues   []string // queue keys, index == qnum
}
