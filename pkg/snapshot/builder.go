// Package snapshot implements the SnapshotBuilder (C5, §4.4): the
// multi-phase bootstrap pipeline that populates the per-fabric Store from
// controller class queries before the subscriber starts interpreting live
// events.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/fabricsub/pkg/codec"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/router"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/rs/zerolog"
)

// linkClasses are MO kinds this builder needs cached alongside the
// steady-state slow-MO set (router.SlowMoClasses) but that are never
// routed as live events themselves: vpc/pc member links, the L3Out→VRF
// link, the external-encap allocator, the three BD/EPG link kinds, and the
// two subnet-carrying kinds (§4.4 phases 2-6).
var linkClasses = []string{
	"vpcRsVpcConf",
	"l3extRsEctx",
	"l3extExtEncapAllocator",
	"fvRsBd",
	"mgmtRsMgmtBD",
	"vnsRsEPpInfoToBD",
	"fvSubnet",
	"fvIpAttr",
}

// BuildMoClasses is the declared dependency order build_mo walks: VRFs
// before L3Outs, BDs before EPGs, pc aggregates before pc-member links
// (§4.4 phase 1).
var BuildMoClasses = append(append([]string{}, router.SlowMoClasses...), linkClasses...)

// epmClasses is the order build_endpoint_db streams EPM classes in: the
// rs-link class first so its epmIpEp counterpart sees MAC rewrite info
// already processed downstream (original `epm_subscription_classes`).
var epmClasses = []string{"epmRsMacEpToIpEpAtt", "epmIpEp", "epmMacEp"}

// Builder drives the 7 bootstrap phases against one fabric.
type Builder struct {
	Fabric   string
	Session  controller.Session
	Sub      controller.Subscription
	Store    storage.Store
	Dispatch *dispatch.Dispatcher

	// QueueInitEpmEvents mirrors Settings.QueueInitEpmEvents: whether EPM
	// interests added mid-phase-7 are paused-and-buffered (true) or
	// dropped (false) until the phase finishes (§4.4 phase 7).
	QueueInitEpmEvents bool

	moClasses map[string]controller.MoClass
	logger    zerolog.Logger
}

// New creates a Builder with a default in-memory MoClass per entry in
// BuildMoClasses.
func New(fabric string, session controller.Session, sub controller.Subscription, store storage.Store, disp *dispatch.Dispatcher) *Builder {
	b := &Builder{
		Fabric:    fabric,
		Session:   session,
		Sub:       sub,
		Store:     store,
		Dispatch:  disp,
		moClasses: make(map[string]controller.MoClass, len(BuildMoClasses)),
		logger:    log.WithComponent("snapshot").With().Str("fabric", fabric).Logger(),
	}
	for _, class := range BuildMoClasses {
		b.moClasses[class] = controller.NewMemMoClass(class)
	}
	return b
}

// cache returns the rebuilt rows for a class, keyed by dn.
func (b *Builder) cache(class string) map[string]controller.ClassQueryResult {
	mc, ok := b.moClasses[class]
	if !ok {
		return nil
	}
	return mc.Cache()
}

// runPhase times and records one phase's outcome and aborts the chain on
// the first failure (§4.4: "each transactional in the sense that failure
// aborts the bootstrap").
func (b *Builder) runPhase(ctx context.Context, name string, fn func(context.Context) error, liveness func() error) error {
	timer := metrics.NewTimer()
	err := fn(ctx)
	timer.ObserveDurationVec(metrics.SnapshotPhaseDuration, name)
	if err != nil {
		metrics.SnapshotPhaseFailures.WithLabelValues(name).Inc()
		b.logger.Error().Err(err).Str("phase", name).Msg("snapshot: phase failed")
		return fmt.Errorf("snapshot: phase %s: %w", name, err)
	}
	b.logger.Debug().Str("phase", name).Msg("snapshot: phase complete")
	if liveness != nil {
		if err := liveness(); err != nil {
			return fmt.Errorf("snapshot: liveness check failed after phase %s: %w", name, err)
		}
	}
	return nil
}

// Phase names, exported so callers doing a partial rebuild (soft restart,
// §4.5) can name exactly which phases to re-run.
const (
	PhaseBuildMo      = "build_mo"
	PhaseNodeDB       = "build_node_db"
	PhaseVpcTunnelDB  = "build_vpc_tunnel_db"
	PhaseVnidDB       = "build_vnid_db"
	PhaseEpgDB        = "build_epg_db"
	PhaseSubnetDB     = "build_subnet_db"
	PhaseEndpointDB   = "build_endpoint_db"
)

func (b *Builder) allPhases() []struct {
	name string
	fn   func(context.Context) error
} {
	return []struct {
		name string
		fn   func(context.Context) error
	}{
		{PhaseBuildMo, b.buildMo},
		{PhaseNodeDB, b.buildNodeDB},
		{PhaseVpcTunnelDB, b.buildVpcTunnelDB},
		{PhaseVnidDB, b.buildVnidDB},
		{PhaseEpgDB, b.buildEpgDB},
		{PhaseSubnetDB, b.buildSubnetDB},
		{PhaseEndpointDB, b.buildEndpointDB},
	}
}

// Run drives all 7 phases in order, invoking liveness after each phase
// boundary (§4.5 "building" transition).
func (b *Builder) Run(ctx context.Context, liveness func() error) error {
	for _, p := range b.allPhases() {
		if err := b.runPhase(ctx, p.name, p.fn, liveness); err != nil {
			return err
		}
	}
	return nil
}

// RunPartial re-runs only the named phases, in their declared order,
// regardless of the order names are passed in. Used by soft restart to
// rebuild Node/Vpc/Pc/Tunnel without touching Vnid/Epg/Subnet/Endpoint
// (§4.5 running→soft-restarting).
func (b *Builder) RunPartial(ctx context.Context, names []string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	if want[PhaseVpcTunnelDB] {
		for _, class := range []string{"pcAggrIf", "pcRsMbrIfs", "vpcRsVpcConf", "tunnelIf"} {
			if err := b.moClasses[class].Rebuild(ctx, b.Session); err != nil {
				return fmt.Errorf("rebuild %s: %w", class, err)
			}
		}
	}
	for _, p := range b.allPhases() {
		if !want[p.name] {
			continue
		}
		if err := b.runPhase(ctx, p.name, p.fn, nil); err != nil {
			return err
		}
	}
	return nil
}

// buildMo repopulates every cached MO kind's local cache, in declared
// dependency order (§4.4 phase 1).
func (b *Builder) buildMo(ctx context.Context) error {
	for _, class := range BuildMoClasses {
		if err := b.moClasses[class].Rebuild(ctx, b.Session); err != nil {
			return fmt.Errorf("rebuild %s: %w", class, err)
		}
	}
	return nil
}

// nodeIDRegex extracts the numeric node id from a fabricNode/topSystem dn
// of the form "topology/pod-<p>/node-<n>".
var nodeIDRegex = regexp.MustCompile(`topology/pod-(?P<pod>[0-9]+)/node-(?P<node>[0-9]+)`)

// prefixLenSuffixRegex strips a trailing CIDR prefix length ("/24", "/32", ...)
// from a virtualIp attribute, matching the original's `re.sub("/[0-9]+$", "", ...)`.
var prefixLenSuffixRegex = regexp.MustCompile(`/[0-9]+$`)

func extractNamed(re *regexp.Regexp, s, name string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	for i, n := range re.SubexpNames() {
		if n == name {
			return m[i]
		}
	}
	return ""
}

// buildNodeDB queries fabricNode, overlays topSystem (active TEP/state)
// and firmwareRunning (version), then builds vpc pseudo-nodes from the
// explicit (or auto) GEp MOs (§4.4 phase 2).
func (b *Builder) buildNodeDB(ctx context.Context) error {
	nodes := make(map[string]*types.Node)

	err := b.Session.Query(ctx, "fabricNode", func(r controller.ClassQueryResult) error {
		podStr := extractNamed(nodeIDRegex, r.Dn, "pod")
		pod, _ := strconv.Atoi(podStr)
		n := &types.Node{
			Fabric: b.Fabric,
			NodeID: r.Attrs["id"],
			Pod:    pod,
			Name:   r.Attrs["name"],
			Role:   types.NodeRole(r.Attrs["role"]),
			State:  types.NodeStateUnknown,
		}
		nodes[n.NodeID] = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("query fabricNode: %w", err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no fabricNode objects discovered")
	}

	if err := b.Session.Query(ctx, "topSystem", func(r controller.ClassQueryResult) error {
		id := r.Attrs["id"]
		if n, ok := nodes[id]; ok {
			n.Addr = r.Attrs["address"]
			n.State = types.NodeState(r.Attrs["state"])
		}
		return nil
	}); err != nil {
		return fmt.Errorf("query topSystem: %w", err)
	}

	if err := b.Session.Query(ctx, "firmwareRunning", func(r controller.ClassQueryResult) error {
		id := extractNamed(nodeIDRegex, r.Dn, "node")
		if n, ok := nodes[id]; ok {
			n.Version = r.Attrs["peVer"]
		}
		return nil
	}); err != nil {
		return fmt.Errorf("query firmwareRunning: %w", err)
	}

	vpcType := "fabricExplicitGEp"
	var vpcGroups []controller.ClassQueryResult
	found := false
	_ = b.Session.Query(ctx, vpcType, func(r controller.ClassQueryResult) error {
		vpcGroups = append(vpcGroups, r)
		found = true
		return nil
	})
	if !found {
		vpcType = "fabricAutoGEp"
		vpcGroups = nil
		_ = b.Session.Query(ctx, vpcType, func(r controller.ClassQueryResult) error {
			vpcGroups = append(vpcGroups, r)
			return nil
		})
	}
	for _, grp := range vpcGroups {
		members := strings.Split(grp.Attrs["members"], ",")
		if len(members) != 2 {
			b.logger.Warn().Str("dn", grp.Dn).Msg("snapshot: expected exactly 2 vpc member nodes")
			continue
		}
		a, b1 := nodes[members[0]], nodes[members[1]]
		if a == nil || b1 == nil {
			b.logger.Warn().Str("dn", grp.Dn).Msg("snapshot: unknown node id in vpc group")
			continue
		}
		a.Peer, b1.Peer = b1.NodeID, a.NodeID
		vpcID := pairNodeID(a.NodeID, b1.NodeID)
		nodes[vpcID] = &types.Node{
			Fabric:  b.Fabric,
			NodeID:  vpcID,
			Pod:     a.Pod,
			Addr:    prefixLenSuffixRegex.ReplaceAllString(grp.Attrs["virtualIp"], ""),
			Name:    grp.Attrs["name"],
			Role:    types.NodeRoleVpc,
			State:   types.NodeStateActive,
			Members: []string{a.NodeID, b1.NodeID},
		}
	}

	for _, n := range nodes {
		if err := b.Store.UpsertNode(n); err != nil {
			return fmt.Errorf("upsert node %s: %w", n.NodeID, err)
		}
	}
	metrics.SnapshotRowsWritten.WithLabelValues("node").Add(float64(len(nodes)))
	return nil
}

// buildVpcTunnelDB populates Pc (with members resolved from pcRsMbrIfs),
// Vpc, and Tunnel, resolving each tunnel's remote node by addr (§4.4
// phase 3).
func (b *Builder) buildVpcTunnelDB(ctx context.Context) error {
	members := make(map[string][]string) // pc name -> member interfaces
	for _, r := range b.cache("pcRsMbrIfs") {
		parent := parentDn(r.Dn)
		members[parent] = append(members[parent], r.Attrs["tSKey"])
	}

	var pcs []*types.Pc
	for _, r := range b.cache("pcAggrIf") {
		node := extractNamed(nodeIDRegex, r.Dn, "node")
		pc := &types.Pc{Fabric: b.Fabric, Node: node, Name: r.Attrs["name"]}
		pc.Members = members[r.Dn]
		pcs = append(pcs, pc)
	}
	if err := b.Store.BulkInsertPcs(b.Fabric, pcs); err != nil {
		return fmt.Errorf("bulk insert pcs: %w", err)
	}

	var vpcs []*types.Vpc
	for _, r := range b.cache("vpcRsVpcConf") {
		node := extractNamed(nodeIDRegex, r.Dn, "node")
		vpcs = append(vpcs, &types.Vpc{
			Fabric:  b.Fabric,
			Node:    node,
			PcName:  r.Attrs["tSKey"],
			VpcIntf: r.Attrs["vpc"],
		})
	}
	if err := b.Store.BulkInsertVpcs(b.Fabric, vpcs); err != nil {
		return fmt.Errorf("bulk insert vpcs: %w", err)
	}

	nodesByAddr := make(map[string]*types.Node)
	nodeList, err := b.Store.ListNodes(b.Fabric)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	for _, n := range nodeList {
		if n.Addr != "" {
			nodesByAddr[n.Addr] = n
		}
	}

	var tunnels []*types.Tunnel
	for _, r := range b.cache("tunnelIf") {
		node := extractNamed(nodeIDRegex, r.Dn, "node")
		t := &types.Tunnel{
			Fabric: b.Fabric,
			Node:   node,
			Intf:   r.Attrs["id"],
			Src:    r.Attrs["src"],
			Dst:    r.Attrs["dest"],
			Status: types.TunnelStatus(r.Attrs["operSt"]),
			Encap:  types.TunnelEncap(r.Attrs["tType"]),
			Flags:  strings.Split(r.Attrs["type"], ","),
		}
		if rn, ok := nodesByAddr[t.Dst]; ok {
			t.RemoteNode = rn.NodeID
		} else if !hasAnyFlag(t, "proxy", "dci", "golf", "fabric-ext", "underlay-mcast") && t.Encap != types.EncapVxlan {
			if src, ok := nodesByAddr[t.Src]; ok && src.Role == types.NodeRoleLeaf {
				b.logger.Warn().Str("node", t.Node).Str("intf", t.Intf).Msg("snapshot: failed to map tunnel for leaf to remote node")
			}
		}
		tunnels = append(tunnels, t)
	}
	if err := b.Store.BulkInsertTunnels(b.Fabric, tunnels); err != nil {
		return fmt.Errorf("bulk insert tunnels: %w", err)
	}
	metrics.SnapshotRowsWritten.WithLabelValues("tunnel").Add(float64(len(tunnels)))
	return nil
}

func hasAnyFlag(t *types.Tunnel, flags ...string) bool {
	for _, f := range flags {
		if t.HasFlag(f) {
			return true
		}
	}
	return false
}

// parentDn strips the last "/"-delimited segment off a dn to get its
// parent's dn, the usual way a link MO's owning object is addressed.
func parentDn(dn string) string {
	if i := strings.LastIndex(dn, "/"); i >= 0 {
		return dn[:i]
	}
	return dn
}

var vxlanRegex = regexp.MustCompile(`vxlan-(?P<n>[0-9]+)`)

// buildVnidDB ingests VRF/BD/service-BD MOs, then external-encap MOs
// resolved to their L3Out's VRF vnid via the l3extRsEctx link (§4.4
// phase 4).
func (b *Builder) buildVnidDB(ctx context.Context) error {
	var vnids []*types.Vnid
	byName := make(map[string]uint32)

	ingest := func(class string, external bool) {
		for _, r := range b.cache(class) {
			v, _ := strconv.ParseUint(r.Attrs["scope"], 10, 32)
			if v == 0 {
				v, _ = strconv.ParseUint(extractNamed(vxlanRegex, r.Attrs["encap"], "n"), 10, 32)
			}
			vnid := &types.Vnid{Fabric: b.Fabric, Vnid: uint32(v), Name: r.Dn, External: external}
			vnids = append(vnids, vnid)
			byName[r.Dn] = vnid.Vnid
		}
	}
	ingest("fvCtx", false)
	ingest("fvBD", false)
	ingest("fvSvcBD", false)

	l3ctx := make(map[string]uint32) // l3out dn -> vrf vnid
	for _, r := range b.cache("l3extRsEctx") {
		if vrfVnid, ok := byName[r.Attrs["tDn"]]; ok {
			l3ctx[parentDn(r.Dn)] = vrfVnid
		} else {
			b.logger.Warn().Str("tDn", r.Attrs["tDn"]).Msg("snapshot: failed to map l3extRsEctx to vrf vnid")
		}
	}
	for _, r := range b.cache("l3extExtEncapAllocator") {
		n, err := strconv.ParseUint(extractNamed(vxlanRegex, r.Attrs["extEncap"], "n"), 10, 32)
		if err != nil {
			b.logger.Warn().Str("dn", r.Dn).Msg("snapshot: failed to parse external encap vnid")
			continue
		}
		ext := &types.Vnid{Fabric: b.Fabric, Vnid: uint32(n), Name: r.Dn, External: true, Encap: r.Attrs["extEncap"]}
		if vrf, ok := l3ctx[parentDn(r.Dn)]; ok {
			ext.Vrf = vrf
		} else {
			b.logger.Warn().Str("dn", r.Dn).Msg("snapshot: failed to map l3extOut to vrf vnid")
		}
		vnids = append(vnids, ext)
	}

	if err := b.Store.BulkInsertVnids(b.Fabric, vnids); err != nil {
		return fmt.Errorf("bulk insert vnids: %w", err)
	}
	metrics.SnapshotRowsWritten.WithLabelValues("vnid").Add(float64(len(vnids)))
	return nil
}

// buildEpgDB ingests the four EPG-like MO kinds, then resolves each EPG's
// bd via one of three BD-link MO kinds, deduping repeat dn arrivals
// (§4.4 phase 5).
func (b *Builder) buildEpgDB(ctx context.Context) error {
	epgs := make(map[string]*types.Epg)
	epgLikeClasses := []string{"fvAEPg", "mgmtInB", "vzAny", "mgmtOoB"}
	for _, class := range epgLikeClasses {
		if err := b.Session.Query(ctx, class, func(r controller.ClassQueryResult) error {
			if _, dup := epgs[r.Dn]; !dup {
				epgs[r.Dn] = &types.Epg{Fabric: b.Fabric, Name: r.Dn}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("query %s: %w", class, err)
		}
	}

	vnidsByDn, err := b.vnidIndex()
	if err != nil {
		return err
	}

	linkClasses := []string{"fvRsBd", "mgmtRsMgmtBD", "vnsRsEPpInfoToBD"}
	for _, class := range linkClasses {
		for _, r := range b.cache(class) {
			epgName := parentDn(r.Dn)
			epg, ok := epgs[epgName]
			if !ok {
				continue
			}
			if bdVnid, ok := vnidsByDn[r.Attrs["tDn"]]; ok {
				epg.Bd = bdVnid
			}
		}
	}

	out := make([]*types.Epg, 0, len(epgs))
	for _, e := range epgs {
		out = append(out, e)
	}
	if err := b.Store.BulkInsertEpgs(b.Fabric, out); err != nil {
		return fmt.Errorf("bulk insert epgs: %w", err)
	}
	metrics.SnapshotRowsWritten.WithLabelValues("epg").Add(float64(len(out)))
	return nil
}

func (b *Builder) vnidIndex() (map[string]uint32, error) {
	vnids, err := b.Store.ListVnids(b.Fabric)
	if err != nil {
		return nil, fmt.Errorf("list vnids: %w", err)
	}
	idx := make(map[string]uint32, len(vnids))
	for _, v := range vnids {
		idx[v.Name] = v.Vnid
	}
	return idx, nil
}

// buildSubnetDB resolves each subnet-carrying MO's parent to a BD either
// directly or via EPG→BD, flushing the existing table per-fabric
// immediately before the bulk insert (§4.4 phase 6).
func (b *Builder) buildSubnetDB(ctx context.Context) error {
	vnidsByDn, err := b.vnidIndex()
	if err != nil {
		return err
	}
	epgs, err := b.Store.ListEpgs(b.Fabric)
	if err != nil {
		return fmt.Errorf("list epgs: %w", err)
	}
	epgBd := make(map[string]uint32, len(epgs))
	for _, e := range epgs {
		epgBd[e.Name] = e.Bd
	}

	var subnets []*types.Subnet
	for _, class := range []string{"fvSubnet", "fvIpAttr"} {
		for _, r := range b.cache(class) {
			parent := parentDn(r.Dn)
			var bd uint32
			if v, ok := vnidsByDn[parent]; ok {
				bd = v
			} else if v, ok := epgBd[parent]; ok {
				bd = v
			} else {
				b.logger.Warn().Str("dn", r.Dn).Msg("snapshot: subnet parent not in vnids or epgs")
				continue
			}
			subnets = append(subnets, &types.Subnet{
				Fabric: b.Fabric,
				Bd:     bd,
				IP:     r.Attrs["ip"],
				Name:   r.Dn,
			})
		}
	}
	if err := b.Store.BulkInsertSubnets(b.Fabric, subnets); err != nil {
		return fmt.Errorf("bulk insert subnets: %w", err)
	}
	metrics.SnapshotRowsWritten.WithLabelValues("subnet").Add(float64(len(subnets)))
	return nil
}

// buildEndpointDB streams each EPM class, synthesizing and dispatching
// CREATE envelopes in MAX_SEND_MSG_LENGTH batches while maintaining a
// 3-level present-set, adds live EPM interests mid-phase so events during
// the (potentially long) query are captured, then diffs endpoint history
// against the present-set to synthesize DELETE envelopes (§4.4 phase 7).
func (b *Builder) buildEndpointDB(ctx context.Context) error {
	present := make(map[string]map[uint32]map[string]bool)
	mark := func(node string, vnid uint32, addr string) {
		if present[node] == nil {
			present[node] = make(map[uint32]map[string]bool)
		}
		if present[node][vnid] == nil {
			present[node][vnid] = make(map[string]bool)
		}
		present[node][vnid][addr] = true
	}

	var createTotal, deleteTotal int
	for _, class := range epmClasses {
		if b.Sub != nil {
			if err := b.Sub.AddInterest(ctx, class, func(ctx context.Context, ev controller.ClassQueryResult) {
				// Live events during bootstrap are routed normally once
				// EventRouter takes over; this handler only exists so the
				// subscription layer starts buffering/dropping immediately.
			}, b.QueueInitEpmEvents); err != nil {
				return fmt.Errorf("add epm interest %s: %w", class, err)
			}
		}

		var batch []*types.Envelope
		err := b.Session.Query(ctx, class, func(r controller.ClassQueryResult) error {
			envs := router.ParseEpmEvent(b.Fabric, r)
			for _, env := range envs {
				payload := env.Payload.(router.EpmPayload)
				mark(payload.Node, payload.Vnid, payload.Addr)
				batch = append(batch, env)
				createTotal++
				if len(batch) >= codec.MaxSendMsgLength {
					b.Dispatch.Send(ctx, batch, false)
					batch = nil
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("query %s: %w", class, err)
		}
		if len(batch) > 0 {
			b.Dispatch.Send(ctx, batch, false)
		}
	}

	history, err := b.Store.ListEndpointHistory(b.Fabric)
	if err != nil {
		return fmt.Errorf("list endpoint history: %w", err)
	}
	var deletes []*types.Envelope
	for _, h := range history {
		if h.LatestStatus() == types.EndpointStatusDeleted {
			continue
		}
		if present[h.Node] != nil && present[h.Node][h.Vnid] != nil && present[h.Node][h.Vnid][h.Addr] {
			continue
		}
		if h.Type == types.EndpointTypeMac {
			if env := router.SyntheticEpmDelete(b.Fabric, "epmMacEp", h.Node, h.Vnid, h.Addr); env != nil {
				deletes = append(deletes, env)
				deleteTotal++
			}
		} else {
			if env := router.SyntheticEpmDelete(b.Fabric, "epmRsMacEpToIpEpAtt", h.Node, h.Vnid, h.Addr); env != nil {
				deletes = append(deletes, env)
				deleteTotal++
			}
			if env := router.SyntheticEpmDelete(b.Fabric, "epmIpEp", h.Node, h.Vnid, h.Addr); env != nil {
				deletes = append(deletes, env)
				deleteTotal++
			}
		}
		if len(deletes) >= codec.MaxSendMsgLength {
			b.Dispatch.Send(ctx, deletes, false)
			deletes = nil
		}
	}
	if len(deletes) > 0 {
		b.Dispatch.Send(ctx, deletes, false)
	}

	metrics.SnapshotRowsWritten.WithLabelValues("endpoint_create").Add(float64(createTotal))
	metrics.SnapshotRowsWritten.WithLabelValues("endpoint_delete").Add(float64(deleteTotal))
	b.logger.Info().Int("create", createTotal).Int("delete", deleteTotal).Msg("snapshot: endpoint db built")
	return nil
}
