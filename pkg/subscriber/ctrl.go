package subscriber

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/codec"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/fabricevent"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/router"
	"github.com/cuemby/fabricsub/pkg/snapshot"
	"github.com/cuemby/fabricsub/pkg/types"
)

// ctrlCommand is the wire shape of a SUBSCRIBER_CTRL_CHANNEL message — a
// distinct, smaller schema from the worker-bound Envelope (§6, §4.5
// "Control-channel handler").
type ctrlCommand struct {
	Fabric   string `json:"fabric"`
	MsgType  string `json:"msg_type"`
	Vnid     uint32 `json:"vnid"`
	Addr     string `json:"addr"`
	Type     string `json:"type"`
	Qnum     int    `json:"qnum"`
	WorkerID string `json:"worker_id"`
}

const (
	ctrlRefreshEpt   = "REFRESH_EPT"
	ctrlDeleteEpt    = "DELETE_EPT"
	ctrlSettings     = "SETTINGS_RELOAD"
	ctrlEpmEofAck    = "FABRIC_EPM_EOF_ACK"
)

// handleSubscriberCtrl decodes and dispatches one SUBSCRIBER_CTRL_CHANNEL
// message (§4.5). A malformed payload is logged and skipped, matching §7's
// "schema violation in event" taxonomy entry.
func (f *FSM) handleSubscriberCtrl(ctx context.Context, payload []byte) {
	var cmd ctrlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: malformed control message, skipping")
		return
	}
	if cmd.Fabric != "" && cmd.Fabric != f.fabric {
		return
	}

	switch cmd.MsgType {
	case ctrlRefreshEpt:
		f.refreshEndpoint(ctx, cmd.Vnid, cmd.Addr, cmd.Type)
	case ctrlDeleteEpt:
		f.deleteEndpoint(ctx, cmd.Vnid, cmd.Addr, cmd.Qnum)
	case ctrlSettings:
		f.reloadSettings(ctx)
	case ctrlEpmEofAck:
		f.handleEpmEofAck(ctx, cmd.WorkerID)
	default:
		f.logger.Debug().Str("msg_type", cmd.MsgType).Msg("subscriber: ignoring unexpected control message type")
	}
}

// refreshEndpoint re-queries the controller for one endpoint and redelivers
// it to the front of the worker's queue with Force set, so the worker
// re-analyzes even if nothing changed (§4.5 REFRESH_EPT).
func (f *FSM) refreshEndpoint(ctx context.Context, vnid uint32, addr string, epType string) {
	class := "epmMacEp"
	if epType == "ip" {
		class = "epmIpEp"
	}

	var envs []*types.Envelope
	err := f.session.Query(ctx, class, func(r controller.ClassQueryResult) error {
		if r.Attrs["addr"] != addr {
			return nil
		}
		for _, env := range router.ParseEpmEvent(f.fabric, r) {
			if env.Vnid != 0 && env.Vnid != vnid {
				continue
			}
			env.Force = true
			envs = append(envs, env)
		}
		return nil
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("addr", addr).Msg("subscriber: refresh_ept query failed")
		return
	}
	if len(envs) == 0 {
		f.logger.Debug().Str("addr", addr).Uint32("vnid", vnid).Msg("subscriber: refresh_ept found no matching endpoint")
		return
	}
	f.disp.Send(ctx, envs, true)
}

// deleteEndpoint enqueues a targeted delete work item, hash-routed to the
// worker partition responsible for (vnid, addr) (§4.5 DELETE_EPT).
func (f *FSM) deleteEndpoint(ctx context.Context, vnid uint32, addr string, qnum int) {
	env := &types.Envelope{
		Fabric:   f.fabric,
		MsgType:  types.MsgTypeWork,
		WorkType: types.WorkDeleteEpt,
		Role:     types.RoleWorker,
		Vnid:     vnid,
		Addr:     addr,
		Qnum:     qnum,
		Ts:       time.Now(),
	}
	f.disp.Send(ctx, []*types.Envelope{env}, false)
}

// reloadSettings reloads per-fabric settings from the store and broadcasts
// a fire-and-forget reload notice to every role (§4.5, Open Question iii:
// no ack expected).
func (f *FSM) reloadSettings(ctx context.Context) {
	settings, err := f.store.GetSettings(f.fabric)
	if err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: settings reload failed")
		return
	}
	if settings == nil {
		settings = &types.Settings{Fabric: f.fabric}
	}
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	f.disp.Broadcast(ctx, []*types.Envelope{{Fabric: f.fabric, MsgType: types.MsgTypeWork, WorkType: types.WorkSettings, Ts: time.Now()}})
}

// handleEpmEofAck marks one worker acked and, once every worker has acked,
// closes the EPM EOF barrier (§4.5 FABRIC_EPM_EOF_ACK, invariant 6).
func (f *FSM) handleEpmEofAck(ctx context.Context, workerID string) {
	f.epmMu.Lock()
	if f.epmEofTracking == nil {
		f.epmMu.Unlock()
		f.logger.Debug().Str("worker", workerID).Msg("subscriber: ignoring epm eof ack, tracking disabled")
		return
	}
	if _, known := f.epmEofTracking[workerID]; !known {
		f.logger.Warn().Str("worker", workerID).Msg("subscriber: epm eof ack from unknown worker")
		f.epmMu.Unlock()
		return
	}
	f.epmEofTracking[workerID] = false
	pending := 0
	for _, stillPending := range f.epmEofTracking {
		if stillPending {
			pending++
		}
	}
	if pending > 0 {
		f.epmMu.Unlock()
		return
	}
	start := f.epmEofStart
	f.epmEofTracking = nil
	f.epmMu.Unlock()

	metrics.EpmEofDuration.Observe(time.Since(start).Seconds())
	f.disp.Broadcast(ctx, []*types.Envelope{{Fabric: f.fabric, MsgType: types.MsgTypeWork, Role: types.RoleWatcher, WorkType: types.WorkWatchResume, Ts: time.Now()}})
	f.emit(fabricevent.KindRunning, "running")
}

// handleFabricProtPol handles a vpc-pair-type policy change: any change to
// pairT invalidates existing node pairing, so it forces a hard restart
// (§4.5 fabricProtPol).
func (f *FSM) handleFabricProtPol(ctx context.Context, ev controller.ClassQueryResult) {
	pairT := ev.Attrs["pairT"]
	f.mu.Lock()
	changed := f.lastPairT != "" && f.lastPairT != pairT
	f.lastPairT = pairT
	f.mu.Unlock()
	if changed {
		f.hardRestart(ctx, "fabric_prot_pol_changed", "fabricProtPol pairT changed")
	}
}

// handleVpcDomainChange handles fabricAutoGEp/fabricExplicitGEp: any
// change triggers a soft restart of the node/vpc/pc/tunnel tables (§4.5).
func (f *FSM) handleVpcDomainChange(ctx context.Context, ev controller.ClassQueryResult) {
	f.softRestart(ctx, "vpc_domain_change", "vpc domain change: "+ev.Class, nowSeconds())
}

// handleFabricNode implements the fabricNode control-MO rules (§4.5
// fabricNode): known-leaf-active transitions hard-restart (a missed events
// window may have left stale state); known-leaf-inactive transitions emit
// a WATCH_NODE message to the watcher role; a previously-unknown active
// leaf triggers a follow-up attribute query then hard-restarts; non-leaf
// role changes are ignored; name-only changes update the node in place
// (Open Question ii).
func (f *FSM) handleFabricNode(ctx context.Context, ev controller.ClassQueryResult) {
	nodeID := ev.Attrs["id"]
	state := types.NodeState(ev.Attrs["state"])
	name := ev.Attrs["name"]

	existing, err := f.store.GetNode(f.fabric, nodeID)
	if err != nil {
		// The store reports a node it has no row for as an error; such a
		// node is handled as previously unknown.
		f.logger.Debug().Err(err).Str("node", nodeID).Msg("subscriber: fabricNode not in store")
		existing = nil
	}

	if existing == nil {
		if state != types.NodeStateActive {
			return
		}
		full, err := f.session.QueryOne(ctx, ev.Dn)
		if err != nil {
			f.logger.Warn().Err(err).Str("node", nodeID).Msg("subscriber: fabricNode follow-up query failed")
			return
		}
		if types.NodeRole(full.Attrs["role"]) != types.NodeRoleLeaf {
			return
		}
		f.hardRestart(ctx, "unknown_leaf_active", "previously unknown leaf node active: "+nodeID)
		return
	}

	if existing.Role != types.NodeRoleLeaf {
		return
	}

	switch {
	case state == types.NodeStateActive && existing.State != types.NodeStateActive:
		f.hardRestart(ctx, "known_leaf_active", "known leaf active: "+nodeID)
	case state != types.NodeStateActive && existing.State == types.NodeStateActive:
		f.disp.Send(ctx, []*types.Envelope{{
			Fabric: f.fabric, MsgType: types.MsgTypeWork, WorkType: types.WorkWatchNode, Role: types.RoleWatcher,
			Payload: watchNodePayload{NodeID: nodeID, PreviousState: existing.State, State: state}, Ts: time.Now(),
		}}, false)
		existing.State = state
		_ = f.store.UpsertNode(existing)
	case name != "" && name != existing.Name:
		existing.Name = name
		_ = f.store.UpsertNode(existing)
	}
}

// watchNodePayload is the WATCH_NODE envelope body (original
// `handle_fabric_node`, folded in per SPEC_FULL.md supplemented feature 5).
type watchNodePayload struct {
	NodeID        string          `json:"node_id"`
	PreviousState types.NodeState `json:"previous_state"`
	State         types.NodeState `json:"state"`
}

// softRestart re-pauses slow interests, rebuilds only the Node/Vpc/Pc/
// Tunnel tables, flushes each of those four caches on the worker side, and
// resumes (§4.5 running→soft-restarting, invariant 5: exactly four flush
// broadcasts). A request older than the last accepted one is dropped, and
// any phase failure escalates to a hard restart.
func (f *FSM) softRestart(ctx context.Context, trigger, detail string, ts float64) {
	f.mu.Lock()
	if ts <= f.lastSoftRestartTs {
		f.mu.Unlock()
		f.logger.Debug().Str("detail", detail).Msg("subscriber: dropping stale soft-restart request")
		return
	}
	f.lastSoftRestartTs = ts
	f.mu.Unlock()

	f.logger.Info().Str("detail", detail).Msg("subscriber: soft restart")
	f.setState(StateSoftRestarting)
	metrics.RestartsTotal.WithLabelValues("soft", trigger).Inc()

	nodeClasses := []string{"fabricNode", "fabricExplicitGEp", "fabricAutoGEp", "topSystem", "firmwareRunning", "pcAggrIf", "pcRsMbrIfs", "tunnelIf"}
	if err := f.sub.Pause(ctx, nodeClasses...); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: failed to pause interests for soft restart")
	}

	err := f.builder.RunPartial(ctx, []string{snapshot.PhaseNodeDB, snapshot.PhaseVpcTunnelDB})
	if err != nil {
		f.logger.Error().Err(err).Msg("subscriber: soft restart phase failed, escalating to hard restart")
		f.hardRestart(ctx, "soft_restart_failed", "soft restart failed: "+err.Error())
		return
	}

	for _, kind := range []types.FlushKind{types.FlushNode, types.FlushVpc, types.FlushPc, types.FlushTunnel} {
		f.sendFlush(ctx, kind)
	}

	if err := f.sub.Resume(ctx, nodeClasses...); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: failed to resume interests after soft restart")
	}
	f.setState(StateRunning)
}

// hardRestart stops event processing, unsubscribes, and publishes
// FABRIC_RESTART for the external supervisor to respawn the process
// (§4.5 any→hard-restarting).
func (f *FSM) hardRestart(ctx context.Context, trigger, detail string) {
	f.logger.Warn().Str("detail", detail).Msg("subscriber: hard restart")
	f.setState(StateHardRestarting)
	metrics.RestartsTotal.WithLabelValues("hard", trigger).Inc()

	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()

	if err := f.sub.Close(); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: error closing subscription during hard restart")
	}

	payload, err := codec.Encode(&types.Envelope{Fabric: f.fabric, MsgType: "FABRIC_RESTART", Payload: map[string]string{"reason": detail}, Ts: time.Now()})
	if err == nil {
		_ = f.busConn.Publish(ctx, bus.TopicManagerCtrl, payload)
	}
	f.emit(fabricevent.KindRestart, detail)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
