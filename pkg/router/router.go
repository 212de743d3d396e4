// Package router classifies controller events into control MOs, slow MOs,
// and EPM MOs, applies the bootstrap drop policy, and queues slow/EPM
// events for the background batcher to drain (C6, §4.3).
package router

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/rs/zerolog"
)

// Class is the classification an incoming controller event falls into.
type Class string

const (
	ClassControl Class = "control"
	ClassSlowMo  Class = "slow_mo"
	ClassEpm     Class = "epm"
	ClassUnknown Class = "unknown"
)

// ControlClasses are dispatched to named handlers in-thread; they may
// trigger a soft or hard restart (§4.3 item 1).
var ControlClasses = []string{
	"fabricProtPol",
	"fabricAutoGEp",
	"fabricExplicitGEp",
	"fabricNode",
}

// SlowMoClasses is the fixed, dependency-ordered list of slow-changing MO
// kinds the snapshot builder also ingests in build_mo (§4.3 item 2, §4.4
// phase 1). The order matters for build_mo but not for steady-state
// routing; it's kept as one registry so both consult the same list.
var SlowMoClasses = []string{
	"fvCtx",          // VRF
	"fvBD",           // BD
	"fvSvcBD",        // service-BD
	"l3extOut",       // L3Out
	"fvAEPg",         // EPG
	"vzAny",          // EPG-like (vzAny contract group)
	"mgmtInB",        // EPG-like (in-band management)
	"mgmtOoB",        // EPG-like (out-of-band management)
	"vnsLIfCtx",      // service-graph
	"pcAggrIf",       // port-channel aggregate
	"pcRsMbrIfs",     // port-channel member link
	"tunnelIf",       // tunnel
}

// EpmClasses are parsed by the EPM event parser into fully-typed envelopes
// (§4.3 item 3).
var EpmClasses = []string{
	"epmRsMacEpToIpEpAtt",
	"epmIpEp",
	"epmMacEp",
}

func classify(class string) Class {
	for _, c := range ControlClasses {
		if c == class {
			return ClassControl
		}
	}
	for _, c := range SlowMoClasses {
		if c == class {
			return ClassSlowMo
		}
	}
	for _, c := range EpmClasses {
		if c == class {
			return ClassEpm
		}
	}
	return ClassUnknown
}

// Classify exposes the classification for callers outside this package
// (the snapshot builder's build_mo phase reuses SlowMoClasses directly,
// but tests and the FSM's control-channel glue classify ad hoc events).
func Classify(class string) Class { return classify(class) }

// State is the subset of FSM state the router's drop policy needs,
// provided as an interface so the router has no direct dependency on
// pkg/subscriber (§4.3 drop policy).
type State interface {
	Stopped() bool
	Initializing() bool
	EpmInitializing() bool
}

// ControlHandler processes one control-MO event in-thread.
type ControlHandler func(ctx context.Context, ev controller.ClassQueryResult)

// Router classifies events, dispatches control MOs in-thread, and queues
// slow-MO/EPM events for BackgroundBatcher to drain.
type Router struct {
	state  State
	stats  *queuestats.Tracker
	logger zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]ControlHandler

	mu         sync.Mutex
	stdMoQueue []*types.Envelope
	epmQueue   []*types.Envelope

	// VerifyTimestamp, when true, causes Route to re-check a parsed
	// event's controller-side modify timestamp is newer than the last
	// one seen for that dn before acting on it (original `parse_event`
	// `verify_ts`, folded in per SPEC_FULL.md). It is off by default, and
	// pkg/subscriber neither sets it nor passes a non-zero timestamp, so
	// its soft-restart dedupe compares wall-clock request times instead of
	// event timestamps.
	VerifyTimestamp bool

	tsMu   sync.Mutex
	lastTs map[string]float64
}

// New creates a Router driven by the given state provider.
func New(state State, stats *queuestats.Tracker) *Router {
	return &Router{
		state:    state,
		stats:    stats,
		logger:   log.WithComponent("router"),
		handlers: make(map[string]ControlHandler),
		lastTs:   make(map[string]float64),
	}
}

// RegisterControlHandler installs (or replaces) the in-thread handler for
// a control MO class.
func (r *Router) RegisterControlHandler(class string, h ControlHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers[class] = h
}

// VerifyAndAdvance checks a dn's event timestamp against the last one
// accepted for that dn, returning false (stale, drop) if ts is not newer.
// Only consulted when VerifyTimestamp is set.
func (r *Router) VerifyAndAdvance(dn string, ts float64) bool {
	r.tsMu.Lock()
	defer r.tsMu.Unlock()
	if prev, ok := r.lastTs[dn]; ok && ts <= prev {
		return false
	}
	r.lastTs[dn] = ts
	return true
}

// Route classifies and handles one controller event. ts is the event's
// controller-side modify timestamp (0 if unknown / not checked).
func (r *Router) Route(ctx context.Context, fabric string, ev controller.ClassQueryResult, ts float64) {
	class := classify(ev.Class)

	if r.state.Stopped() {
		metrics.EventsDroppedTotal.WithLabelValues(string(class), "stopped").Inc()
		return
	}

	switch class {
	case ClassControl:
		if r.VerifyTimestamp && ts != 0 && !r.VerifyAndAdvance(ev.Dn, ts) {
			metrics.EventsDroppedTotal.WithLabelValues(string(class), "stale_ts").Inc()
			return
		}
		r.routeControl(ctx, ev)
	case ClassSlowMo:
		if r.state.Initializing() {
			metrics.EventsDroppedTotal.WithLabelValues(string(class), "initializing").Inc()
			return
		}
		r.routeSlowMo(fabric, ev)
	case ClassEpm:
		if r.state.EpmInitializing() {
			metrics.EventsDroppedTotal.WithLabelValues(string(class), "epm_initializing").Inc()
			return
		}
		r.routeEpm(fabric, ev)
	default:
		r.logger.Debug().Str("class", ev.Class).Msg("router: unclassified event ignored")
	}
}

func (r *Router) routeControl(ctx context.Context, ev controller.ClassQueryResult) {
	r.handlersMu.RLock()
	h := r.handlers[ev.Class]
	r.handlersMu.RUnlock()
	metrics.EventsRoutedTotal.WithLabelValues(string(ClassControl)).Inc()
	if h == nil {
		r.logger.Warn().Str("class", ev.Class).Msg("router: no control handler registered")
		return
	}
	h(ctx, ev)
}

func (r *Router) routeSlowMo(fabric string, ev controller.ClassQueryResult) {
	env := &types.Envelope{
		Fabric:   fabric,
		MsgType:  types.MsgTypeWork,
		WorkType: types.WorkStdMo,
		Role:     types.RoleWatcher,
		Qnum:     0,
		Payload:  slowMoPayload{Dn: ev.Dn, Class: ev.Class, Attrs: ev.Attrs},
		Ts:       time.Now(),
	}
	r.mu.Lock()
	r.stdMoQueue = append(r.stdMoQueue, env)
	r.mu.Unlock()
	if r.stats != nil {
		r.stats.IncrRx("std_mo_event_queue", 1)
	}
	metrics.EventsRoutedTotal.WithLabelValues(string(ClassSlowMo)).Inc()
}

// slowMoPayload is the STD_MO envelope body: the originating dn, class,
// and raw attributes, mirroring the projection inputs build_mo consumes.
type slowMoPayload struct {
	Dn    string               `json:"dn"`
	Class string               `json:"class"`
	Attrs controller.MoAttrs   `json:"attrs"`
}

func (r *Router) routeEpm(fabric string, ev controller.ClassQueryResult) {
	envs := ParseEpmEvent(fabric, ev)
	if len(envs) == 0 {
		r.logger.Warn().Str("class", ev.Class).Str("dn", ev.Dn).Msg("router: epm event parse produced no envelopes")
		return
	}
	r.mu.Lock()
	r.epmQueue = append(r.epmQueue, envs...)
	r.mu.Unlock()
	if r.stats != nil {
		r.stats.IncrRx("epm_event_queue", uint64(len(envs)))
	}
	metrics.EventsRoutedTotal.WithLabelValues(string(ClassEpm)).Add(float64(len(envs)))
}

// DrainStdMo removes and returns all queued slow-MO envelopes, called by
// BackgroundBatcher each tick (§4.3).
func (r *Router) DrainStdMo() []*types.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stdMoQueue
	r.stdMoQueue = nil
	return out
}

// DrainEpm removes and returns all queued EPM envelopes.
func (r *Router) DrainEpm() []*types.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.epmQueue
	r.epmQueue = nil
	return out
}
