// Package subscriber implements the SubscriberFSM (C8, §4.5): the state
// machine that orchestrates bootstrap, the EPM EOF barrier, soft/hard
// restart, and control-channel handling for one fabric. It also owns the
// hello/stats tickers (C9, §5).
package subscriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fabricsub/pkg/batch"
	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/fabricevent"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/router"
	"github.com/cuemby/fabricsub/pkg/snapshot"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/cuemby/fabricsub/pkg/watchdog"
	"github.com/rs/zerolog"
)

// State is one of the FSM's lifecycle states (§4.5).
type State int

const (
	StateBooting State = iota
	StateConnecting
	StateValidating
	StateBuilding
	StateRunning
	StateSoftRestarting
	StateHardRestarting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateConnecting:
		return "connecting"
	case StateValidating:
		return "validating"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateSoftRestarting:
		return "soft-restarting"
	case StateHardRestarting:
		return "hard-restarting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FSM orchestrates one fabric's subscriber lifecycle. Its collaborators
// (Session, Subscription, Store, Bus) are provided by the caller; FSM never
// constructs a controller transport itself (§1 out of scope).
type FSM struct {
	cfg     Config
	fabric  string
	session controller.Session
	sub     controller.Subscription
	store   storage.Store
	busConn bus.Bus
	disp    *dispatch.Dispatcher
	table   dispatch.ActiveWorkerTable
	router  *router.Router
	batcher *batch.Batcher
	builder *snapshot.Builder
	wd      *watchdog.Watchdog
	stats   *queuestats.Tracker
	events  *fabricevent.Broker
	logger  zerolog.Logger

	mu              sync.RWMutex
	state           State
	stopped         bool
	initializing    bool
	epmInitializing bool
	settings        *types.Settings
	lastPairT       string
	lastSoftRestartTs float64

	epmMu          sync.Mutex
	epmEofTracking map[string]bool
	epmEofStart    time.Time
}

// New wires every collaborator into a running FSM skeleton. Run drives it.
func New(cfg Config, session controller.Session, sub controller.Subscription, store storage.Store, busConn bus.Bus, table dispatch.ActiveWorkerTable) *FSM {
	cfg = cfg.withDefaults()
	stats := queuestats.NewTracker(cfg.Fabric)
	disp := dispatch.New(busConn, table, stats)
	events := fabricevent.NewBroker()

	f := &FSM{
		cfg:     cfg,
		fabric:  cfg.Fabric,
		session: session,
		sub:     sub,
		store:   store,
		busConn: busConn,
		disp:    disp,
		table:   table,
		stats:   stats,
		events:  events,
		logger:  log.WithFabric(cfg.Fabric),
		state:   StateBooting,
	}
	f.router = router.New(f, stats)
	f.router.RegisterControlHandler("fabricProtPol", f.handleFabricProtPol)
	f.router.RegisterControlHandler("fabricAutoGEp", f.handleVpcDomainChange)
	f.router.RegisterControlHandler("fabricExplicitGEp", f.handleVpcDomainChange)
	f.router.RegisterControlHandler("fabricNode", f.handleFabricNode)
	f.batcher = batch.New(batch.Config{Interval: cfg.BgEventHandlerInterval}, f.router, disp)
	f.builder = snapshot.New(cfg.Fabric, session, sub, store, disp)
	f.wd = watchdog.New(sub, store, nil)
	return f
}

// Events returns the fabric lifecycle event broker (booting/running/failed/
// warning/restart), for callers that want to observe FSM progress.
func (f *FSM) Events() *fabricevent.Broker { return f.events }

// Watchdog returns the liveness checker backing this FSM's running loop, for
// callers that expose it over a health/ready HTTP surface.
func (f *FSM) Watchdog() *watchdog.Watchdog { return f.wd }

// --- router.State ---

func (f *FSM) Stopped() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stopped
}

func (f *FSM) Initializing() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.initializing
}

func (f *FSM) EpmInitializing() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.epmInitializing
}

func (f *FSM) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	metrics.FSMState.Set(float64(s))
}

// State returns the current FSM state.
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *FSM) emit(kind fabricevent.Kind, msg string) {
	f.events.Publish(&fabricevent.Event{Fabric: f.fabric, Kind: kind, Message: msg})
}

// Run drives the full bootstrap pipeline then the steady-state loop. It
// returns when the subscription dies (liveness loss) or a hard restart is
// triggered; the caller (cmd/fabricsub) is the external supervisor that
// respawns the process per §4.5 "any → hard-restarting".
func (f *FSM) Run(ctx context.Context) error {
	f.setState(StateConnecting)
	f.emit(fabricevent.KindBooting, "connecting to controller")

	f.setState(StateValidating)
	if err := f.session.ValidateAccess(ctx); err != nil {
		return f.terminateFailed(fmt.Errorf("validate access: %w", err))
	}
	ver, err := f.session.Version(ctx)
	if err != nil {
		return f.terminateFailed(fmt.Errorf("read controller version: %w", err))
	}
	if ver.Compare(MinimumSupportedVersion) < 0 {
		return f.terminateFailed(fmt.Errorf("controller version %+v below minimum supported %+v", ver, MinimumSupportedVersion))
	}
	if ver.Major < 4 {
		f.cfg.SubscriptionCheckInterval = DefaultSubscriptionRefresh
	}

	settings, err := f.store.GetSettings(f.fabric)
	if err != nil || settings == nil {
		settings = &types.Settings{Fabric: f.fabric}
	}
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()

	if err := f.bootstrap(ctx); err != nil {
		return f.terminateFailed(err)
	}

	f.setState(StateRunning)
	f.emit(fabricevent.KindRunning, "subscriber running")
	f.events.Start()
	f.batcher.Start(ctx)
	defer f.batcher.Stop()

	hello := NewHelloTicker(f.cfg.HelloInterval, f.busConn, f.fabric)
	hello.Start()
	defer hello.Stop()

	statsFatal := make(chan error, 1)
	stats := NewStatsTicker(f.cfg.StatsInterval, f.stats, f.store, f.wd, f.disp, statsFatal)
	stats.Start()
	defer stats.Stop()

	ctrlCh, cancelCtrl, err := f.busConn.Subscribe(ctx, bus.TopicSubscriberCtrl)
	if err != nil {
		return f.terminateFailed(fmt.Errorf("subscribe ctrl channel: %w", err))
	}
	defer cancelCtrl()

	return f.runLoop(ctx, ctrlCh, statsFatal)
}

// bootstrap broadcasts FABRIC_WATCH_PAUSE, installs paused slow interests,
// runs the 7 snapshot phases, then unpauses and opens the EPM EOF barrier
// (§4.5 "building" and "building → running").
func (f *FSM) bootstrap(ctx context.Context) error {
	f.setState(StateBuilding)
	f.mu.Lock()
	f.initializing = true
	f.epmInitializing = true
	queueInit := f.settings.QueueInitEvents
	f.builder.QueueInitEpmEvents = f.settings.QueueInitEpmEvents
	f.mu.Unlock()

	f.disp.Broadcast(ctx, []*types.Envelope{{Fabric: f.fabric, Role: types.RoleWatcher, MsgType: types.MsgTypeWork, WorkType: types.WorkWatchPause, Ts: time.Now()}})

	for _, class := range router.SlowMoClasses {
		if err := f.sub.AddInterest(ctx, class, f.routeHandler(), queueInit); err != nil {
			return fmt.Errorf("add interest %s: %w", class, err)
		}
	}

	if err := f.builder.Run(ctx, func() error {
		if !f.wd.SubscriptionAlive() {
			return fmt.Errorf("subscription not alive")
		}
		return nil
	}); err != nil {
		return err
	}

	f.mu.Lock()
	f.initializing = false
	f.mu.Unlock()
	if err := f.sub.Resume(ctx, router.SlowMoClasses...); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: failed to resume slow-mo interests")
	}

	f.mu.Lock()
	f.epmInitializing = false
	f.mu.Unlock()
	for _, class := range router.EpmClasses {
		if err := f.sub.AddInterest(ctx, class, f.routeHandler(), false); err != nil {
			f.logger.Warn().Err(err).Str("class", class).Msg("subscriber: failed to add epm interest")
		}
	}
	if err := f.sub.Resume(ctx, router.EpmClasses...); err != nil {
		f.logger.Warn().Err(err).Msg("subscriber: failed to resume epm interests")
	}

	f.openEpmEofBarrier(ctx)
	return nil
}

// routeHandler adapts an EventHandler into a call against the shared
// router, stamping no class-specific logic here (§4.3 is router's job).
func (f *FSM) routeHandler() controller.EventHandler {
	return func(ctx context.Context, ev controller.ClassQueryResult) {
		// Router.VerifyTimestamp is off by default; when a transport supplies
		// a real modify timestamp, wire it through here instead of 0.
		f.router.Route(ctx, f.fabric, ev, 0)
	}
}

// openEpmEofBarrier records epmEofStart and sends an EPM_EOF marker
// directly to every worker via its lowest-priority queue (§4.5).
func (f *FSM) openEpmEofBarrier(ctx context.Context) {
	f.epmMu.Lock()
	tracking := make(map[string]bool)
	for _, w := range f.disp.AllWorkers() {
		tracking[w.WorkerID] = true
	}
	f.epmEofTracking = tracking
	f.epmEofStart = time.Now()
	f.epmMu.Unlock()

	for _, w := range f.disp.AllWorkers() {
		lowest := len(w.Queues) - 1
		if lowest < 0 {
			lowest = 0
		}
		env := &types.Envelope{Fabric: f.fabric, MsgType: types.MsgTypeWork, WorkType: types.WorkEpmEof, Role: w.Role, Qnum: lowest, Ts: time.Now()}
		f.disp.SendDirect(ctx, w, []*types.Envelope{env}, false)
	}
}

// runLoop is the steady-state poll: subscription liveness, EPM EOF timeout,
// and control-channel delivery (§4.5 "running loop", §5 item 5).
func (f *FSM) runLoop(ctx context.Context, ctrlCh <-chan []byte, statsFatal <-chan error) error {
	ticker := time.NewTicker(f.cfg.SubscriptionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-statsFatal:
			return f.terminateFailed(fmt.Errorf("stats ticker: %w", err))
		case payload := <-ctrlCh:
			f.handleSubscriberCtrl(ctx, payload)
		case <-ticker.C:
			if !f.wd.SubscriptionAlive() {
				return f.terminateFailed(fmt.Errorf("controller subscription liveness lost"))
			}
			f.checkEpmEofTimeout(ctx)
		}
	}
}

func (f *FSM) checkEpmEofTimeout(ctx context.Context) {
	f.epmMu.Lock()
	tracking := f.epmEofTracking
	start := f.epmEofStart
	f.epmMu.Unlock()
	if tracking == nil {
		return
	}
	if time.Since(start) <= f.cfg.MaxEpmBuildTime {
		return
	}
	pending := watchdog.PendingAckWorkers(tracking)
	f.logger.Warn().Dur("elapsed", time.Since(start)).Strs("pending", pending).Msg("subscriber: epm eof barrier timed out")
	metrics.EpmEofTimeoutsTotal.Inc()
	f.emit(fabricevent.KindWarning, fmt.Sprintf("epm eof barrier timed out, pending workers: %s", strings.Join(pending, ", ")))
	f.disp.Broadcast(ctx, []*types.Envelope{{Fabric: f.fabric, MsgType: types.MsgTypeWork, Role: types.RoleWatcher, WorkType: types.WorkWatchResume, Ts: time.Now()}})
	f.epmMu.Lock()
	f.epmEofTracking = nil
	f.epmMu.Unlock()
	f.emit(fabricevent.KindRunning, "subscriber running (epm eof timeout)")
}

// sendFlush broadcasts FLUSH_CACHE for one entity kind, called once per
// kind by the soft-restart path (original `send_flush`).
func (f *FSM) sendFlush(ctx context.Context, kind types.FlushKind) {
	f.disp.Broadcast(ctx, []*types.Envelope{{
		Fabric: f.fabric, MsgType: types.MsgTypeWork, WorkType: types.WorkFlushCache,
		Payload: map[string]types.FlushKind{"kind": kind}, Ts: time.Now(),
	}})
}

// terminateFailed transitions to terminated, emits a failed fabric event,
// and closes the store (§7 semantic mismatch / liveness loss taxonomy).
func (f *FSM) terminateFailed(cause error) error {
	f.setState(StateTerminated)
	f.emit(fabricevent.KindFailed, cause.Error())
	_ = f.store.Close()
	return cause
}
