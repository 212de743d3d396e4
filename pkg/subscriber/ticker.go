package subscriber

import (
	"context"
	"time"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/codec"
	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/storage"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/cuemby/fabricsub/pkg/watchdog"
)

// HelloTicker publishes a heartbeat on WORKER_CTRL_CHANNEL every interval
// (§5 loop 2).
type HelloTicker struct {
	interval time.Duration
	bus      bus.Bus
	fabric   string
	stopCh   chan struct{}
}

// NewHelloTicker creates a stopped HelloTicker.
func NewHelloTicker(interval time.Duration, b bus.Bus, fabric string) *HelloTicker {
	return &HelloTicker{interval: interval, bus: b, fabric: fabric, stopCh: make(chan struct{})}
}

// Start begins the heartbeat loop.
func (t *HelloTicker) Start() { go t.run() }

// Stop ends the heartbeat loop.
func (t *HelloTicker) Stop() { close(t.stopCh) }

func (t *HelloTicker) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	logger := log.WithFabric(t.fabric).With().Str("component", "hello_ticker").Logger()

	for {
		select {
		case <-ticker.C:
			env := &types.Envelope{Fabric: t.fabric, MsgType: types.MsgTypeWork, WorkType: types.WorkRaw, Ts: time.Now()}
			payload, err := codec.Encode(env)
			if err != nil {
				logger.Warn().Err(err).Msg("hello ticker: encode failed")
				continue
			}
			if err := t.bus.Publish(context.Background(), bus.TopicWorkerCtrl, payload); err != nil {
				logger.Warn().Err(err).Msg("hello ticker: publish failed")
			}
		case <-t.stopCh:
			return
		}
	}
}

// StatsTicker samples queue depth, flushes counters to the store, and
// probes DB reachability every interval, escalating an unreachable DB to a
// process-level interrupt via fatalCh (§5 loop 3, §7 "DB-unreachable from
// the stats loop raises a process interrupt, deliberately escalating").
type StatsTicker struct {
	interval time.Duration
	stats    *queuestats.Tracker
	store    storage.Store
	wd       *watchdog.Watchdog
	disp     *dispatch.Dispatcher
	fatalCh  chan<- error
	stopCh   chan struct{}
}

// NewStatsTicker creates a stopped StatsTicker.
func NewStatsTicker(interval time.Duration, stats *queuestats.Tracker, store storage.Store, wd *watchdog.Watchdog, disp *dispatch.Dispatcher, fatalCh chan<- error) *StatsTicker {
	return &StatsTicker{interval: interval, stats: stats, store: store, wd: wd, disp: disp, fatalCh: fatalCh, stopCh: make(chan struct{})}
}

// Start begins the sampling loop.
func (t *StatsTicker) Start() { go t.run() }

// Stop ends the sampling loop.
func (t *StatsTicker) Stop() { close(t.stopCh) }

func (t *StatsTicker) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	logger := log.WithComponent("stats_ticker")

	for {
		select {
		case <-ticker.C:
			t.sampleDepths()
			if err := t.flush(); err != nil {
				logger.Error().Err(err).Msg("stats ticker: flush failed")
			}
			if err := t.wd.DBReachable(context.Background()); err != nil {
				select {
				case t.fatalCh <- err:
				default:
				}
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *StatsTicker) sampleDepths() {
	for _, w := range t.disp.AllWorkers() {
		for _, q := range w.Queues {
			t.stats.SampleDepth(q, t.disp.QueueDepth(q))
		}
	}
}

func (t *StatsTicker) flush() error {
	rows := t.stats.Snapshot()
	if len(rows) == 0 {
		return nil
	}
	if err := t.store.UpsertQueueStats(rows); err != nil {
		return err
	}
	t.stats.ResetDepthSamples()
	return nil
}
