// Package batch implements the background batcher that periodically drains
// the event router's queued slow-MO and EPM envelopes and hands them to the
// dispatcher (C7, §4.3, §4.5). It never parses or classifies events itself;
// that is router's job.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fabricsub/pkg/dispatch"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/router"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is BG_EVENT_HANDLER_INTERVAL when Config.Interval is zero.
const DefaultInterval = 2 * time.Second

// Config configures a Batcher.
type Config struct {
	Interval time.Duration
}

// Batcher drains router's queues on a fixed tick and sends each non-empty
// drain through the dispatcher, one Send call per queue.
type Batcher struct {
	cfg    Config
	router *router.Router
	disp   *dispatch.Dispatcher
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// New creates a Batcher over the given router and dispatcher.
func New(cfg Config, r *router.Router, d *dispatch.Dispatcher) *Batcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Batcher{
		cfg:    cfg,
		router: r,
		disp:   d,
		logger: log.WithComponent("batch"),
	}
}

// Start begins the drain loop in a background goroutine.
func (b *Batcher) Start(ctx context.Context) {
	b.mu.Lock()
	if b.stopCh != nil {
		b.mu.Unlock()
		return
	}
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	stopCh, done := b.stopCh, b.done
	b.mu.Unlock()

	go b.run(ctx, stopCh, done)
}

// Stop halts the drain loop and waits for it to exit.
func (b *Batcher) Stop() {
	b.mu.Lock()
	stopCh, done := b.stopCh, b.done
	b.stopCh, b.done = nil, nil
	b.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}

func (b *Batcher) run(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	b.logger.Info().Dur("interval", b.cfg.Interval).Msg("batch: background batcher started")

	for {
		select {
		case <-ticker.C:
			b.flush(ctx)
		case <-stopCh:
			b.logger.Info().Msg("batch: background batcher stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// flush drains and dispatches one round of queued slow-MO and EPM envelopes.
func (b *Batcher) flush(ctx context.Context) {
	b.drainAndSend(ctx, "std_mo", b.router.DrainStdMo())
	b.drainAndSend(ctx, "epm", b.router.DrainEpm())
}

func (b *Batcher) drainAndSend(ctx context.Context, queue string, envs []*types.Envelope) {
	if len(envs) == 0 {
		return
	}
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.BatchFlushDuration)
		metrics.BatchFlushSize.WithLabelValues(queue).Observe(float64(len(envs)))
	}()

	b.disp.Send(ctx, envs, false)
	b.logger.Debug().Str("queue", queue).Int("count", len(envs)).Msg("batch: flushed")
}
