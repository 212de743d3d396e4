// Package dispatch routes work items to the correct worker/watcher queue,
// bulking and sequencing them, and broadcasts control messages by role
// (§4.2, C3). It is the only writer of per-queue sequence numbers.
package dispatch

import (
	"context"
	"sync"

	"github.com/cuemby/fabricsub/pkg/bus"
	"github.com/cuemby/fabricsub/pkg/codec"
	"github.com/cuemby/fabricsub/pkg/log"
	"github.com/cuemby/fabricsub/pkg/metrics"
	"github.com/cuemby/fabricsub/pkg/queuestats"
	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/rs/zerolog"
)

// ActiveWorkerTable maps a role to its ordered, immutable-for-the-process
// sequence of workers (§3, §5). Dynamic membership changes are out of
// scope; a new table is only installed across a restart of the subscriber
// process (§1 Non-goals).
type ActiveWorkerTable map[types.WorkerRole][]*types.Worker

// queueKey identifies one (worker, qnum) partition.
type queueKey struct {
	workerID string
	qnum     int
}

// Dispatcher routes envelopes to worker queues and broadcast topics.
type Dispatcher struct {
	bus    bus.Bus
	table  ActiveWorkerTable
	stats  *queuestats.Tracker
	logger zerolog.Logger

	seqMu sync.Mutex // guards only the seq map itself; held briefly per increment
	seq   map[queueKey]uint64

	partitionLocksMu sync.Mutex // guards partitionLocks' creation, not its entries
	partitionLocks   map[queueKey]*sync.Mutex

	broadcastMu  sync.Mutex
	broadcastSeq map[string]uint64
}

// New creates a Dispatcher over a fixed ActiveWorkerTable.
func New(b bus.Bus, table ActiveWorkerTable, stats *queuestats.Tracker) *Dispatcher {
	return &Dispatcher{
		bus:            b,
		table:          table,
		stats:          stats,
		logger:         log.WithComponent("dispatch"),
		seq:            make(map[queueKey]uint64),
		partitionLocks: make(map[queueKey]*sync.Mutex),
		broadcastSeq:   make(map[string]uint64),
	}
}

// nextSeq atomically increments and returns the next sequence number for a
// (worker,qnum) partition. Callers that need the stamp to stay paired with
// the send that follows it must hold partitionLock(k) across both (§4.2).
func (d *Dispatcher) nextSeq(k queueKey) uint64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.seq[k]++
	return d.seq[k]
}

// partitionLock returns the mutex dedicated to one (worker,qnum) partition,
// creating it on first use. Holding it spans sequence stamping and the
// paired push so two goroutines racing to send into the same partition
// (the batcher and a ticker, for instance) can't interleave stamp-then-push
// and deliver a higher sequence number before a lower one.
func (d *Dispatcher) partitionLock(k queueKey) *sync.Mutex {
	d.partitionLocksMu.Lock()
	defer d.partitionLocksMu.Unlock()
	mu, ok := d.partitionLocks[k]
	if !ok {
		mu = &sync.Mutex{}
		d.partitionLocks[k] = mu
	}
	return mu
}

// workerFor resolves the destination worker for a hash-routed envelope.
func (d *Dispatcher) workerFor(env *types.Envelope) (*types.Worker, bool) {
	workers := d.table[env.Role]
	if len(workers) == 0 {
		return nil, false
	}
	idx := int(codec.HashEnvelope(env) % uint64(len(workers)))
	return workers[idx], true
}

// queueFor clamps env.Qnum to the worker's last queue if it names one that
// doesn't exist (§4.2).
func queueFor(w *types.Worker, qnum int) (string, int) {
	if qnum >= len(w.Queues) {
		qnum = len(w.Queues) - 1
	}
	return w.Queues[qnum], qnum
}

// group is one (worker,qnum) partition's queued envelopes, in intake order.
type group struct {
	worker *types.Worker
	qnum   int
	queue  string
	msgs   []*types.Envelope
}

// Send hash-routes each message to its worker/queue, then dispatches
// (§4.2). Messages for roles with no registered workers are dropped with a
// log line (fail-soft).
func (d *Dispatcher) Send(ctx context.Context, msgs []*types.Envelope, prepend bool) {
	groups := make(map[queueKey]*group)
	var order []queueKey

	for _, m := range msgs {
		w, ok := d.workerFor(m)
		if !ok {
			d.logger.Warn().Str("role", string(m.Role)).Msg("dispatch: no active workers for role, dropping message")
			continue
		}
		queue, qnum := queueFor(w, m.Qnum)
		k := queueKey{workerID: w.WorkerID, qnum: qnum}
		g, exists := groups[k]
		if !exists {
			g = &group{worker: w, qnum: qnum, queue: queue}
			groups[k] = g
			order = append(order, k)
		}
		g.msgs = append(g.msgs, m)
	}

	for _, k := range order {
		d.sendGroup(ctx, groups[k], prepend)
	}
}

// SendDirect bypasses hashing and addresses a specific worker, used for
// targeted deliveries like the EPM_EOF marker.
func (d *Dispatcher) SendDirect(ctx context.Context, w *types.Worker, msgs []*types.Envelope, prepend bool) {
	if len(msgs) == 0 {
		return
	}
	queue, qnum := queueFor(w, msgs[0].Qnum)
	g := &group{worker: w, qnum: qnum, queue: queue, msgs: msgs}
	d.sendGroup(ctx, g, prepend)
}

// sendGroup splits a group's messages into bulks of at most
// codec.MaxSendMsgLength and pushes them, holding the partition's lock
// across both sequence stamping and the push so the two never split into
// separate critical sections (§4.2, invariant 1).
func (d *Dispatcher) sendGroup(ctx context.Context, g *group, prepend bool) {
	metrics.DispatchMessagesTotal.WithLabelValues(string(g.worker.Role)).Add(float64(len(g.msgs)))

	k := queueKey{workerID: g.worker.WorkerID, qnum: g.qnum}
	mu := d.partitionLock(k)
	mu.Lock()
	defer mu.Unlock()

	for start := 0; start < len(g.msgs); start += codec.MaxSendMsgLength {
		end := start + codec.MaxSendMsgLength
		if end > len(g.msgs) {
			end = len(g.msgs)
		}
		chunk := g.msgs[start:end]

		for _, m := range chunk {
			m.Qnum = g.qnum
			m.Seq = d.nextSeq(k)
		}

		var payload []byte
		var err error
		if len(chunk) == 1 {
			payload, err = codec.Encode(chunk[0])
		} else {
			bulk := &types.BulkEnvelope{Fabric: chunk[0].Fabric, Seq: chunk[len(chunk)-1].Seq, Msgs: chunk}
			payload, err = codec.EncodeBulk(bulk)
			metrics.DispatchBulksTotal.WithLabelValues(string(g.worker.Role)).Inc()
		}
		if err != nil {
			d.logger.Error().Err(err).Msg("dispatch: encode failed, dropping")
			continue
		}

		if err := d.bus.Push(ctx, g.queue, payload, prepend); err != nil {
			d.logger.Warn().Err(err).Str("queue", g.queue).Msg("dispatch: push failed, message dropped")
			metrics.DispatchDroppedTotal.WithLabelValues(string(g.worker.Role)).Inc()
			continue
		}
		if d.stats != nil {
			d.stats.IncrTx(g.queue, uint64(len(chunk)))
		}
	}
}

// Broadcast publishes each message on the topic derived from its role:
// "worker" and "watcher" each map to their own broadcast topic; an empty
// role publishes to both (§4.2). Broadcast uses its own per-topic
// monotonic counter, independent of per-worker-queue sequencing.
func (d *Dispatcher) Broadcast(ctx context.Context, msgs []*types.Envelope) {
	for _, m := range msgs {
		topics := d.broadcastTopics(m.Role)
		for _, topic := range topics {
			seq := d.nextBroadcastSeq(topic)
			cp := *m
			cp.Seq = seq
			payload, err := codec.Encode(&cp)
			if err != nil {
				d.logger.Error().Err(err).Msg("dispatch: broadcast encode failed")
				continue
			}
			if err := d.bus.Publish(ctx, topic, payload); err != nil {
				d.logger.Warn().Err(err).Str("topic", topic).Msg("dispatch: broadcast publish failed")
				continue
			}
			metrics.DispatchBroadcastTotal.WithLabelValues(topic).Inc()
		}
	}
}

func (d *Dispatcher) broadcastTopics(role types.WorkerRole) []string {
	switch role {
	case types.RoleWorker:
		return []string{bus.TopicWorkerBroadcast}
	case types.RoleWatcher:
		return []string{bus.TopicWatcherBroadcast}
	default:
		return []string{bus.TopicWorkerBroadcast, bus.TopicWatcherBroadcast}
	}
}

func (d *Dispatcher) nextBroadcastSeq(topic string) uint64 {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()
	d.broadcastSeq[topic]++
	return d.broadcastSeq[topic]
}

// Workers returns the ordered worker list for a role, or nil if none.
func (d *Dispatcher) Workers(role types.WorkerRole) []*types.Worker {
	return d.table[role]
}

// AllWorkers returns every registered worker across both roles, used by
// the EPM EOF broadcast which must address each individually (§4.5).
func (d *Dispatcher) AllWorkers() []*types.Worker {
	var out []*types.Worker
	for _, role := range []types.WorkerRole{types.RoleWorker, types.RoleWatcher} {
		out = append(out, d.table[role]...)
	}
	return out
}

// QueueDepth reports a worker queue's current backlog, used by the stats
// ticker's periodic depth sampling (§5 loop 3). A bus error is reported as
// zero depth and is not surfaced to the caller.
func (d *Dispatcher) QueueDepth(queue string) int {
	n, err := d.bus.QueueLen(context.Background(), queue)
	if err != nil {
		return 0
	}
	return n
}
