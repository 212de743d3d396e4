package controller

import (
	"context"
	"fmt"
	"sync"
)

// FakeSession is an in-memory Session backed by a fixed per-class result
// set, for bootstrap and FSM tests (§8 scenarios).
type FakeSession struct {
	Ver     Version
	Results map[string][]ClassQueryResult // keyed by class name
	ByDn    map[string]ClassQueryResult
	Err     error
}

// NewFakeSession creates an empty FakeSession.
func NewFakeSession(ver Version) *FakeSession {
	return &FakeSession{
		Ver:     ver,
		Results: make(map[string][]ClassQueryResult),
		ByDn:    make(map[string]ClassQueryResult),
	}
}

// Add registers a class-query result under both its class and its dn.
func (f *FakeSession) Add(r ClassQueryResult) *FakeSession {
	f.Results[r.Class] = append(f.Results[r.Class], r)
	f.ByDn[r.Dn] = r
	return f
}

func (f *FakeSession) Version(ctx context.Context) (Version, error) { return f.Ver, f.Err }

func (f *FakeSession) ValidateAccess(ctx context.Context) error { return f.Err }

func (f *FakeSession) Query(ctx context.Context, class string, fn func(ClassQueryResult) error) error {
	if f.Err != nil {
		return f.Err
	}
	for _, r := range f.Results[class] {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeSession) QueryOne(ctx context.Context, dn string) (ClassQueryResult, error) {
	if f.Err != nil {
		return ClassQueryResult{}, f.Err
	}
	r, ok := f.ByDn[dn]
	if !ok {
		return ClassQueryResult{}, fmt.Errorf("controller: dn %q not found", dn)
	}
	return r, nil
}

func (f *FakeSession) Close() error { return nil }

// FakeSubscription is an in-memory Subscription that delivers events
// pushed with Deliver to interested handlers, honoring Pause/Resume by
// buffering events for paused classes until resumed (§9 design note).
type FakeSubscription struct {
	mu       sync.Mutex
	handlers map[string]EventHandler
	paused   map[string]bool
	buffered map[string][]ClassQueryResult
	alive    bool
}

// NewFakeSubscription creates a FakeSubscription, initially alive.
func NewFakeSubscription() *FakeSubscription {
	return &FakeSubscription{
		handlers: make(map[string]EventHandler),
		paused:   make(map[string]bool),
		buffered: make(map[string][]ClassQueryResult),
		alive:    true,
	}
}

func (f *FakeSubscription) AddInterest(ctx context.Context, class string, handler EventHandler, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[class] = handler
	f.paused[class] = paused
	return nil
}

func (f *FakeSubscription) Pause(ctx context.Context, classes ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range classes {
		f.paused[c] = true
	}
	return nil
}

func (f *FakeSubscription) Resume(ctx context.Context, classes ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range classes {
		f.paused[c] = false
		pending := f.buffered[c]
		delete(f.buffered, c)
		handler := f.handlers[c]
		if handler == nil {
			continue
		}
		for _, ev := range pending {
			handler(context.Background(), ev)
		}
	}
	return nil
}

func (f *FakeSubscription) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *FakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

// Deliver simulates the controller pushing one event for a class. If the
// class is currently paused, the event is buffered rather than delivered,
// modeling the "paused-and-buffering" subscription mode (§4.3).
func (f *FakeSubscription) Deliver(class string, ev ClassQueryResult) {
	f.mu.Lock()
	paused := f.paused[class]
	handler := f.handlers[class]
	if paused {
		f.buffered[class] = append(f.buffered[class], ev)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	if handler != nil {
		handler(context.Background(), ev)
	}
}

// SetAlive forces the liveness flag, used by watchdog tests.
func (f *FakeSubscription) SetAlive(alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = alive
}
