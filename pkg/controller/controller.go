// Package controller defines the collaborator interfaces for the external
// management controller: an authenticated REST/websocket Session, a
// long-lived class-Subscription layer, and the per-managed-object-kind
// MoClass contract the snapshot builder drives. Concrete controller
// clients (HTTP/websocket transport) are out of scope (§1); this package
// only carries the shapes the rest of the subscriber programs against,
// plus a fake implementation for tests.
package controller

import (
	"context"
	"sync"
)

// Version is a parsed controller software version, compared major, then
// minor, then build, ignoring patch (§4.5 validating→building).
type Version struct {
	Major int
	Minor int
	Build int
	Patch int
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other, ignoring Patch.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return sign(v.Major - other.Major)
	}
	if v.Minor != other.Minor {
		return sign(v.Minor - other.Minor)
	}
	return sign(v.Build - other.Build)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// MoAttrs is the raw attribute bag returned for one managed object by a
// class query: attribute name to string value, the shape the controller's
// REST API returns (§9 design note: "dynamic attribute mapping").
type MoAttrs map[string]string

// ClassQueryResult is one MO returned by a class query or subscription
// event: its distinguished name, its class name, and its raw attributes.
type ClassQueryResult struct {
	Dn    string
	Class string
	Attrs MoAttrs
}

// Session is an authenticated controller connection: the collaborator
// spec.md calls ControllerSession. Real implementations speak REST over
// HTTPS and hold a session cookie/token refreshed on an interval supplied
// by fabric configuration; only the query surface the rest of this module
// needs is modeled here.
type Session interface {
	// Version returns the controller's reported software version.
	Version(ctx context.Context) (Version, error)
	// ValidateAccess verifies the session has domain-all, admin-role access.
	ValidateAccess(ctx context.Context) error
	// Query runs a class query, streaming results to the callback; used
	// by both full-cache rebuilds and the streamed endpoint queries in
	// build_endpoint_db (§4.4).
	Query(ctx context.Context, class string, fn func(ClassQueryResult) error) error
	// QueryOne runs a targeted DN-scoped query, used by REFRESH_EPT and
	// the fabricNode attribute follow-up query (§4.5).
	QueryOne(ctx context.Context, dn string) (ClassQueryResult, error)
	Close() error
}

// EventHandler is invoked by Subscription with one parsed class event.
type EventHandler func(ctx context.Context, ev ClassQueryResult)

// Subscription is the long-lived controller subscription layer
// (spec.md's SubscriptionCtrl, §4, §9 design note "Paused-subscription
// buffering"). Pause puts a class's event stream into a buffering mode
// rather than delivering it; Resume drains whatever buffered while
// paused. The subscriber's own choice of queue-vs-drop during init is a
// setting read by pkg/router, not a property of this collaborator.
type Subscription interface {
	AddInterest(ctx context.Context, class string, handler EventHandler, paused bool) error
	Pause(ctx context.Context, classes ...string) error
	Resume(ctx context.Context, classes ...string) error
	// Alive reports whether the subscription layer's underlying
	// connection is still delivering events (used by FailureWatchdog).
	Alive() bool
	Close() error
}

// MoClass is the per-managed-object-kind contract the snapshot builder's
// build_mo phase drives: each concrete MO kind (VRF, BD, EPG, ...)
// implements Rebuild to fully repopulate its own local cache from a
// class query, matching spec.md's "dependency_map" registry of
// projectors (§4.4, §9 design note "Dynamic attribute mapping").
type MoClass interface {
	// ClassName is the controller class this MoClass kind queries.
	ClassName() string
	// Rebuild fully repopulates the local cache for this class from a
	// class query.
	Rebuild(ctx context.Context, session Session) error
	// Cache returns the rebuilt rows, keyed by dn.
	Cache() map[string]ClassQueryResult
}

// MemMoClass is a generic in-memory MoClass usable both as the fake
// collaborator in tests and as a default projector for MO kinds that
// don't need bespoke parsing beyond caching their raw attributes.
type MemMoClass struct {
	Class string

	mu    sync.RWMutex
	cache map[string]ClassQueryResult
}

// NewMemMoClass creates a MemMoClass for the given controller class name.
func NewMemMoClass(class string) *MemMoClass {
	return &MemMoClass{Class: class, cache: make(map[string]ClassQueryResult)}
}

func (m *MemMoClass) ClassName() string { return m.Class }

func (m *MemMoClass) Rebuild(ctx context.Context, session Session) error {
	fresh := make(map[string]ClassQueryResult)
	err := session.Query(ctx, m.Class, func(r ClassQueryResult) error {
		fresh[r.Dn] = r
		return nil
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache = fresh
	m.mu.Unlock()
	return nil
}

func (m *MemMoClass) Cache() map[string]ClassQueryResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ClassQueryResult, len(m.cache))
	for k, v := range m.cache {
		out[k] = v
	}
	return out
}
