// Package registry implements the server's worker-request registry: a
// bounded FIFO of ready-worker tokens with lazy TTL expiry on dequeue and
// drop-oldest-on-overflow on enqueue. Grounded on
// original_source/server/dnxRegistrar.c's dnxGetNodeRequest (expiry-discard
// loop) and spec.md §4.3 (bounded-length + drop-oldest policy, which the
// original's unbounded linked queue does not implement).
package registry

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// Token is a worker's "ready for work" advertisement.
type Token struct {
	WorkerXID      xid.XID
	Address        string
	JobCapacity    uint32
	TTLSecs        uint32
	ExpiresInstant time.Time
	Hostname       string
}

func (t Token) expired(now time.Time) bool {
	return !t.ExpiresInstant.After(now)
}

// EventFunc is called for audit-worthy registry events: "registered",
// "deregistered", "expired", "overflow-dropped". Tests and pkg/server
// both use this to observe the events spec §8 scenarios assert on, without
// the registry depending on pkg/log directly.
type EventFunc func(event string, t Token)

// Registry is a bounded, FIFO, concurrency-safe worker-request queue.
type Registry struct {
	mu      sync.Mutex
	items   *list.List
	maxLen  int
	onEvent EventFunc
}

// New creates a registry bounded at maxLen tokens. onEvent may be nil.
func New(maxLen int, onEvent EventFunc) (*Registry, error) {
	if maxLen < 1 {
		return nil, fmt.Errorf("%w: registry maxLen must be >= 1, got %d", dnxerr.ErrInvalid, maxLen)
	}
	if onEvent == nil {
		onEvent = func(string, Token) {}
	}
	return &Registry{items: list.New(), maxLen: maxLen, onEvent: onEvent}, nil
}

// Enqueue adds a token to the tail. If the registry is already at
// capacity, the token at the head is dropped first and an
// "overflow-dropped" event fires for it — Enqueue never blocks and never
// fails for being full.
func (r *Registry) Enqueue(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.items.Len() >= r.maxLen {
		front := r.items.Front()
		dropped := front.Value.(Token)
		r.items.Remove(front)
		r.onEvent("overflow-dropped", dropped)
	}
	r.items.PushBack(t)
	r.onEvent("registered", t)
}

// Dequeue pops tokens from the head in FIFO order, silently discarding any
// whose TTL has already expired (firing an "expired" event for each), and
// returns the first live one. Returns ErrNotFound if the registry is
// empty after discarding all expired entries.
func (r *Registry) Dequeue(now time.Time) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		front := r.items.Front()
		if front == nil {
			return Token{}, fmt.Errorf("%w: request registry empty", dnxerr.ErrNotFound)
		}
		t := front.Value.(Token)
		r.items.Remove(front)
		if t.expired(now) {
			r.onEvent("expired", t)
			continue
		}
		return t, nil
	}
}

// RemoveMatching removes the first token whose WorkerXID's Kind and Serial
// match workerXID (the DEREGISTER path — slot is not compared, since a
// worker deregisters by its own identity, not by any ring slot). Reports
// whether a match was found. Per DESIGN.md's open-question decision, this
// fires a "deregistered" event rather than "expired", even if the removed
// token happened to already be past its TTL.
func (r *Registry) RemoveMatching(workerXID xid.XID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.items.Front(); e != nil; e = e.Next() {
		t := e.Value.(Token)
		if t.WorkerXID.Kind == workerXID.Kind && t.WorkerXID.Serial == workerXID.Serial {
			r.items.Remove(e)
			r.onEvent("deregistered", t)
			return true
		}
	}
	return false
}

// RemoveAll drains the registry, used at shutdown to mirror the original's
// dnxDeregisterAllNodes. No events fire for a bulk shutdown drain.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items.Init()
}

// Len returns the current queue length, including any not-yet-discarded
// expired entries (expiry is lazy, discovered only on Dequeue).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.Len()
}
