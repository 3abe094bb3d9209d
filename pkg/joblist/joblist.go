// Package joblist implements the server's job list: a fixed-capacity ring
// buffer holding jobs in three lifecycle states, with independent
// enqueue/dispatch/collect/expire cursors. Grounded on
// original_source/server/dnxJobList.c.
package joblist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/registry"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// State is a job's lifecycle state. Empty means the ring slot is free.
type State int

const (
	Empty State = iota
	Pending
	InProgress
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Job is one server-side job record. See SPEC_FULL.md §3 for field
// semantics; UpstreamContext is an opaque handle identifying the
// monitoring-host object that asked for this check, used only to route
// the eventual result — the job list never inspects it.
type Job struct {
	State           State
	XID             xid.XID
	CommandLine     string
	StartInstant    time.Time
	TimeoutSecs     int
	ExpiresInstant  time.Time
	AssignedWorker  registry.Token
	UpstreamContext any
}

// NewJob is the caller-supplied template for Add; XID.Slot and State are
// assigned by the job list itself.
type NewJob struct {
	XID             xid.XID
	CommandLine     string
	StartInstant    time.Time
	TimeoutSecs     int
	ExpiresInstant  time.Time
	AssignedWorker  registry.Token
	UpstreamContext any
}

// JobList is a fixed-capacity ring of job records with three cursors:
// head (oldest live slot), dispatchHead (oldest PENDING slot), and tail
// (next free slot to write). A single mutex guards all ring state; no I/O
// or blocking call is ever made while the mutex is held. Dispatch blocking
// is implemented with a buffered "doorbell" channel rather than a raw
// condition variable, per SPEC_FULL.md §4.2–4.3's guidance that a condvar wait
// with a timeout becomes a channel signal in a task/channel language.
type JobList struct {
	mu           sync.Mutex
	slots        []Job
	head         int
	dispatchHead int
	tail         int
	doorbell     chan struct{} // capacity 1, non-blocking send on Add
}

// New creates a job list with the given fixed capacity.
func New(capacity int) (*JobList, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: job list capacity must be >= 2, got %d", dnxerr.ErrInvalid, capacity)
	}
	return &JobList{
		slots:    make([]Job, capacity),
		doorbell: make(chan struct{}, 1),
	}, nil
}

func (jl *JobList) ring(i int) int {
	n := len(jl.slots)
	return ((i % n) + n) % n
}

func (jl *JobList) ding() {
	select {
	case jl.doorbell <- struct{}{}:
	default:
	}
}

// Add assigns job.XID.Slot = tail, sets state PENDING, copies the record
// into the ring, advances tail, updates dispatchHead if this is now the
// oldest PENDING job, and signals the doorbell. Fails with ErrCapacity
// without overwriting anything when the ring is full.
func (jl *JobList) Add(job NewJob) (xid.XID, error) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	n := len(jl.slots)
	next := jl.ring(jl.tail + 1)
	if next == jl.head && jl.slots[jl.head].State != Empty {
		return xid.XID{}, fmt.Errorf("%w: job list full (capacity %d)", dnxerr.ErrCapacity, n)
	}

	slot := jl.tail
	job.XID.Slot = uint64(slot)
	jl.slots[slot] = Job{
		State:           Pending,
		XID:             job.XID,
		CommandLine:     job.CommandLine,
		StartInstant:    job.StartInstant,
		TimeoutSecs:     job.TimeoutSecs,
		ExpiresInstant:  job.ExpiresInstant,
		AssignedWorker:  job.AssignedWorker,
		UpstreamContext: job.UpstreamContext,
	}

	wasEmpty := jl.dispatchHead == jl.tail
	jl.tail = next
	if wasEmpty {
		jl.dispatchHead = slot
	}
	jl.ding()
	return job.XID, nil
}

// Dispatch blocks until the oldest PENDING slot is ready, transitions it to
// IN_PROGRESS, and returns a copy of the record. It returns ctx.Err() if
// ctx is cancelled first (the Go equivalent of a condvar wait with no
// fixed timeout — the dispatcher goroutine supplies a cancellable context
// so it can be stopped cleanly on shutdown).
func (jl *JobList) Dispatch(ctx context.Context) (Job, error) {
	for {
		jl.mu.Lock()
		if jl.dispatchHead != jl.tail && jl.slots[jl.dispatchHead].State == Pending {
			slot := jl.dispatchHead
			jl.slots[slot].State = InProgress
			out := jl.slots[slot]
			next := jl.ring(jl.dispatchHead + 1)
			if next == jl.tail {
				jl.dispatchHead = jl.tail
			} else {
				jl.dispatchHead = next
			}
			jl.mu.Unlock()
			return out, nil
		}
		jl.mu.Unlock()

		select {
		case <-jl.doorbell:
			// Re-check under lock; the doorbell only promises "something
			// changed", not "a PENDING job exists now".
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

// Collect matches a result to an IN_PROGRESS job by XID, removes it from
// the ring, and returns a copy of the record. A byte-mismatch on the
// stored XID, or an already-Empty slot, returns ErrNotFound — this is the
// normal race with expiration, not a bug.
func (jl *JobList) Collect(x xid.XID) (Job, error) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	slot := int(x.Slot)
	if slot < 0 || slot >= len(jl.slots) {
		return Job{}, fmt.Errorf("%w: xid %s: slot out of range", dnxerr.ErrNotFound, x)
	}
	cur := jl.slots[slot]
	if cur.State == Empty || !cur.XID.Equal(x) {
		return Job{}, fmt.Errorf("%w: xid %s", dnxerr.ErrNotFound, x)
	}
	jl.slots[slot] = Job{}
	jl.advanceHeadPastEmpty()
	return cur, nil
}

// Expire walks the occupied range of the ring and removes every PENDING or
// IN_PROGRESS slot whose ExpiresInstant has passed, up to maxBatch of
// them. Unlike the original C implementation, this performs a full pass
// rather than stopping at the first unexpired slot: the early-stop
// optimization is only correct when every job shares one fixed timeout, so
// ring-insertion order would guarantee ExpiresInstant order; in a real
// deployment timeoutSecs varies per check, so that guarantee does not
// hold (see DESIGN.md open question #2).
func (jl *JobList) Expire(now time.Time, maxBatch int) []Job {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	var out []Job
	for idx := jl.head; idx != jl.tail && len(out) < maxBatch; idx = jl.ring(idx + 1) {
		s := jl.slots[idx]
		if s.State == Empty {
			continue
		}
		if s.State == Pending || s.State == InProgress {
			if !s.ExpiresInstant.After(now) {
				out = append(out, s)
				jl.slots[idx] = Job{}
			}
		}
	}
	jl.advanceHeadPastEmpty()
	jl.advanceDispatchHeadPastNonPending()
	return out
}

// advanceHeadPastEmpty moves head forward over any now-empty slots,
// stopping at the next occupied slot or at tail. Collection and expiration
// can free slots out of ring order, leaving "holes"; head must skip them
// rather than get stuck behind a hole that will never refill.
func (jl *JobList) advanceHeadPastEmpty() {
	for jl.head != jl.tail && jl.slots[jl.head].State == Empty {
		jl.head = jl.ring(jl.head + 1)
	}
}

// advanceDispatchHeadPastNonPending re-syncs dispatchHead after Expire may
// have removed the job it was pointing at.
func (jl *JobList) advanceDispatchHeadPastNonPending() {
	for jl.dispatchHead != jl.tail && jl.slots[jl.dispatchHead].State != Pending {
		jl.dispatchHead = jl.ring(jl.dispatchHead + 1)
	}
}

// Len returns the number of occupied slots. Intended for metrics and
// tests, not for any correctness-sensitive decision.
func (jl *JobList) Len() int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	n := 0
	for i := jl.head; i != jl.tail; i = jl.ring(i + 1) {
		if jl.slots[i].State != Empty {
			n++
		}
	}
	return n
}

// Cap returns the ring's fixed capacity.
func (jl *JobList) Cap() int {
	return len(jl.slots)
}
