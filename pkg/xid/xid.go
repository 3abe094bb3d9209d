// Package xid implements the DNX transaction identifier: a triple of
// (originator kind, serial, slot) that round-trips unchanged through
// request, job, result, and ack messages. Equality on all three fields
// identifies a single job across the wire.
package xid

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// Kind tags the originator of a transaction id.
type Kind uint32

const (
	KindScheduler Kind = iota
	KindDispatcher
	KindWorker
	KindCollector
	KindReaper
	KindJob
	KindManager
)

func (k Kind) String() string {
	switch k {
	case KindScheduler:
		return "SCHEDULER"
	case KindDispatcher:
		return "DISPATCHER"
	case KindWorker:
		return "WORKER"
	case KindCollector:
		return "COLLECTOR"
	case KindReaper:
		return "REAPER"
	case KindJob:
		return "JOB"
	case KindManager:
		return "MANAGER"
	default:
		return "UNKNOWN"
	}
}

// XID is the DNX transaction identifier. Slot is meaningless until the
// server's job list assigns it at Add time; it then equals the ring index
// the job occupies, which is what makes Collect O(1) from an XID alone.
type XID struct {
	Kind   Kind
	Serial uint64
	Slot   uint64
}

// String renders the wire form "<kind>-<serial>-<slot>".
func (x XID) String() string {
	return fmt.Sprintf("%d-%d-%d", uint32(x.Kind), x.Serial, x.Slot)
}

// Equal reports whether two XIDs match byte-for-byte on all three fields.
func (x XID) Equal(o XID) bool {
	return x.Kind == o.Kind && x.Serial == o.Serial && x.Slot == o.Slot
}

// Parse decodes the wire form "<kind>-<serial>-<slot>" produced by String.
// Parse and String are a bijection on the valid domain: every XID value
// string-round-trips, and every well-formed string parses back to the same
// triple.
func Parse(s string) (XID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return XID{}, fmt.Errorf("%w: xid %q: expected 3 fields", dnxerr.ErrSyntax, s)
	}
	kind, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return XID{}, fmt.Errorf("%w: xid %q: bad kind: %v", dnxerr.ErrSyntax, s, err)
	}
	serial, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return XID{}, fmt.Errorf("%w: xid %q: bad serial: %v", dnxerr.ErrSyntax, s, err)
	}
	slot, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return XID{}, fmt.Errorf("%w: xid %q: bad slot: %v", dnxerr.ErrSyntax, s, err)
	}
	return XID{Kind: Kind(kind), Serial: serial, Slot: slot}, nil
}

// Generator produces monotonically increasing serials scoped to one
// originator kind, matching the spec's "serial is a monotonically
// increasing counter scoped to the originator" rule. It is safe for
// concurrent use by multiple worker threads sharing one Kind.
type Generator struct {
	kind   Kind
	serial uint64 // accessed only via atomic ops in Next
}

// NewGenerator returns a Generator for the given originator kind.
func NewGenerator(kind Kind) *Generator {
	return &Generator{kind: kind}
}

// Next returns the next XID for this generator's kind, with slot left at
// zero (the server assigns the real slot when the job enters the ring).
func (g *Generator) Next() XID {
	serial := atomic.AddUint64(&g.serial, 1)
	return XID{Kind: g.kind, Serial: serial}
}
