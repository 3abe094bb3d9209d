// Package upstream defines the collaborator that republishes a finished
// check result back to the monitoring host's normal processing path. The
// real collaborator is the Nagios/NEB event broker, which is explicitly
// out of scope (SPEC_FULL.md §1); this package supplies the interface
// pkg/server depends on plus an in-memory implementation used by
// cmd/dnx-server's demo ingress endpoint and by tests.
package upstream

import "sync"

// Result is what the job pipeline hands back once a check completes or
// expires, keyed by the opaque UpstreamContext the ingress call supplied
// when the job was first submitted.
type Result struct {
	Context    any
	ResultCode int
	Output     string
}

// Publisher accepts finished results. Publish must not block the caller
// for longer than a local in-memory handoff — pkg/server's collector and
// timer goroutines call it while holding no lock, but a slow publisher
// still stalls that one goroutine's next iteration.
type Publisher interface {
	Publish(r Result)
}

// MemoryPublisher records every published result in order, for tests and
// for cmd/dnx-server's /status demo endpoint.
type MemoryPublisher struct {
	mu      sync.Mutex
	results []Result
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
}

// Results returns a snapshot of everything published so far, oldest first.
func (p *MemoryPublisher) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}
