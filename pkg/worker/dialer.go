package worker

import (
	"fmt"
	"sync/atomic"

	"github.com/dnxgo/dnxgo/pkg/transport"
)

// Dialer opens an active channel bound to a fresh local address with the
// given target as its default destination, used by each worker thread to
// reach the server's dispatch/collect channels without colliding on a
// shared channel-map entry (spec §4.8: "each identified by a unique
// per-thread name").
type Dialer interface {
	OpenActive(target string) (transport.Channel, error)
}

// PassiveOpener opens a passive channel bound to addr, used by the
// management listener.
type PassiveOpener interface {
	OpenPassive(addr string) (transport.Channel, error)
}

// RealNetwork dials real UDP channels. Every OpenActive call gets its own
// ephemeral local port from the kernel, which is what gives each worker
// thread a distinct per-thread channel with no explicit naming needed.
type RealNetwork struct{}

func (RealNetwork) OpenActive(target string) (transport.Channel, error) {
	return transport.OpenActive(target)
}

func (RealNetwork) OpenPassive(addr string) (transport.Channel, error) {
	return transport.OpenPassive(addr)
}

// MockNetwork adapts a transport.MockNetwork to Dialer/PassiveOpener. The
// mock has no kernel ephemeral-port equivalent, so OpenActive synthesizes
// a unique bind name per call from Prefix and an internal counter.
type MockNetwork struct {
	Net    *transport.MockNetwork
	Prefix string
	seq    uint64
}

func (m *MockNetwork) OpenActive(target string) (transport.Channel, error) {
	n := atomic.AddUint64(&m.seq, 1)
	ch, err := m.Net.Open(fmt.Sprintf("%s-active-%d", m.Prefix, n))
	if err != nil {
		return nil, err
	}
	return ch.WithDefaultDest(target), nil
}

func (m *MockNetwork) OpenPassive(addr string) (transport.Channel, error) {
	return m.Net.Open(addr)
}
