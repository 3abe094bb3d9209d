package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// datagram is one recorded send, used by MockNetwork to route and by tests
// to assert on what was sent.
type datagram struct {
	buf  []byte
	from string
}

// MockNetwork is an in-memory router between named MockChannels, used by
// the end-to-end tests in pkg/server and pkg/worker described in spec §8
// ("use a mock transport that records datagrams"). It never drops or
// reorders datagrams — the transport-level unreliability the protocol is
// designed to tolerate is exercised instead by the higher-level tests
// (stale tokens, dropped results) rather than by a lossy fake here.
type MockNetwork struct {
	mu       sync.Mutex
	channels map[string]*MockChannel
}

// NewMockNetwork returns an empty router.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{channels: make(map[string]*MockChannel)}
}

// Open registers and returns a new channel bound to addr on this network.
func (n *MockNetwork) Open(addr string) (*MockChannel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.channels[addr]; exists {
		return nil, fmt.Errorf("%w: address %q already bound", dnxerr.ErrExist, addr)
	}
	ch := &MockChannel{
		net:  n,
		addr: addr,
		in:   make(chan datagram, 256),
	}
	n.channels[addr] = ch
	return ch, nil
}

func (n *MockNetwork) route(to string, dg datagram) error {
	n.mu.Lock()
	dst, ok := n.channels[to]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no channel bound at %q", dnxerr.ErrAddress, to)
	}
	select {
	case dst.in <- dg:
		return nil
	default:
		return fmt.Errorf("%w: mock channel %q full", dnxerr.ErrSend, to)
	}
}

func (n *MockNetwork) remove(addr string) {
	n.mu.Lock()
	delete(n.channels, addr)
	n.mu.Unlock()
}

// MockChannel is a Channel backed by an in-process buffered queue.
type MockChannel struct {
	net        *MockNetwork
	addr       string
	defaultDst string
	in         chan datagram
	closed     bool
	mu         sync.Mutex
}

// WithDefaultDest sets the destination used when Send is called with an
// empty peerAddr, mirroring an active-mode channel's stored default.
func (c *MockChannel) WithDefaultDest(addr string) *MockChannel {
	c.defaultDst = addr
	return c
}

func (c *MockChannel) Send(buf []byte, peerAddr string) error {
	if len(buf) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", dnxerr.ErrSize, len(buf))
	}
	to := peerAddr
	if to == "" {
		to = c.defaultDst
	}
	if to == "" {
		return fmt.Errorf("%w: no destination address", dnxerr.ErrInvalid)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return c.net.route(to, datagram{buf: cp, from: c.addr})
}

func (c *MockChannel) Recv(timeout time.Duration) ([]byte, string, error) {
	if timeout < 0 {
		return nil, "", fmt.Errorf("%w: negative timeout", dnxerr.ErrInvalid)
	}
	select {
	case dg := <-c.in:
		return dg.buf, dg.from, nil
	case <-time.After(timeout):
		return nil, "", dnxerr.ErrTimeout
	}
}

func (c *MockChannel) LocalAddr() string { return c.addr }

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.net.remove(c.addr)
	return nil
}
