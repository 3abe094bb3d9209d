// Package transport implements the DNX datagram transport: per-call
// timeouts, peer address capture on every receive, and a hard distinction
// between a timeout (normal, never logged as an error above a threshold)
// and a send/receive failure (logged, retried by callers per §4.1/§7).
//
// Only the "udp" scheme is implemented; "tcp" and "msgq" are recognized in
// URLs but rejected with dnxerr.ErrUnsupported, since the protocol in
// SPEC_FULL.md is designed around datagram semantics (bounded messages, no
// guaranteed delivery, no ordering) and nothing in the repo exercises a
// stream or local-queue transport.
package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// MaxDatagramSize is the largest payload recv will accept, matching the
// wire protocol's message size ceiling (wire.MaxMessageSize).
const MaxDatagramSize = 1024

// Channel is a bounded, unreliable, peer-address-capturing datagram
// endpoint. One goroutine owns each Channel; Channels are not shared
// across goroutines (matching the spec's "no sharing across threads"
// transport discipline).
type Channel interface {
	// Send transmits buf to peerAddr. In active mode peerAddr may be empty,
	// meaning "the default destination address supplied at open time".
	Send(buf []byte, peerAddr string) error
	// Recv blocks for up to timeout waiting for a datagram. A zero timeout
	// means "no wait" (poll); a negative timeout is rejected. It returns
	// dnxerr.ErrTimeout (not a hard error) when the deadline elapses.
	Recv(timeout time.Duration) (buf []byte, peerAddr string, err error)
	// LocalAddr reports the address this channel is bound to (passive) or
	// was assigned (active, ephemeral).
	LocalAddr() string
	Close() error
}

// parsedURL is the result of parsing "<scheme>://<host>:<port>".
type parsedURL struct {
	scheme string
	host   string
	port   string
}

func parse(rawURL string) (parsedURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return parsedURL{}, fmt.Errorf("%w: %q", dnxerr.ErrBadURL, rawURL)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return parsedURL{}, fmt.Errorf("%w: %q: %v", dnxerr.ErrBadURL, rawURL, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return parsedURL{}, fmt.Errorf("%w: %q: bad port", dnxerr.ErrBadURL, rawURL)
	}
	return parsedURL{scheme: u.Scheme, host: host, port: port}, nil
}

func isAnyAddress(host string) bool {
	return host == "" || host == "0.0.0.0" || host == "0" || host == "::"
}

// OpenPassive binds to url and waits for datagrams sent to it. Host
// 0.0.0.0 (or "0") is accepted here — it forces an any-address bind.
func OpenPassive(rawURL string) (Channel, error) {
	p, err := parse(rawURL)
	if err != nil {
		return nil, err
	}
	if p.scheme != "udp" {
		return nil, fmt.Errorf("%w: scheme %q", dnxerr.ErrUnsupported, p.scheme)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.host, p.port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrAddress, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrOpen, err)
	}
	return &udpChannel{conn: conn}, nil
}

// OpenActive stores url as this channel's default destination address.
// Binding an active channel to the any-address is meaningless (there is no
// single peer to reach) and is rejected.
func OpenActive(rawURL string) (Channel, error) {
	p, err := parse(rawURL)
	if err != nil {
		return nil, err
	}
	if p.scheme != "udp" {
		return nil, fmt.Errorf("%w: scheme %q", dnxerr.ErrUnsupported, p.scheme)
	}
	if isAnyAddress(p.host) {
		return nil, fmt.Errorf("%w: active channel cannot target the any-address %q", dnxerr.ErrInvalid, p.host)
	}
	dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.host, p.port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrAddress, err)
	}
	local, err := net.ResolveUDPAddr("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrAddress, err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrOpen, err)
	}
	return &udpChannel{conn: conn, defaultDst: dst}, nil
}

type udpChannel struct {
	conn       *net.UDPConn
	defaultDst *net.UDPAddr
}

func (c *udpChannel) Send(buf []byte, peerAddr string) error {
	if len(buf) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", dnxerr.ErrSize, len(buf))
	}
	dst := c.defaultDst
	if peerAddr != "" {
		resolved, err := net.ResolveUDPAddr("udp", peerAddr)
		if err != nil {
			return fmt.Errorf("%w: %v", dnxerr.ErrAddress, err)
		}
		dst = resolved
	}
	if dst == nil {
		return fmt.Errorf("%w: no destination address", dnxerr.ErrInvalid)
	}
	n, err := c.conn.WriteToUDP(buf, dst)
	if err != nil {
		return fmt.Errorf("%w: %v", dnxerr.ErrSend, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write %d/%d bytes", dnxerr.ErrSend, n, len(buf))
	}
	return nil
}

func (c *udpChannel) Recv(timeout time.Duration) ([]byte, string, error) {
	if timeout < 0 {
		return nil, "", fmt.Errorf("%w: negative timeout", dnxerr.ErrInvalid)
	}
	deadline := time.Now().Add(timeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, "", fmt.Errorf("%w: %v", dnxerr.ErrReceive, err)
	}
	buf := make([]byte, MaxDatagramSize)
	n, peer, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, "", dnxerr.ErrTimeout
		}
		return nil, "", fmt.Errorf("%w: %v", dnxerr.ErrReceive, err)
	}
	return buf[:n], peer.String(), nil
}

func (c *udpChannel) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

func (c *udpChannel) Close() error {
	return c.conn.Close()
}
