package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

func TestOpenActiveRejectsAnyAddress(t *testing.T) {
	_, err := OpenActive("udp://0.0.0.0:9000")
	require.Error(t, err)
	_, err = OpenActive("udp://0:9000")
	require.Error(t, err)
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	_, err := OpenPassive("tcp://127.0.0.1:9000")
	require.Error(t, err)
	_, err = OpenActive("msgq://127.0.0.1:9000")
	require.Error(t, err)
}

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := OpenPassive("not-a-url")
	require.Error(t, err)
	_, err = OpenPassive("udp://missing-port")
	require.Error(t, err)
}

func TestUDPLoopbackSendRecv(t *testing.T) {
	server, err := OpenPassive("udp://127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := OpenActive("udp://" + server.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("hello"), ""))

	buf, peer, err := server.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.NotEmpty(t, peer)

	// Reply to the captured peer address, proving recv's peer capture is
	// usable to route a response back to the originator.
	require.NoError(t, server.Send([]byte("world"), peer))
	buf, _, err = client.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))
}

func TestRecvTimeout(t *testing.T) {
	ch, err := OpenPassive("udp://127.0.0.1:0")
	require.NoError(t, err)
	defer ch.Close()

	_, _, err = ch.Recv(50 * time.Millisecond)
	assert.ErrorIs(t, err, dnxerr.ErrTimeout)
}

func TestRecvRejectsNegativeTimeout(t *testing.T) {
	ch, err := OpenPassive("udp://127.0.0.1:0")
	require.NoError(t, err)
	defer ch.Close()

	_, _, err = ch.Recv(-1 * time.Second)
	require.Error(t, err)
}

func TestMockNetworkRoutesByAddress(t *testing.T) {
	net := NewMockNetwork()
	a, err := net.Open("a")
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Open("b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte("ping"), "b"))
	buf, from, err := b.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	assert.Equal(t, "a", from)
}

func TestMockNetworkUnknownAddress(t *testing.T) {
	net := NewMockNetwork()
	a, err := net.Open("a")
	require.NoError(t, err)
	defer a.Close()

	err = a.Send([]byte("x"), "nowhere")
	assert.Error(t, err)
}
