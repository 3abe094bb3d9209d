package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnxgo/dnxgo/pkg/xid"
)

func tok(serial uint64, ttl time.Duration) Token {
	return Token{
		WorkerXID:      xid.XID{Kind: xid.KindWorker, Serial: serial},
		Address:        "10.0.0.1:9001",
		JobCapacity:    1,
		TTLSecs:        uint32(ttl.Seconds()),
		ExpiresInstant: time.Now().Add(ttl),
		Hostname:       "host1",
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	r, err := New(4, nil)
	require.NoError(t, err)

	r.Enqueue(tok(1, time.Minute))
	r.Enqueue(tok(2, time.Minute))

	got, err := r.Dequeue(time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.WorkerXID.Serial)

	got, err = r.Dequeue(time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.WorkerXID.Serial)

	_, err = r.Dequeue(time.Now())
	assert.Error(t, err)
}

func TestDequeueDiscardsExpiredEntries(t *testing.T) {
	var events []string
	r, err := New(4, func(event string, _ Token) { events = append(events, event) })
	require.NoError(t, err)

	r.Enqueue(tok(1, -time.Second)) // already expired
	r.Enqueue(tok(2, -time.Second)) // already expired
	r.Enqueue(tok(3, time.Minute))

	got, err := r.Dequeue(time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.WorkerXID.Serial)
	assert.Contains(t, events, "expired")

	expiredCount := 0
	for _, e := range events {
		if e == "expired" {
			expiredCount++
		}
	}
	assert.Equal(t, 2, expiredCount)
}

func TestOverflowDropsOldest(t *testing.T) {
	var dropped []uint64
	r, err := New(2, func(event string, t Token) {
		if event == "overflow-dropped" {
			dropped = append(dropped, t.WorkerXID.Serial)
		}
	})
	require.NoError(t, err)

	r.Enqueue(tok(1, time.Minute))
	r.Enqueue(tok(2, time.Minute))
	r.Enqueue(tok(3, time.Minute)) // registry full: serial 1 must be dropped

	require.Equal(t, []uint64{1}, dropped)
	assert.Equal(t, 2, r.Len())

	got, err := r.Dequeue(time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.WorkerXID.Serial, "the surviving oldest entry should be serial 2")
}

func TestRemoveMatchingDeregisters(t *testing.T) {
	var events []string
	r, err := New(4, func(event string, _ Token) { events = append(events, event) })
	require.NoError(t, err)

	r.Enqueue(tok(1, time.Minute))
	r.Enqueue(tok(2, time.Minute))

	found := r.RemoveMatching(xid.XID{Kind: xid.KindWorker, Serial: 1})
	assert.True(t, found)
	assert.Equal(t, 1, r.Len())
	assert.Contains(t, events, "deregistered")

	found = r.RemoveMatching(xid.XID{Kind: xid.KindWorker, Serial: 99})
	assert.False(t, found)
}

func TestRemoveMatchingOnExpiredTokenLogsDeregisteredNotExpired(t *testing.T) {
	var events []string
	r, err := New(4, func(event string, _ Token) { events = append(events, event) })
	require.NoError(t, err)

	r.Enqueue(tok(1, -time.Second))
	found := r.RemoveMatching(xid.XID{Kind: xid.KindWorker, Serial: 1})
	require.True(t, found)

	assert.Equal(t, []string{"registered", "deregistered"}, events,
		"an administrative deregister must not be reported as a passive expiry")
}

func TestRemoveAllDrains(t *testing.T) {
	r, err := New(4, nil)
	require.NoError(t, err)
	r.Enqueue(tok(1, time.Minute))
	r.Enqueue(tok(2, time.Minute))
	r.RemoveAll()
	assert.Equal(t, 0, r.Len())
	_, err = r.Dequeue(time.Now())
	assert.Error(t, err)
}
