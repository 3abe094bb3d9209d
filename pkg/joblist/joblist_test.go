package joblist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnxgo/dnxgo/pkg/registry"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

func newJob(gen *xid.Generator, cmd string, ttl time.Duration) NewJob {
	return NewJob{
		XID:            gen.Next(),
		CommandLine:    cmd,
		StartInstant:   time.Now(),
		TimeoutSecs:    int(ttl.Seconds()),
		ExpiresInstant: time.Now().Add(ttl),
	}
}

func TestAddDispatchCollectRoundTrip(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)

	gen := xid.NewGenerator(xid.KindJob)
	x, err := jl.Add(newJob(gen, "check_ping", time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, x.Slot)
	assert.Equal(t, 1, jl.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := jl.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, InProgress, job.State)
	assert.True(t, job.XID.Equal(x))

	got, err := jl.Collect(x)
	require.NoError(t, err)
	assert.Equal(t, "check_ping", got.CommandLine)
	assert.Equal(t, 0, jl.Len())
}

func TestCollectUnknownXIDReturnsNotFound(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)

	_, err = jl.Collect(xid.XID{Kind: xid.KindJob, Serial: 99, Slot: 0})
	assert.Error(t, err)
}

func TestCollectTwiceReturnsNotFoundSecondTime(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	x, err := jl.Add(newJob(gen, "check_disk", time.Minute))
	require.NoError(t, err)

	_, err = jl.Collect(x)
	require.NoError(t, err)

	_, err = jl.Collect(x)
	assert.Error(t, err, "collecting the same xid twice must NOT_FOUND the second time")
}

func TestCapacityFull(t *testing.T) {
	jl, err := New(2)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	_, err = jl.Add(newJob(gen, "a", time.Minute))
	require.NoError(t, err)

	// Second slot is reserved as the perpetual gap between tail and head so
	// that tail==head means "totally empty", not "totally full".
	_, err = jl.Add(newJob(gen, "b", time.Minute))
	assert.Error(t, err)
}

func TestOccupiedSlotCountInvariant(t *testing.T) {
	jl, err := New(8)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	var added, collected int
	var xids []xid.XID
	for i := 0; i < 5; i++ {
		x, err := jl.Add(newJob(gen, "c", time.Minute))
		require.NoError(t, err)
		xids = append(xids, x)
		added++
	}
	assert.Equal(t, added-collected, jl.Len())

	// collect out of insertion order
	for _, i := range []int{2, 0, 4} {
		_, err := jl.Collect(xids[i])
		require.NoError(t, err)
		collected++
	}
	assert.Equal(t, added-collected, jl.Len())
}

func TestCollectOutOfOrderLeavesHoleThenHeadSkipsOnEarlierCollect(t *testing.T) {
	jl, err := New(8)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	x0, err := jl.Add(newJob(gen, "a", time.Minute))
	require.NoError(t, err)
	x1, err := jl.Add(newJob(gen, "b", time.Minute))
	require.NoError(t, err)
	x2, err := jl.Add(newJob(gen, "c", time.Minute))
	require.NoError(t, err)

	// collect the middle one first: leaves a hole, head must not move yet.
	_, err = jl.Collect(x1)
	require.NoError(t, err)
	assert.Equal(t, 2, jl.Len())

	// now collect the oldest: head should skip straight past the hole left
	// by x1 and land past x0 too, stopping at x2.
	_, err = jl.Collect(x0)
	require.NoError(t, err)
	assert.Equal(t, 1, jl.Len())

	_, err = jl.Collect(x2)
	require.NoError(t, err)
	assert.Equal(t, 0, jl.Len())
}

func TestExpireRemovesExpiredJobsBoundedByMaxBatch(t *testing.T) {
	jl, err := New(8)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	// three already-expired jobs, one fresh one
	for i := 0; i < 3; i++ {
		_, err := jl.Add(newJob(gen, "expired", -time.Second))
		require.NoError(t, err)
	}
	freshX, err := jl.Add(newJob(gen, "fresh", time.Hour))
	require.NoError(t, err)

	expired := jl.Expire(time.Now(), 2)
	assert.Len(t, expired, 2, "maxBatch must bound how many are reaped per call")
	assert.Equal(t, 2, jl.Len(), "one expired job plus the fresh job remain")

	expired = jl.Expire(time.Now(), 10)
	assert.Len(t, expired, 1)
	assert.Equal(t, 1, jl.Len())

	// the fresh job must still be collectible
	_, err = jl.Collect(freshX)
	assert.NoError(t, err)
}

func TestExpireDoesNotStopAtFirstUnexpiredSlotGivenVariableTimeouts(t *testing.T) {
	jl, err := New(8)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	// inserted first but with a long timeout: not expired yet.
	longLived, err := jl.Add(newJob(gen, "long", time.Hour))
	require.NoError(t, err)
	// inserted second but already expired: an early-stop scan would miss
	// this because it comes after the unexpired slot in ring order.
	_, err = jl.Add(newJob(gen, "short", -time.Second))
	require.NoError(t, err)

	expired := jl.Expire(time.Now(), 10)
	require.Len(t, expired, 1)
	assert.Equal(t, "short", expired[0].CommandLine)

	_, err = jl.Collect(longLived)
	assert.NoError(t, err, "the long-lived job must survive the expire pass untouched")
}

func TestDispatchBlocksUntilJobAvailableThenUnblocksOnAdd(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	resultCh := make(chan Job, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		job, err := jl.Dispatch(ctx)
		resultCh <- job
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let Dispatch block first
	x, err := jl.Add(newJob(gen, "check_load", time.Minute))
	require.NoError(t, err)

	select {
	case job := <-resultCh:
		require.NoError(t, <-errCh)
		assert.True(t, job.XID.Equal(x))
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not unblock after Add")
	}
}

func TestDispatchReturnsContextErrorOnCancel(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = jl.Dispatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssignedWorkerFieldRoundTrips(t *testing.T) {
	jl, err := New(4)
	require.NoError(t, err)
	gen := xid.NewGenerator(xid.KindJob)

	tok := registry.Token{Address: "10.0.0.5:9001"}
	job := newJob(gen, "check_mem", time.Minute)
	job.AssignedWorker = tok

	x, err := jl.Add(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dispatched, err := jl.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, tok, dispatched.AssignedWorker)
	assert.True(t, dispatched.XID.Equal(x))
}
