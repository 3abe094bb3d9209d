package plugin

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestInvokeSuccessReturnsStdoutFirstLine(t *testing.T) {
	inv := New("")
	res, err := inv.Invoke(context.Background(), "echo OK: all good", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Code)
	assert.Equal(t, "OK: all good", res.Output)
}

func TestInvokeMultilineStdoutUsesFirstNonEmptyLine(t *testing.T) {
	inv := New("")
	res, err := inv.Invoke(context.Background(), "printf 'first line\\nsecond line\\n'", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first line", res.Output)
}

func TestInvokeFallsBackToStderrWhenStdoutEmpty(t *testing.T) {
	inv := New("")
	res, err := inv.Invoke(context.Background(), "echo oops 1>&2", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "[STDERR]oops", res.Output)
}

func TestInvokeNoOutputAtAll(t *testing.T) {
	inv := New("")
	res, err := inv.Invoke(context.Background(), "true", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "(DNX: No output!)", res.Output)
	assert.Equal(t, OK, res.Code)
}

func TestInvokeNonStandardExitCodeRemappedToUnknown(t *testing.T) {
	inv := New("")
	res, err := inv.Invoke(context.Background(), "echo weird; exit 42", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Unknown, res.Code)
	assert.Equal(t, "[EC 42]weird", res.Output)
}

func TestInvokeWarningAndCriticalPassThrough(t *testing.T) {
	inv := New("")

	res, err := inv.Invoke(context.Background(), "echo warn; exit 1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Warning, res.Code)

	res, err = inv.Invoke(context.Background(), "echo crit; exit 2", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Critical, res.Code)
}

func TestInvokeTimeoutKillsProcessGroup(t *testing.T) {
	inv := New("")

	// spawn a grandchild via a subshell so killing only the direct child
	// would leave the sleep running; the process-group kill must take both.
	start := time.Now()
	res, err := inv.Invoke(context.Background(), "(sleep 5 &) ; sleep 5", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Unknown, res.Code)
	assert.Equal(t, "(DNX: Plugin Timeout)", res.Output)

	// the background sleep holds the output pipes open; Invoke drains them
	// before returning, so it only returns well before 5s if the
	// process-group kill took the grandchild too.
	assert.Less(t, time.Since(start), 2*time.Second, "the grandchild outlived the process-group kill")
}

func TestInvokeRejectsNonPositiveTimeout(t *testing.T) {
	inv := New("")
	_, err := inv.Invoke(context.Background(), "echo hi", 0)
	assert.Error(t, err)
}

func TestInvokePluginDirRewritesFirstToken(t *testing.T) {
	dir := t.TempDir()
	script := dir + "/check_mock"
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho rewritten\n"), 0o755))

	inv := New(dir)
	res, err := inv.Invoke(context.Background(), "check_mock --flag", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", res.Output)
}

func TestInvokeContextCancelStopsChild(t *testing.T) {
	inv := New("")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := inv.Invoke(ctx, "sleep 5", 10*time.Second)
		done <- res
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		require.Error(t, <-errCh)
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after context cancellation")
	}
}

// sanity check that unix.Kill with a negative pid targets the whole group,
// matching what Invoke relies on for timeout cleanup.
func TestKillProcessGroupSemantics(t *testing.T) {
	cmdPgid := os.Getpid()
	err := unix.Kill(-cmdPgid-1_000_000, syscall.Signal(0))
	assert.Error(t, err, "signalling a nonexistent process group must fail, confirming negative-pid addressing is live")
}
