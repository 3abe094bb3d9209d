// Package plugin invokes external check commands the way a worker thread
// does: fork a shell, read its first line of output, enforce a wall-clock
// timeout, and remap its exit status into the Nagios plugin result codes.
// Grounded on original_source/client/dnxPlugin.c's dnxPluginExternal, using
// os/exec plus golang.org/x/sys/unix for process-group control in place of
// the original's raw select()/pfopen() pipe plumbing — see
// cuemby-warren/pkg/health/exec.go for the Go idiom of wrapping exec.Cmd
// with a context timeout.
package plugin

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// ResultCode is a Nagios-style plugin exit status.
type ResultCode int

const (
	OK ResultCode = iota
	Warning
	Critical
	Unknown
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	case Unknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

func inRange(code int) bool {
	return code >= int(OK) && code <= int(Unknown)
}

// Result is the outcome of one plugin invocation.
type Result struct {
	Code   ResultCode
	Output string
}

// Invoker runs check command lines as shell subprocesses.
type Invoker struct {
	// PluginDir, if non-empty, replaces the first whitespace-delimited
	// token of every command line with PluginDir/basename(token) before
	// exec, confining plugins to a single directory. Empty means run
	// under the shell's PATH unmodified.
	PluginDir string
}

// New returns an Invoker. pluginDir may be empty.
func New(pluginDir string) *Invoker {
	return &Invoker{PluginDir: pluginDir}
}

func (inv *Invoker) rewrite(commandLine string) string {
	if inv.PluginDir == "" {
		return commandLine
	}
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return commandLine
	}
	rest := strings.TrimPrefix(commandLine, fields[0])
	return path.Join(inv.PluginDir, path.Base(fields[0])) + rest
}

// Invoke runs commandLine under "/bin/sh -c", in its own process group, and
// blocks up to timeout for output. On timeout it signals the whole process
// group SIGTERM so no orphaned grandchildren survive the call.
func (inv *Invoker) Invoke(ctx context.Context, commandLine string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		return Result{}, fmt.Errorf("%w: plugin timeout must be positive", dnxerr.ErrInvalid)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", inv.rewrite(commandLine))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stdout pipe: %v", dnxerr.ErrOpen, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stderr pipe: %v", dnxerr.ErrOpen, err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: plugin start: %v", dnxerr.ErrOpen, err)
	}
	pgid := cmd.Process.Pid

	var stdoutLine, stderrLine string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); stdoutLine = firstLine(stdoutPipe) }()
	go func() { defer wg.Done(); stderrLine = firstLine(stderrPipe) }()

	drained := make(chan struct{})
	go func() { wg.Wait(); close(drained) }()

	select {
	case <-drained:
		waitErr := cmd.Wait()
		return buildResult(stdoutLine, stderrLine, exitCode(waitErr)), nil
	case <-time.After(timeout):
		_ = unix.Kill(-pgid, unix.SIGTERM)
		<-drained
		_ = cmd.Wait()
		return Result{Code: Unknown, Output: "(DNX: Plugin Timeout)"}, nil
	case <-ctx.Done():
		_ = unix.Kill(-pgid, unix.SIGTERM)
		<-drained
		_ = cmd.Wait()
		return Result{}, ctx.Err()
	}
}

func firstLine(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1024)
	scanner.Buffer(buf, 1024)
	var first string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first == "" && line != "" {
			first = line
		}
	}
	return first
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return int(OK)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return int(Unknown)
}

func buildResult(stdoutLine, stderrLine string, code int) Result {
	var output string
	var prefix bytes.Buffer

	switch {
	case stdoutLine != "":
		output = stdoutLine
	case stderrLine != "":
		output = stderrLine
		prefix.WriteString("[STDERR]")
	default:
		output = "(DNX: No output!)"
	}

	resultCode := ResultCode(code)
	if !inRange(code) {
		fmt.Fprintf(&prefix, "[EC %d]", code)
		resultCode = Unknown
	}

	if prefix.Len() > 0 {
		output = prefix.String() + output
	}
	return Result{Code: resultCode, Output: output}
}
