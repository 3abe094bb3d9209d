package worker

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// Pidfile is an advisory-locked pid file, per SPEC_FULL.md §6.4 and
// original_source/client/dnxClientMain.c's createPidFile/removePidFile.
// Only written when the client daemonizes (not under -d); held open for
// the process lifetime so the flock is released even on a crash.
type Pidfile struct {
	f    *os.File
	path string
}

// WritePidfile creates (or reuses) path, takes an exclusive non-blocking
// advisory lock, and writes the current pid. A locked path means another
// instance is already running at this path.
func WritePidfile(path string) (*Pidfile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: pidfile %s: %v", dnxerr.ErrOpen, path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: pidfile %s already locked: %v", dnxerr.ErrAlready, path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Pidfile{f: f, path: path}, nil
}

// Release unlocks, closes, and removes the pidfile. Called on clean
// shutdown of a daemonized client.
func (p *Pidfile) Release() error {
	unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	p.f.Close()
	return os.Remove(p.path)
}
