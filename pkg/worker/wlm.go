// Package worker implements the client side: the work-load manager that
// grows and shrinks a pool of worker goroutines, the per-goroutine worker
// loop, the management listener, and pidfile handling. Grounded on
// original_source/client/dnxWLM.c (pool state machine) and dnxWorker.c
// (per-thread loop); the Go-side goroutine/mutex idiom follows
// cuemby-warren's pkg/worker/health_monitor.go ticker-with-stopCh pattern.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnxgo/dnxgo/pkg/config"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/metrics"
	"github.com/dnxgo/dnxgo/pkg/plugin"
)

// SlotState is a worker-pool slot's lifecycle state.
type SlotState int

const (
	Dead SlotState = iota
	Running
	Zombie
)

// slot is one worker-pool entry. Exclusively owned by the WLM; the worker
// goroutine itself only ever touches its own slot's counters through
// methods that take the WLM's lock.
type slot struct {
	state              SlotState
	cancel             context.CancelFunc
	threadStartInstant time.Time
	jobStartInstant    time.Time
	okCount            int
	failCount          int
	timeoutRetries     int
	requestSerial      uint64
}

// WLM is the work-load manager: it owns the worker-goroutine pool and the
// single goroutine that grows/shrinks it per §4.7's state machine.
type WLM struct {
	cfg    config.ClientConfig
	inv    *plugin.Invoker
	dialer Dialer

	mu        sync.Mutex
	slots     []*slot
	terminate bool
	wakeCh    chan struct{}

	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New builds a WLM. poolMax slots are pre-allocated DEAD so grow() never
// needs to resize the slice while workers are running.
func New(cfg config.ClientConfig, inv *plugin.Invoker, dialer Dialer) *WLM {
	slots := make([]*slot, cfg.PoolMax)
	for i := range slots {
		slots[i] = &slot{state: Dead}
	}
	return &WLM{
		cfg:    cfg,
		inv:    inv,
		dialer: dialer,
		slots:  slots,
		wakeCh: make(chan struct{}, 1),
		logger: log.WithComponent("wlm"),
	}
}

// Start launches the WLM's own management goroutine, which in turn starts
// poolInitial worker goroutines.
func (w *WLM) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Wait blocks until the WLM goroutine and every worker goroutine it
// started have exited.
func (w *WLM) Wait() {
	w.wg.Wait()
}

// RequestStop sets the termination flag and wakes the manager loop; the
// manager honors it once shutdownGraceSecs has elapsed, matching §4.7's
// "set the termination flag and signal the condition variable" sequence.
func (w *WLM) RequestStop() {
	w.mu.Lock()
	w.terminate = true
	w.mu.Unlock()
	w.wake()
}

func (w *WLM) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// ActiveThreads returns the current count of RUNNING or ZOMBIE slots.
func (w *WLM) ActiveThreads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeThreadsLocked()
}

func (w *WLM) activeThreadsLocked() int {
	n := 0
	for _, s := range w.slots {
		if s.state != Dead {
			n++
		}
	}
	return n
}

// ActiveJobs returns the number of RUNNING slots currently mid-job
// (jobStartInstant set and not yet cleared by the worker loop).
func (w *WLM) ActiveJobs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, s := range w.slots {
		if s.state == Running && !s.jobStartInstant.IsZero() {
			n++
		}
	}
	return n
}

func (w *WLM) run(ctx context.Context) {
	defer w.wg.Done()
	w.growTo(ctx, w.cfg.PoolInitial)

	pollInterval := time.Duration(w.cfg.PollIntervalSecs) * time.Second
	var terminationDeadline time.Time

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.wakeCh:
		case <-time.After(pollInterval):
		}

		w.mu.Lock()
		terminating := w.terminate
		w.mu.Unlock()

		if terminating {
			if terminationDeadline.IsZero() {
				terminationDeadline = time.Now().Add(time.Duration(w.cfg.ShutdownGraceSecs) * time.Second)
			}
			if time.Now().After(terminationDeadline) {
				w.shutdown()
				return
			}
		}

		w.reapZombies()

		active := w.ActiveThreads()
		activeJobs := w.ActiveJobs()
		metrics.PoolActiveThreads.Set(float64(active))
		metrics.PoolActiveJobs.Set(float64(activeJobs))

		if !terminating && (activeJobs == active || active < w.cfg.PoolInitial) {
			w.grow(ctx, w.cfg.PoolIncrement)
		}
	}
}

func (w *WLM) reapZombies() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.slots {
		if s.state == Zombie {
			s.state = Dead
		}
	}
}

// grow starts up to k additional worker goroutines in DEAD slots, capped
// at poolMax.
func (w *WLM) grow(ctx context.Context, k int) {
	w.mu.Lock()
	current := w.activeThreadsLocked()
	room := w.cfg.PoolMax - current
	if room <= 0 {
		w.mu.Unlock()
		return
	}
	if k > room {
		k = room
	}
	var toStart []int
	for i := 0; i < len(w.slots) && len(toStart) < k; i++ {
		if w.slots[i].state == Dead {
			toStart = append(toStart, i)
		}
	}
	for _, idx := range toStart {
		wctx, cancel := context.WithCancel(ctx)
		w.slots[idx] = &slot{state: Running, cancel: cancel, threadStartInstant: time.Now()}
		w.wg.Add(1)
		go w.workerLoop(wctx, idx)
	}
	w.mu.Unlock()
}

func (w *WLM) growTo(ctx context.Context, target int) {
	w.grow(ctx, target)
}

func (w *WLM) shutdown() {
	w.mu.Lock()
	for _, s := range w.slots {
		if s.state == Running && s.cancel != nil {
			s.cancel()
		}
	}
	w.mu.Unlock()
}

// markZombie is called by a worker goroutine as it exits gracefully after
// too many consecutive timeouts, so the WLM can reap and reuse the slot.
func (w *WLM) markZombie(idx int) {
	w.mu.Lock()
	w.slots[idx].state = Zombie
	w.mu.Unlock()
}

// poolBelowMin reports whether shrinking the caller's own slot would take
// activeThreads below poolMin — the worker loop checks this before
// choosing to exit on a consecutive-timeout overrun.
func (w *WLM) poolBelowMin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeThreadsLocked() <= w.cfg.PoolMin
}

func (w *WLM) recordJobStart(idx int) {
	w.mu.Lock()
	w.slots[idx].jobStartInstant = time.Now()
	w.mu.Unlock()
}

func (w *WLM) recordJobEnd(idx int, ok bool) {
	w.mu.Lock()
	s := w.slots[idx]
	s.jobStartInstant = time.Time{}
	if ok {
		s.okCount++
	} else {
		s.failCount++
	}
	w.mu.Unlock()
}
