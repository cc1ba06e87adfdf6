package reactor

import (
	"syscall"
	"time"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/internal/poller"
)

// IOMode selects which readiness wait_io arms, resolving spec.md §9's
// second Open Question: a raw boolean "write?" is replaced with a
// three-value enum that also allows waiting on both directions at once.
type IOMode int

const (
	IORead IOMode = iota
	IOWrite
	IOReadWrite
)

// WaitStatus wraps a reaped child's raw wait status. Spec.md §9's first
// Open Question flags that `raw_status >> 8` discards the signal/core
// bits and conflates a signalled exit with status 0; we keep Raw
// untouched and expose ExitStatus/Signaled/Signal as derived accessors
// instead of committing to the lossy shift at capture time.
type WaitStatus struct {
	Pid int
	Raw syscall.WaitStatus
}

func (w WaitStatus) ExitStatus() int        { return w.Raw.ExitStatus() }
func (w WaitStatus) Signaled() bool         { return w.Raw.Signaled() }
func (w WaitStatus) Signal() syscall.Signal { return w.Raw.Signal() }

// Sleep suspends the calling fiber for d (§4.12).
func (r *Reactor) Sleep(cur *fiber.Fiber, d time.Duration) error {
	var w timerWatcher
	w.f = cur

	id := r.mp.AddTimer(d, func() {
		r.rq.PushBack(w.f, nil)
	})

	v := r.await(cur)
	r.mp.StopTimer(id)

	if c, ok := fiber.AsCancel(v); ok {
		return c
	}
	return nil
}

// Waitpid suspends the calling fiber until pid exits, returning its
// wait status (§4.12).
func (r *Reactor) Waitpid(cur *fiber.Fiber, pid int) (WaitStatus, error) {
	var w childWatcher
	w.f = cur

	var status syscall.WaitStatus
	if err := r.mp.WatchChild(pid, func(st syscall.WaitStatus) {
		status = st
		r.rq.PushBack(w.f, nil)
	}); err != nil {
		return WaitStatus{}, err
	}

	v := r.await(cur)
	if c, ok := fiber.AsCancel(v); ok {
		return WaitStatus{}, c
	}
	return WaitStatus{Pid: pid, Raw: status}, nil
}

// WaitEvent arms a bare async watcher with no callback of its own and
// suspends; the only way to resume the calling fiber is an explicit
// external fiber.Schedule call against it (§4.12). raiseOnCancel
// controls whether a fiber.Cancel resume value is returned as an error
// (true) or passed through verbatim as the returned value (false).
func (r *Reactor) WaitEvent(cur *fiber.Fiber, raiseOnCancel bool) (any, error) {
	a := r.mp.NewAsync(func() {})
	defer a.Stop()

	v := r.await(cur)
	if raiseOnCancel {
		if c, ok := fiber.AsCancel(v); ok {
			return nil, c
		}
	}
	return v, nil
}

// WaitIO suspends until h is ready for mode, without performing any
// syscall itself — a bare readiness wait for callers that want to drive
// their own I/O attempt afterward.
func (r *Reactor) WaitIO(cur *fiber.Fiber, h *Handle, mode IOMode) error {
	if err := r.ensureNonblock(h); err != nil {
		return err
	}

	var ev poller.Event
	switch mode {
	case IORead:
		ev = poller.EventRead
	case IOWrite:
		ev = poller.EventWrite
	case IOReadWrite:
		ev = poller.EventRead | poller.EventWrite
	}

	var w ioWatcher
	return r.waitFDWithWatcher(cur, &w, h.fd, ev)
}
