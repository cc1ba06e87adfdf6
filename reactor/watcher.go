package reactor

import (
	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/internal/poller"
)

// ioWatcher is the IO-readiness watcher record (spec.md §3 "Watcher
// record", IO readiness variant). It is always declared as a local
// variable in the calling goroutine's stack frame and passed by
// pointer — never heap-allocated independently — so its address stays
// stable for exactly the armed interval, satisfying invariant 1. Because
// the owning goroutine is parked on a channel receive (fiber.Fiber's
// resume channel) for that entire interval, Go's stack-copying GC never
// relocates it: stack growth only happens on function calls, and a
// blocked goroutine makes none until it is resumed.
type ioWatcher struct {
	f *fiber.Fiber
}

// timerWatcher is the timer variant.
type timerWatcher struct {
	f *fiber.Fiber
}

// childWatcher is the child-exit variant.
type childWatcher struct {
	f *fiber.Fiber
}

// waitFDWithWatcher arms readiness watching for ev on fd, suspends the
// calling fiber, and disarms on the way out (spec.md §4.2). Reusing the
// same *ioWatcher across repeated calls on the same fd (as read/write
// loops do) reuses the stamped fiber rather than re-stamping it.
func (r *Reactor) waitFDWithWatcher(cur *fiber.Fiber, w *ioWatcher, fd int, ev poller.Event) error {
	if w.f == nil {
		w.f = cur
	}
	f := w.f

	if err := r.mp.StartIO(fd, ev, func() {
		r.rq.PushBack(f, nil)
	}); err != nil {
		return err
	}

	v := r.await(cur)

	// Invariant 1 requires the watcher be stopped before the resume
	// value is consumed, regardless of whether that value is a
	// cancellation — stop unconditionally before inspecting v.
	_ = r.mp.StopIO(fd, ev)

	if c, ok := fiber.AsCancel(v); ok {
		return c
	}
	return nil
}
