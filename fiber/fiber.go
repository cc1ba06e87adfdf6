// Package fiber implements the cooperative scheduling primitives that
// reactor treats as an external collaborator: a Fiber with switch-to-scheduler
// semantics and a RunQueue of fibers waiting for their turn.
//
// Go has no stackful-coroutine primitive in its standard library, so each
// Fiber here is backed by a goroutine parked on a channel receive. Only one
// fiber (or the scheduler itself) is ever actually running at a time on a
// given reactor's owning goroutine: Resume hands control to a fiber and
// blocks until that fiber suspends again or returns, which is what gives
// callers the single-threaded cooperative semantics the reactor assumes.
package fiber

import "sync/atomic"

var nextID uint64

// Fiber is a cooperatively scheduled execution context with its own
// goroutine stack, switched explicitly via SwitchToScheduler/Resume.
type Fiber struct {
	id   uint64
	in   chan any
	out  chan struct{}
	done atomic.Bool
}

// Spawn starts fn in a new fiber. The fiber does not begin running until
// the scheduler calls Resume on it for the first time.
func Spawn(fn func(f *Fiber)) *Fiber {
	f := &Fiber{
		id:  atomic.AddUint64(&nextID, 1),
		in:  make(chan any),
		out: make(chan struct{}),
	}
	go func() {
		<-f.in
		fn(f)
		f.done.Store(true)
		f.out <- struct{}{}
	}()
	return f
}

// ID returns a value unique to this fiber for the life of the process.
func (f *Fiber) ID() uint64 { return f.id }

// Done reports whether the fiber's function has returned.
func (f *Fiber) Done() bool { return f.done.Load() }

// SwitchToScheduler suspends the calling fiber and hands control back to
// whichever goroutine called Resume on it. It returns the value passed to
// the next Resume call. Per the suspension-primitive contract, any watcher
// the caller armed must be stopped before this value is consumed.
func (f *Fiber) SwitchToScheduler() any {
	f.out <- struct{}{}
	return <-f.in
}

// Resume transfers control to f with the given resume value and blocks
// until f suspends again (via SwitchToScheduler) or returns. It must only
// be called by the scheduler driving f's reactor thread, never concurrently
// with another Resume of the same fiber.
func Resume(f *Fiber, value any) {
	f.in <- value
	<-f.out
}

// Cancel is the exception-like sentinel scheduled into a fiber to cancel
// whatever it is suspended on. Operations built on await/snooze must check
// their resume value for Cancel and propagate Err immediately, after
// stopping any watcher they armed.
type Cancel struct {
	Err error
}

func (c Cancel) Error() string { return c.Err.Error() }

// Unwrap exposes the underlying cause so errors.Is/errors.As against it
// work through a Cancel the same way they would against the bare error.
func (c Cancel) Unwrap() error { return c.Err }

// AsCancel reports whether v is a Cancel sentinel and returns it.
func AsCancel(v any) (Cancel, bool) {
	c, ok := v.(Cancel)
	return c, ok
}

// Schedule makes f runnable with the given resume value by enqueuing it
// on rq, the "schedule(fiber, value)" external primitive spec.md assumes.
// Used directly by callers that wake a fiber parked in WaitEvent, and by
// cancellation (scheduling a peer with a Cancel value).
func Schedule(rq *RunQueue, f *Fiber, value any) {
	rq.PushBack(f, value)
}
