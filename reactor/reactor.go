// Package reactor implements the per-thread fiber-oriented I/O reactor:
// a single-threaded event loop multiplexing non-blocking I/O, timers,
// child-process waits and cross-thread wake-ups on behalf of
// cooperatively scheduled fibers (package fiber).
//
// Grounded on socket515-gaio's watcher/loop split (one multiplexer, one
// owning goroutine, suspend-on-readiness), generalized from gaio's
// proactor/OpResult delivery model to the synchronous-looking
// suspend/resume model spec.md describes.
package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/internal/plog"
	"github.com/gogainda/polyphony/internal/poller"
)

var nextReactorID uint64

var (
	defaultMu      sync.Mutex
	defaultPoller  poller.Poller
	defaultClaimed bool
)

// acquirePoller returns a multiplexer for a new Reactor. The first caller
// across the process (that didn't ask for a private one) claims the
// process-wide default slot; every later caller gets a private
// multiplexer, mirroring spec.md §3's "Created once per thread (the
// first reactor created on the main thread binds the default
// multiplexer; others allocate a private one)".
func acquirePoller(private bool) (mp poller.Poller, isDefault bool, err error) {
	if private {
		mp, err = poller.New()
		return mp, false, err
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if !defaultClaimed {
		mp, err = poller.New()
		if err != nil {
			return nil, false, err
		}
		defaultPoller = mp
		defaultClaimed = true
		return mp, true, nil
	}

	mp, err = poller.New()
	return mp, false, err
}

// reclaimDefault resets the process-wide default slot and installs mp as
// the new default, unconditionally. Used only by PostFork: after fork
// only the calling thread survives, so it's always safe to re-claim.
func reclaimDefault(mp poller.Poller) {
	defaultMu.Lock()
	defaultPoller = mp
	defaultClaimed = true
	defaultMu.Unlock()
}

// Reactor is a per-thread singleton driving one event loop. Every method
// except Break must be called only from the goroutine that owns this
// Reactor (spec.md §5: "not locked — only touched on the owning
// thread").
type Reactor struct {
	id uint64

	mp        poller.Poller
	isDefault bool

	breakAsync    *poller.Async
	running       atomic.Bool
	refCount      int64
	runNoWaitCount int

	rq *fiber.RunQueue // last-seen run queue, set at the top of Poll

	traceHook func(event TraceEvent, f *fiber.Fiber)
	log       zerolog.Logger
}

// New creates a Reactor, installing the default multiplexer (if
// unclaimed) or a private one, plus an uncounted break-async watcher.
func New(opts ...Option) (*Reactor, error) {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	mp, isDefault, err := acquirePoller(cfg.private)
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		id:        atomic.AddUint64(&nextReactorID, 1),
		mp:        mp,
		isDefault: isDefault,
		traceHook: cfg.traceHook,
	}
	if cfg.hasLogger {
		r.log = plog.WithReactorID(cfg.logger, r.id)
	} else {
		r.log = plog.WithReactorID(plog.New("reactor"), r.id)
	}

	r.installBreakWatcher()
	r.log.Debug().Bool("default_multiplexer", isDefault).Msg("reactor initialized")
	return r, nil
}

func (r *Reactor) installBreakWatcher() {
	// The break-async watcher exists only so Break has something to
	// signal; it must never itself keep the loop alive, so it is never
	// reflected in PendingCount (internal/poller's NewAsync watchers are
	// deliberately excluded from pendingCount — see common.go).
	r.breakAsync = r.mp.NewAsync(func() {})
}

// Finalize stops the break-async watcher and, if this Reactor owns a
// private multiplexer (not the process-wide default), destroys it.
func (r *Reactor) Finalize() error {
	r.breakAsync.Stop()
	if r.isDefault {
		return nil
	}
	return r.mp.Close()
}

// PendingCount returns the number of currently armed IO, timer and child
// watchers (the break-async watcher is never counted).
func (r *Reactor) PendingCount() int { return r.mp.PendingCount() }

// Ref increments ref_count, keeping the enclosing scheduler from
// considering this reactor idle.
func (r *Reactor) Ref() { atomic.AddInt64(&r.refCount, 1) }

// Unref decrements ref_count.
func (r *Reactor) Unref() { atomic.AddInt64(&r.refCount, -1) }

// RefCount reports the current ref_count, used by the enclosing
// scheduler's idle check (run queue empty AND ref_count == 0).
func (r *Reactor) RefCount() int64 { return atomic.LoadInt64(&r.refCount) }

// await is the suspension primitive (§4.1): pre-increments ref_count,
// switches to the scheduler, decrements on return. The resume value is
// opaque to await — callers type-assert for fiber.Cancel themselves.
func (r *Reactor) await(cur *fiber.Fiber) any {
	r.Ref()
	if r.traceHook != nil {
		r.traceHook(TraceSwitchpoint, cur)
	}
	v := cur.SwitchToScheduler()
	if r.traceHook != nil {
		r.traceHook(TraceSwitchpoint, cur)
	}
	r.Unref()
	return v
}

// snooze (§4.3) re-enqueues the current fiber at the back of the run
// queue and switches to the scheduler, giving peers a turn.
func (r *Reactor) snooze(cur *fiber.Fiber) error {
	r.rq.PushBack(cur, nil)
	v := cur.SwitchToScheduler()
	if c, ok := fiber.AsCancel(v); ok {
		return c
	}
	return nil
}

// Poll drives one step of the loop (§4.4). Decision table:
//
//	nowait && runNoWaitCount < max(runnable, 10)  -> count++, return (drain run queue)
//	nowait && threshold crossed                   -> reset count, multiplexer nowait
//	!nowait                                        -> reset count, multiplexer once (blocks)
func (r *Reactor) Poll(nowait bool, current *fiber.Fiber, rq *fiber.RunQueue) error {
	r.rq = rq

	if nowait {
		threshold := rq.Len()
		if threshold < 10 {
			threshold = 10
		}
		if r.runNoWaitCount < threshold {
			r.runNoWaitCount++
			return nil
		}
	}
	r.runNoWaitCount = 0

	mode := poller.RunOnce
	if nowait {
		mode = poller.RunNoWait
	}

	if r.traceHook != nil {
		r.traceHook(TraceLoopEnter, current)
	}
	r.running.Store(true)
	err := r.mp.Run(mode)
	r.running.Store(false)
	if r.traceHook != nil {
		r.traceHook(TraceLoopLeave, current)
	}
	return err
}

// Break idempotently interrupts a blocked Poll call. Safe from any
// goroutine, including one running on a different OS thread.
func (r *Reactor) Break() bool {
	if !r.running.Load() {
		return false
	}
	r.breakAsync.Send()
	return true
}
