package reactor

import (
	"github.com/rs/zerolog"

	"github.com/gogainda/polyphony/fiber"
)

// TraceEvent identifies a point in the reactor's loop the optional trace
// hook is notified of. The original C backend's COND_TRACE/TRACE macros
// fire at the equivalent points (fiber_ev_loop_enter, fiber_ev_loop_leave,
// fiber_switchpoint); we keep the hook itself external (spec: "the
// tracing hook ... treated as external") but name the attachment points.
type TraceEvent int

const (
	// TraceLoopEnter fires immediately before Poll drives the multiplexer.
	TraceLoopEnter TraceEvent = iota
	// TraceLoopLeave fires immediately after the multiplexer call returns.
	TraceLoopLeave
	// TraceSwitchpoint fires before and after each suspension in await
	// (readiness, sleep, waitpid and wait-event); snooze does not fire it.
	TraceSwitchpoint
)

type config struct {
	private    bool
	traceHook  func(event TraceEvent, f *fiber.Fiber)
	logger     zerolog.Logger
	hasLogger  bool
}

// Option configures a Reactor at construction, the functional-options
// idiom used throughout the pack (go-utilpkg/eventloop, jacobsa-fuse)
// rather than a mutable config struct.
type Option func(*config)

// WithPrivateMultiplexer forces this Reactor to allocate its own
// multiplexer rather than attempt to claim the process-wide default slot.
func WithPrivateMultiplexer() Option {
	return func(c *config) { c.private = true }
}

// WithTraceHook attaches a caller-supplied trace callback, invoked
// synchronously on the reactor's own goroutine at each TraceEvent. The
// default is a no-op, keeping tracing fully external per spec.
func WithTraceHook(fn func(event TraceEvent, f *fiber.Fiber)) Option {
	return func(c *config) { c.traceHook = fn }
}

// WithLogger overrides the reactor's lifecycle logger (default: a
// component-tagged sub-logger of plog.Base()).
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l; c.hasLogger = true }
}
