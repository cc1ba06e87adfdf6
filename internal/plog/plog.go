// Package plog is the reactor module's structured logging seam: a thin
// rs/zerolog wrapper that gives every reactor instance its own named,
// leveled sub-logger, the same "one logger per component, fed through
// zerolog.Logger.With()" shape the pack's logiface-zerolog adapter builds
// around (see joeycumines-go-utilpkg/logiface-zerolog/zerolog.go's
// Logger.Z field and level mapping). Pulling in the full logiface
// abstraction layer would be scope the reactor itself doesn't need: this
// package talks to zerolog directly, which is exactly what logiface's own
// adapter does under the hood.
package plog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// Base returns the process-wide root logger, lazily initialized to write
// human-readable console output to stderr. Call SetOutput to replace the
// default writer.
func Base() zerolog.Logger {
	baseOnce.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
			With().
			Timestamp().
			Logger()
	})
	return base
}

// SetOutput redirects the base logger's writer. Intended for tests that
// want to assert on emitted log lines.
func SetOutput(w io.Writer) {
	base = zerolog.New(w).With().Timestamp().Logger()
	baseOnce.Do(func() {})
}

// New returns a sub-logger tagged with component=name, one per Reactor
// instance, mirroring the teacher's per-connection/per-watcher component
// field convention.
func New(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// WithReactorID tags a sub-logger with the owning reactor's id, so log
// lines from a multi-reactor process (one per OS thread) can be attributed.
func WithReactorID(l zerolog.Logger, id uint64) zerolog.Logger {
	return l.With().Uint64("reactor_id", id).Logger()
}
