package reactor

import (
	"sync/atomic"
	"syscall"
)

// Handle is the reactor's IoHandle: a raw kernel file descriptor plus a
// memoised "non-blocking already asserted" flag (spec.md §3 "IoHandle
// extension" / §4.13).
type Handle struct {
	fd          int
	nonblockSet atomic.Bool
}

// NewHandle wraps an already-open fd. Ownership (closing it) remains
// with the caller.
func NewHandle(fd int) *Handle { return &Handle{fd: fd} }

// FD returns the underlying file descriptor.
func (h *Handle) FD() int { return h.fd }

// Close closes the underlying descriptor.
func (h *Handle) Close() error { return syscall.Close(h.fd) }

// ensureNonblock asserts O_NONBLOCK on first use per handle and skips
// the fcntl on every later call (§4.13: "skipping this syscall on every
// I/O has measurable throughput benefit").
func (r *Reactor) ensureNonblock(h *Handle) error {
	if h.nonblockSet.Load() {
		return nil
	}
	if err := syscall.SetNonblock(h.fd, true); err != nil {
		return &OpError{Op: "setnonblock", Err: toErrno(err)}
	}
	h.nonblockSet.Store(true)
	return nil
}
