package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/internal/poller"
)

const (
	defaultReadChunk = 4096
	readLoopChunk    = 8192
	// shrinkSlack matches the design note in spec.md §9 ("final shrink
	// occurs only if capacity exceeds length by 4 KiB, avoiding churn on
	// small reads").
	shrinkSlack = 4096
)

func shrinkToFit(buf []byte, total int) []byte {
	if cap(buf)-total > shrinkSlack {
		out := make([]byte, total)
		copy(out, buf[:total])
		return out
	}
	return buf[:total]
}

// Read drains bytes from h into buf (or a freshly allocated 4096-byte
// buffer that grows by doubling when buf is nil), per spec.md §4.6.
// Read keeps reading until the buffer is full or the peer closes. In the
// dynamic case, toEOF makes a full buffer double and reading continue
// until the peer closes; with a caller-supplied buf, Read returns once
// len(buf) bytes have arrived whether or not toEOF is set.
func (r *Reactor) Read(cur *fiber.Fiber, h *Handle, buf []byte, toEOF bool) ([]byte, error) {
	if err := r.ensureNonblock(h); err != nil {
		return nil, err
	}

	dynamic := buf == nil
	if dynamic {
		buf = make([]byte, defaultReadChunk)
	}

	total := 0
	var w ioWatcher
	for {
		n, err := syscall.Read(h.fd, buf[total:])
		if err != nil {
			if isRetryable(err) {
				if werr := r.waitFDWithWatcher(cur, &w, h.fd, poller.EventRead); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, &OpError{Op: "read", Err: toErrno(err)}
		}

		if n == 0 {
			if total == 0 {
				return nil, nil
			}
			if dynamic {
				return shrinkToFit(buf, total), nil
			}
			return buf[:total], nil
		}

		total += n
		if err := r.snooze(cur); err != nil {
			return nil, err
		}

		if total < len(buf) {
			continue
		}
		if !toEOF || !dynamic {
			return buf[:total], nil
		}

		grown := make([]byte, len(buf)*2)
		copy(grown, buf)
		buf = grown
	}
}

// ReadLoop reads in fixed 8192-byte chunks, yielding a freshly allocated
// buffer of exactly the read length to yield after every successful
// read, snoozing in between (§4.7). Returns nil on EOF.
func (r *Reactor) ReadLoop(cur *fiber.Fiber, h *Handle, yield func([]byte) error) error {
	if err := r.ensureNonblock(h); err != nil {
		return err
	}

	var w ioWatcher
	for {
		buf := make([]byte, readLoopChunk)
		n, err := syscall.Read(h.fd, buf)
		if err != nil {
			if isRetryable(err) {
				if werr := r.waitFDWithWatcher(cur, &w, h.fd, poller.EventRead); werr != nil {
					return werr
				}
				continue
			}
			return &OpError{Op: "read", Err: toErrno(err)}
		}

		if n == 0 {
			return nil
		}

		if err := yield(buf[:n]); err != nil {
			return err
		}
		if err := r.snooze(cur); err != nil {
			return err
		}
	}
}

// Write performs a full-write: it loops until every byte of buf has been
// transferred (§4.8). If the write never had to suspend on readiness, a
// trailing snooze gives peers a turn so a CPU-bound writer cannot
// monopolise the loop.
func (r *Reactor) Write(cur *fiber.Fiber, h *Handle, buf []byte) (int, error) {
	if err := r.ensureNonblock(h); err != nil {
		return 0, err
	}

	total := 0
	suspended := false
	var w ioWatcher
	for total < len(buf) {
		n, err := syscall.Write(h.fd, buf[total:])
		if err != nil {
			if isRetryable(err) {
				suspended = true
				if werr := r.waitFDWithWatcher(cur, &w, h.fd, poller.EventWrite); werr != nil {
					return total, werr
				}
				continue
			}
			return total, &OpError{Op: "write", Err: toErrno(err)}
		}
		total += n
	}

	if !suspended {
		if err := r.snooze(cur); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Writev is Write generalized to an ordered sequence of buffers (§4.9).
// It advances through whole entries and the leading prefix of a
// partially consumed entry according to each writev(2) return value,
// until the sum of transfers equals the combined length.
func (r *Reactor) Writev(cur *fiber.Fiber, h *Handle, bufs ...[]byte) (int, error) {
	if len(bufs) == 0 {
		return 0, ErrNoBuffers
	}
	if err := r.ensureNonblock(h); err != nil {
		return 0, err
	}

	totalLen := 0
	for _, b := range bufs {
		totalLen += len(b)
	}

	remaining := make([][]byte, len(bufs))
	copy(remaining, bufs)

	total := 0
	suspended := false
	var w ioWatcher
	for total < totalLen {
		for len(remaining) > 0 && len(remaining[0]) == 0 {
			remaining = remaining[1:]
		}

		n, err := unix.Writev(h.fd, remaining)
		if err != nil {
			if isRetryable(err) {
				suspended = true
				if werr := r.waitFDWithWatcher(cur, &w, h.fd, poller.EventWrite); werr != nil {
					return total, werr
				}
				continue
			}
			return total, &OpError{Op: "writev", Err: toErrno(err)}
		}

		total += n
		remaining = advanceIovecs(remaining, n)
	}

	if !suspended {
		if err := r.snooze(cur); err != nil {
			return total, err
		}
	}
	return total, nil
}

func advanceIovecs(bufs [][]byte, n int) [][]byte {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}
