package reactor

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/internal/poller"
)

// Listener wraps a listening AF_INET stream socket.
type Listener struct {
	*Handle
	port int
}

// Listen opens an AF_INET stream listening socket on the given port (0
// for an ephemeral port, resolved via getsockname after bind).
func Listen(port int) (*Listener, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, &OpError{Op: "socket", Err: toErrno(err)}
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, &OpError{Op: "setsockopt", Err: toErrno(err)}
	}

	addr := &syscall.SockaddrInet4{Port: port}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, &OpError{Op: "bind", Err: toErrno(err)}
	}
	if err := syscall.Listen(fd, 128); err != nil {
		syscall.Close(fd)
		return nil, &OpError{Op: "listen", Err: toErrno(err)}
	}

	actual := port
	if sa, err := syscall.Getsockname(fd); err == nil {
		if in4, ok := sa.(*syscall.SockaddrInet4); ok {
			actual = in4.Port
		}
	}

	return &Listener{Handle: &Handle{fd: fd}, port: actual}, nil
}

// Port returns the bound port (the resolved ephemeral port if 0 was
// requested at Listen time).
func (l *Listener) Port() int { return l.port }

func newAcceptedHandle(nfd int) (*Handle, error) {
	// accept(2) does not inherit O_NONBLOCK from the listening socket's
	// file description; the flag must be asserted explicitly on the new
	// fd before it is handed back as a full-duplex, non-blocking-cached
	// Handle (spec.md §4.10: "wrap the fd as a new TCP socket handle ...
	// non-blocking cached true").
	if err := syscall.SetNonblock(nfd, true); err != nil {
		syscall.Close(nfd)
		return nil, &OpError{Op: "setnonblock", Err: toErrno(err)}
	}
	h := &Handle{fd: nfd}
	h.nonblockSet.Store(true)
	return h, nil
}

// Accept produces one connected socket from l (§4.10). On cancellation
// after a successful accept, the freshly accepted fd is closed before
// the cancellation propagates — otherwise it would leak.
func (r *Reactor) Accept(cur *fiber.Fiber, l *Listener) (*Handle, error) {
	if err := r.ensureNonblock(l.Handle); err != nil {
		return nil, err
	}

	var w ioWatcher
	for {
		nfd, _, err := syscall.Accept(l.fd)
		if err != nil {
			if isRetryable(err) {
				if werr := r.waitFDWithWatcher(cur, &w, l.fd, poller.EventRead); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, &OpError{Op: "accept", Err: toErrno(err)}
		}

		if err := r.snooze(cur); err != nil {
			syscall.Close(nfd)
			return nil, err
		}

		return newAcceptedHandle(nfd)
	}
}

// AcceptLoop accepts connections from l until yield returns an error or
// the calling fiber is cancelled; it never returns normally.
func (r *Reactor) AcceptLoop(cur *fiber.Fiber, l *Listener, yield func(*Handle) error) error {
	if err := r.ensureNonblock(l.Handle); err != nil {
		return err
	}

	var w ioWatcher
	for {
		nfd, _, err := syscall.Accept(l.fd)
		if err != nil {
			if isRetryable(err) {
				if werr := r.waitFDWithWatcher(cur, &w, l.fd, poller.EventRead); werr != nil {
					return werr
				}
				continue
			}
			return &OpError{Op: "accept", Err: toErrno(err)}
		}

		if err := r.snooze(cur); err != nil {
			syscall.Close(nfd)
			return err
		}

		h, err := newAcceptedHandle(nfd)
		if err != nil {
			return err
		}
		if err := yield(h); err != nil {
			return err
		}
	}
}

// Connect opens a non-blocking AF_INET connection to an IPv4 dotted-quad
// literal (no DNS resolution — a documented Non-goal), per spec.md §4.11.
func (r *Reactor) Connect(cur *fiber.Fiber, host string, port int) (*Handle, error) {
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("reactor: connect requires an IPv4 literal address, got %q", host)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, &OpError{Op: "socket", Err: toErrno(err)}
	}
	h := &Handle{fd: fd}
	if err := r.ensureNonblock(h); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	var addr syscall.SockaddrInet4
	copy(addr.Addr[:], ip)
	addr.Port = port

	connErr := syscall.Connect(fd, &addr)
	switch {
	case connErr == nil:
		if err := r.snooze(cur); err != nil {
			syscall.Close(fd)
			return nil, err
		}

	case errors.Is(connErr, syscall.EINPROGRESS):
		var w ioWatcher
		if werr := r.waitFDWithWatcher(cur, &w, fd, poller.EventWrite); werr != nil {
			syscall.Close(fd)
			return nil, werr
		}
		if serr, gerr := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR); gerr == nil && serr != 0 {
			syscall.Close(fd)
			return nil, &OpError{Op: "connect", Err: syscall.Errno(serr)}
		}

	default:
		syscall.Close(fd)
		return nil, &OpError{Op: "connect", Err: toErrno(connErr)}
	}

	return h, nil
}
