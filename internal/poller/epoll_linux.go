//go:build linux

package poller

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Multiplexer backend: epoll for readiness,
// eventfd for the thread-safe wake primitive. Generalized from the pack's
// own eventloop package (poller_linux.go's EpollCreate1/EpollCtl/EpollWait
// trio and wakeup_linux.go's Eventfd-based wake), itself the modern
// golang.org/x/sys/unix idiom for what gaio's own poller hand-rolls with
// bare syscall numbers.
type epollPoller struct {
	base

	epfd int

	fdMu sync.Mutex
	fds  map[int]*ioReg

	wakeFD  int
	eventsBuf [256]unix.EpollEvent
}

func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &epollPoller{
		base:   newBase(),
		epfd:   epfd,
		fds:    make(map[int]*ioReg),
		wakeFD: wakeFD,
	}
	p.wake = p.signalWake

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFD)
		return nil, err
	}

	return p, nil
}

func (p *epollPoller) signalWake() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(p.wakeFD, buf[:])
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}

func (p *epollPoller) StartIO(fd int, ev Event, cb func()) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	reg, exists := p.fds[fd]
	op := unix.EPOLL_CTL_MOD
	if !exists {
		reg = &ioReg{}
		p.fds[fd] = reg
		op = unix.EPOLL_CTL_ADD
	}

	before := reg.mask
	if ev&EventRead != 0 {
		reg.mask |= unix.EPOLLIN
		reg.readCB = cb
	}
	if ev&EventWrite != 0 {
		reg.mask |= unix.EPOLLOUT
		reg.writeCB = cb
	}
	if before == 0 {
		p.mu.Lock()
		p.ioCount++
		p.mu.Unlock()
	}

	return unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{Events: reg.mask, Fd: int32(fd)})
}

func (p *epollPoller) StopIO(fd int, ev Event) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	reg, ok := p.fds[fd]
	if !ok {
		return nil
	}
	if ev&EventRead != 0 {
		reg.mask &^= unix.EPOLLIN
		reg.readCB = nil
	}
	if ev&EventWrite != 0 {
		reg.mask &^= unix.EPOLLOUT
		reg.writeCB = nil
	}

	var err error
	if reg.mask == 0 {
		delete(p.fds, fd)
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		p.mu.Lock()
		p.ioCount--
		p.mu.Unlock()
	} else {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: reg.mask, Fd: int32(fd)})
	}
	return err
}

func (p *epollPoller) AddTimer(d time.Duration, cb func()) TimerID { return p.addTimer(d, cb) }
func (p *epollPoller) StopTimer(id TimerID)                        { p.stopTimer(id) }

func (p *epollPoller) WatchChild(pid int, cb func(syscall.WaitStatus)) error {
	return p.watchChild(pid, cb)
}

func (p *epollPoller) NewAsync(cb func()) *Async {
	// A bare async shares the same wake-fd plumbing: it just registers an
	// extra callback invoked whenever the poller wakes and drains, keyed by
	// a private flag rather than a second eventfd (eventfd instances are a
	// limited OS resource; one per poller plus one per Async would scale
	// poorly for wait_event-heavy workloads).
	var pending bool
	var mu sync.Mutex
	a := &Async{}
	a.send = func() {
		mu.Lock()
		pending = true
		mu.Unlock()
		p.signalWake()
	}
	p.mu.Lock()
	p.asyncCBs = append(p.asyncCBs, func() {
		mu.Lock()
		fire := pending
		pending = false
		mu.Unlock()
		if fire {
			cb()
		}
	})
	idx := len(p.asyncCBs) - 1
	p.mu.Unlock()
	a.stop = func() {
		p.mu.Lock()
		if idx < len(p.asyncCBs) {
			p.asyncCBs[idx] = func() {}
		}
		p.mu.Unlock()
	}
	return a
}

func (p *epollPoller) WakeUp() { p.signalWake() }

func (p *epollPoller) Run(mode RunMode) error {
	fired := p.fireDueTimers()
	p.drainChildren()
	p.runAsyncs()

	timeoutMs := -1
	if mode == RunNoWait || fired > 0 {
		timeoutMs = 0
	} else if deadline, ok := p.nextTimeout(); ok {
		if d := time.Until(deadline); d > 0 {
			timeoutMs = int(d.Milliseconds()) + 1
		} else {
			timeoutMs = 0
		}
	}

	n, err := unix.EpollWait(p.epfd, p.eventsBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventsBuf[i].Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		ev := p.eventsBuf[i].Events

		p.fdMu.Lock()
		reg, ok := p.fds[fd]
		var readCB, writeCB func()
		if ok {
			if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				readCB = reg.readCB
			}
			if ev&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				writeCB = reg.writeCB
			}
		}
		p.fdMu.Unlock()

		if readCB != nil {
			readCB()
		}
		if writeCB != nil {
			writeCB()
		}
	}

	p.fireDueTimers()
	p.drainChildren()
	p.runAsyncs()

	return nil
}

func (p *epollPoller) runAsyncs() {
	p.mu.Lock()
	cbs := append([]func(){}, p.asyncCBs...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (p *epollPoller) PendingCount() int { return p.pendingCount() }

// New constructs the platform Multiplexer.
func New() (Poller, error) { return newPlatformPoller() }
