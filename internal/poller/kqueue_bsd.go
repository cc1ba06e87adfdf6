//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin Multiplexer backend. It mirrors
// epollPoller's shape exactly (same base embed, same registration and
// dispatch flow) but speaks kqueue/kevent instead of epoll, and uses a
// single EVFILT_USER watcher for wake-up rather than an eventfd, since
// kqueue has no portable equivalent to Linux's eventfd(2) — EVFILT_USER
// plus NOTE_TRIGGER is the idiomatic kqueue substitute used for exactly
// this purpose by other Go event-loop implementations in the pack.
type kqueuePoller struct {
	base

	kq int

	fdMu sync.Mutex
	fds  map[int]*ioReg

	wakeIdent uintptr
}

const wakeUserIdent uintptr = 1

func newPlatformPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	p := &kqueuePoller{
		base:      newBase(),
		kq:        kq,
		fds:       make(map[int]*ioReg),
		wakeIdent: wakeUserIdent,
	}
	p.wake = p.signalWake

	reg := unix.Kevent_t{
		Ident:  uint64(p.wakeIdent),
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{reg}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, err
	}

	return p, nil
}

func (p *kqueuePoller) signalWake() {
	trigger := unix.Kevent_t{
		Ident:  uint64(p.wakeIdent),
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, _ = unix.Kevent(p.kq, []unix.Kevent_t{trigger}, nil, nil)
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

func (p *kqueuePoller) StartIO(fd int, ev Event, cb func()) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	reg, exists := p.fds[fd]
	if !exists {
		reg = &ioReg{}
		p.fds[fd] = reg
	}

	var changes []unix.Kevent_t
	before := reg.mask
	if ev&EventRead != 0 && reg.mask&uint32(EventRead) == 0 {
		reg.mask |= uint32(EventRead)
		reg.readCB = cb
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	} else if ev&EventRead != 0 {
		reg.readCB = cb
	}
	if ev&EventWrite != 0 && reg.mask&uint32(EventWrite) == 0 {
		reg.mask |= uint32(EventWrite)
		reg.writeCB = cb
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	} else if ev&EventWrite != 0 {
		reg.writeCB = cb
	}

	if before == 0 && reg.mask != 0 {
		p.mu.Lock()
		p.ioCount++
		p.mu.Unlock()
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) StopIO(fd int, ev Event) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	reg, ok := p.fds[fd]
	if !ok {
		return nil
	}

	var changes []unix.Kevent_t
	if ev&EventRead != 0 && reg.mask&uint32(EventRead) != 0 {
		reg.mask &^= uint32(EventRead)
		reg.readCB = nil
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if ev&EventWrite != 0 && reg.mask&uint32(EventWrite) != 0 {
		reg.mask &^= uint32(EventWrite)
		reg.writeCB = nil
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}

	if reg.mask == 0 {
		delete(p.fds, fd)
		p.mu.Lock()
		p.ioCount--
		p.mu.Unlock()
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) AddTimer(d time.Duration, cb func()) TimerID { return p.addTimer(d, cb) }
func (p *kqueuePoller) StopTimer(id TimerID)                        { p.stopTimer(id) }

func (p *kqueuePoller) WatchChild(pid int, cb func(syscall.WaitStatus)) error {
	return p.watchChild(pid, cb)
}

func (p *kqueuePoller) NewAsync(cb func()) *Async {
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

func (p *kqueuePoller) WakeUp() { p.signalWake() }

func (p *kqueuePoller) Run(mode RunMode) error {
	fired := p.fireDueTimers()
	p.drainChildren()
	p.runAsyncs()

	var ts unix.Timespec
	tsPtr := &ts
	if mode == RunNoWait || fired > 0 {
		ts = unix.NsecToTimespec(0)
	} else if deadline, ok := p.nextTimeout(); ok {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		ts = unix.NsecToTimespec(d.Nanoseconds())
	} else {
		tsPtr = nil
	}

	var events [256]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, events[:], tsPtr)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		ev := &events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		fd := int(ev.Ident)

		p.fdMu.Lock()
		reg, ok := p.fds[fd]
		var cb func()
		if ok {
			switch ev.Filter {
			case unix.EVFILT_READ:
				cb = reg.readCB
			case unix.EVFILT_WRITE:
				cb = reg.writeCB
			}
		}
		p.fdMu.Unlock()

		if cb != nil {
			cb()
		}
	}

	p.fireDueTimers()
	p.drainChildren()
	p.runAsyncs()

	return nil
}

func (p *kqueuePoller) runAsyncs() {
	p.mu.Lock()
	cbs := append([]func(){}, p.asyncCBs...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (p *kqueuePoller) PendingCount() int { return p.pendingCount() }

// New constructs the platform Multiplexer.
func New() (Poller, error) { return newPlatformPoller() }
