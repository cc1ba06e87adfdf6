package poller

import "syscall"

// childResult is a completed child-exit wait, queued for dispatch on the
// next Run call.
type childResult struct {
	pid    int
	status syscall.WaitStatus
}

// childWaiter reaps a single pid with a blocking Wait4 on its own goroutine
// (Go parks the calling goroutine's OS thread for the duration, same as any
// other blocking syscall) and hands the result back to the poller's pending
// queue, waking it if it's blocked in Run. This sidesteps SIGCHLD handling
// entirely: epoll/kqueue have no portable "watch this pid" primitive, and
// libev itself falls back to a signal-driven ev_child watcher (see
// original_source/ext/polyphony/libev_backend.c); a dedicated blocking
// Wait4 goroutine per watched pid is the simpler idiomatic-Go equivalent.
func (p *base) watchChild(pid int, cb func(syscall.WaitStatus)) error {
	p.mu.Lock()
	p.children[pid] = cb
	p.mu.Unlock()

	go func() {
		var status syscall.WaitStatus
		_, err := syscall.Wait4(pid, &status, 0, nil)
		if err != nil {
			status = 0
		}
		p.mu.Lock()
		p.childResults = append(p.childResults, childResult{pid: pid, status: status})
		p.mu.Unlock()
		p.wakeUp()
	}()
	return nil
}

// drainChildren dispatches any completed child waits queued by watchChild.
func (p *base) drainChildren() {
	p.mu.Lock()
	results := p.childResults
	p.childResults = nil
	p.mu.Unlock()

	for _, r := range results {
		p.mu.Lock()
		cb, ok := p.children[r.pid]
		if ok {
			delete(p.children, r.pid)
		}
		p.mu.Unlock()
		if ok {
			cb(r.status)
		}
	}
}
