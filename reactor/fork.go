package reactor

import (
	"sync/atomic"

	"github.com/gogainda/polyphony/internal/poller"
)

// PostFork discards the inherited multiplexer unconditionally — even if
// it was the process-wide default in the parent — and adopts a fresh
// default multiplexer, per spec.md §4.14. Must be called on the
// surviving thread immediately after fork, before any other Reactor
// method; no watcher resurrection is attempted, matching the spec's
// "no watcher resurrection is attempted" note.
func (r *Reactor) PostFork() error {
	_ = r.mp.Close()

	mp, err := poller.New()
	if err != nil {
		return err
	}
	r.mp = mp
	r.isDefault = true
	reclaimDefault(mp)

	r.installBreakWatcher()
	atomic.StoreInt64(&r.refCount, 0)
	r.runNoWaitCount = 0
	r.log.Debug().Msg("post_fork: multiplexer rebuilt")
	return nil
}
