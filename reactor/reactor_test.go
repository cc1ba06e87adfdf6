package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/reactor"
)

// runScheduler drives sched.Run() on its own goroutine and fails the test
// if it hasn't returned (run queue empty and ref_count zero) within d.
func runScheduler(t *testing.T, sched *fiber.Scheduler, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("scheduler did not terminate in time")
	}
}

// TestBreakIdempotence covers invariant 6: Break from any number of
// callers causes at most one spurious return from a blocked Poll per
// call, and has no effect when not currently blocked.
func TestBreakIdempotence(t *testing.T) {
	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	require.False(t, r.Break(), "break before any poll call must be a no-op")

	rq := fiber.NewRunQueue()
	done := make(chan error, 1)
	go func() {
		done <- r.Poll(false, nil, rq)
	}()

	// give Poll time to actually enter the multiplexer's blocking call
	time.Sleep(20 * time.Millisecond)

	require.True(t, r.Break())
	// further concurrent calls must not panic or double-fire
	require.True(t, r.Break())
	require.True(t, r.Break())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll did not return after break")
	}
}

// TestCrossThreadBreak covers scenario 6: another goroutine calling Break
// unblocks a Poll(nowait=false) sitting with no work within well under a
// second.
func TestCrossThreadBreak(t *testing.T) {
	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	rq := fiber.NewRunQueue()
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- r.Poll(false, nil, rq)
	}()

	time.Sleep(10 * time.Millisecond)
	go r.Break()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Less(t, time.Since(start), 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("poll was not unblocked by cross-thread break")
	}
}

// TestPostForkIndependence covers invariant 7: immediately after
// PostFork, pending_count and ref_count are both zero.
func TestPostForkIndependence(t *testing.T) {
	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	r.Ref()
	r.Ref()
	require.Equal(t, int64(2), r.RefCount())

	require.NoError(t, r.PostFork())
	require.Equal(t, int64(0), r.RefCount())
	require.Equal(t, 0, r.PendingCount())
}

// TestPollAntiStarvation covers invariant 4: under a flood of runnable
// fibers, nowait polling drains the run queue for max(len, 10) calls
// before entering the kernel.
func TestPollAntiStarvation(t *testing.T) {
	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	rq := fiber.NewRunQueue()
	for i := 0; i < 3; i++ {
		rq.PushBack(fiber.Spawn(func(*fiber.Fiber) {}), nil)
	}

	// threshold is max(runnable, 10) == 10 with only 3 queued; the first
	// 10 nowait polls must return immediately without blocking.
	for i := 0; i < 10; i++ {
		start := time.Now()
		require.NoError(t, r.Poll(true, nil, rq))
		require.Less(t, time.Since(start), 10*time.Millisecond)
	}
}
