package reactor_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogainda/polyphony/fiber"
	"github.com/gogainda/polyphony/reactor"
)

// TestWaitpidReapsChild covers spec.md §8 scenario 5: a child process that
// sleeps briefly then exits with status 7 is reaped by Waitpid, returning
// the exit status within roughly the sleep duration.
func TestWaitpidReapsChild(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 0.05; exit 7")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	sched := fiber.NewScheduler(r)

	var status reactor.WaitStatus
	var waitErr error
	start := time.Now()
	sched.Spawn(func(self *fiber.Fiber) {
		status, waitErr = r.Waitpid(self, pid)
	})

	runScheduler(t, sched, 2*time.Second)

	require.NoError(t, waitErr)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, pid, status.Pid)
	require.False(t, status.Signaled())
	require.Equal(t, 7, status.ExitStatus())
}

// TestSleepSingle covers the base case of §4.12's sleep suspension: the
// calling fiber resumes no earlier than the requested duration.
func TestSleepSingle(t *testing.T) {
	r, err := reactor.New(reactor.WithPrivateMultiplexer())
	require.NoError(t, err)
	defer r.Finalize()

	sched := fiber.NewScheduler(r)

	start := time.Now()
	var elapsed time.Duration
	var sleepErr error
	sched.Spawn(func(self *fiber.Fiber) {
		sleepErr = r.Sleep(self, 30*time.Millisecond)
		elapsed = time.Since(start)
	})

	runScheduler(t, sched, time.Second)

	require.NoError(t, sleepErr)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}
