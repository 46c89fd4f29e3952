package proc

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkCompletedIsLatched(t *testing.T) {
	p := &Process{Type: TypeExternal}
	p.MarkCompleted(Status{Code: 3})
	p.MarkCompleted(Status{Code: 7})

	require.True(t, p.Completed())
	require.Equal(t, 3, p.Status().Code)
}

func TestSetStoppedIgnoredAfterCompletion(t *testing.T) {
	p := &Process{Type: TypeExternal}
	p.SetStopped(true)
	require.True(t, p.Stopped())
	p.SetStopped(false)
	require.False(t, p.Stopped())

	p.MarkCompleted(Status{Code: 0})
	p.SetStopped(true)
	require.False(t, p.Stopped(), "stopped must not flip after completion")
}

func TestJobStatusHonorsNegate(t *testing.T) {
	mk := func(code int, negate bool) *Job {
		p := &Process{Type: TypeExternal}
		p.MarkCompleted(Status{Code: code})
		return &Job{
			Processes: []*Process{p},
			Group:     NewJobGroup("x", false, false),
			Flags:     Flags{Negate: negate},
		}
	}

	require.Equal(t, 1, mk(1, false).Status())
	require.Equal(t, 0, mk(1, true).Status())
	require.Equal(t, 1, mk(0, true).Status())
}

func TestPipestatusPropagatesEmptySlots(t *testing.T) {
	first := &Process{Type: TypeExternal}
	first.MarkCompleted(Status{Code: 4})
	bare := &Process{Type: TypeBuiltin}
	bare.MarkCompleted(Status{Empty: true})
	last := &Process{Type: TypeExternal}
	last.MarkCompleted(Status{Code: 0})

	j := &Job{
		Processes: []*Process{first, bare, last},
		Group:     NewJobGroup("x", false, false),
	}
	require.Equal(t, []int{4, 4, 0}, j.Pipestatus())
}

func TestLatchPgidOnlyOnce(t *testing.T) {
	g := NewJobGroup("sleep 1", true, true)
	require.True(t, g.LatchPgid(100))
	require.False(t, g.LatchPgid(200))
	require.Equal(t, 100, g.Pgid())
}

func TestLatchCancelSignalFirstWins(t *testing.T) {
	g := NewJobGroup("x", false, false)
	require.Equal(t, 0, g.CancelSignal())
	require.True(t, g.LatchCancelSignal(int(syscall.SIGINT)))
	require.False(t, g.LatchCancelSignal(int(syscall.SIGQUIT)))
	require.Equal(t, int(syscall.SIGINT), g.CancelSignal())
}

func TestStatusFromWaitDecodesSignals(t *testing.T) {
	// Exit code 5: wait status 0x0500.
	var ws syscall.WaitStatus = 5 << 8
	st := StatusFromWait(ws)
	require.Equal(t, 5, st.Code)
	require.False(t, st.Killed)

	// Killed by SIGKILL: low byte is the signal number.
	ws = syscall.WaitStatus(syscall.SIGKILL)
	st = StatusFromWait(ws)
	require.True(t, st.Killed)
	require.Equal(t, 128+int(syscall.SIGKILL), st.Code)
	require.Equal(t, syscall.SIGKILL, st.Signal)
}
