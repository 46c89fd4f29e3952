package topic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCheckNonBlockingReflectsGenerations(t *testing.T) {
	m := newTestMonitor(t)
	snap := m.Snapshot()

	require.False(t, m.Check(snap, false), "no generation advanced yet")

	m.Bump(SIGCHLD)
	require.True(t, m.Check(snap, false))

	// A fresh snapshot sees quiescence again.
	require.False(t, m.Check(m.Snapshot(), false))
}

func TestCheckBlocksUntilBump(t *testing.T) {
	m := newTestMonitor(t)
	snap := m.Snapshot()

	done := make(chan bool, 1)
	go func() {
		done <- m.Check(snap, true)
	}()

	select {
	case <-done:
		t.Fatal("Check returned before any Bump")
	case <-time.After(50 * time.Millisecond):
	}

	m.Bump(InternalExit)
	select {
	case got := <-done:
		require.True(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Check never woke after Bump")
	}
}

func TestEachTopicCountsIndependently(t *testing.T) {
	m := newTestMonitor(t)
	m.Bump(SIGCHLD)
	m.Bump(SIGCHLD)
	m.Bump(SIGHUPINT)

	g := m.Snapshot()
	require.Equal(t, uint64(2), g[int(SIGCHLD)])
	require.Equal(t, uint64(1), g[int(SIGHUPINT)])
	require.Equal(t, uint64(0), g[int(InternalExit)])
}
