package waithandle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReturnsSameHandle(t *testing.T) {
	s := New(0)
	h1 := s.GetOrCreate(42, 1, "sleep")
	h2 := s.GetOrCreate(42, 9, "ignored")
	require.Same(t, h1, h2)
	require.Equal(t, uint64(1), h2.InternalJobID)
}

func TestStatusIsLatched(t *testing.T) {
	s := New(0)
	h := s.GetOrCreate(7, 1, "true")

	_, ok := h.Status()
	require.False(t, ok)

	h.SetStatus(3)
	h.SetStatus(9)
	got, ok := h.Status()
	require.True(t, ok)
	require.Equal(t, 3, got)
}

func TestLookupSurvivesAfterCompletion(t *testing.T) {
	s := New(0)
	h := s.GetOrCreate(99, 1, "true")
	h.SetStatus(0)

	got, ok := s.Lookup(99)
	require.True(t, ok)
	status, done := got.Status()
	require.True(t, done)
	require.Equal(t, 0, status)
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := New(2)
	s.GetOrCreate(1, 1, "a")
	s.GetOrCreate(2, 1, "b")
	s.GetOrCreate(3, 1, "c")

	require.Equal(t, 2, s.Len())
	_, ok := s.Lookup(1)
	require.False(t, ok, "oldest handle should have been evicted")
	_, ok = s.Lookup(3)
	require.True(t, ok)
}
