package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostIsDeferredUntilDrain(t *testing.T) {
	b := New()
	var got []Event
	b.Register(KindVariable, "", func(ev Event) error {
		got = append(got, ev)
		return nil
	})

	b.Post(Event{Kind: KindVariable, Arg: "PATH"})
	require.Empty(t, got, "handlers must not run before Drain")

	require.NoError(t, b.Drain())
	require.Len(t, got, 1)
	require.Equal(t, "PATH", got[0].Arg)
}

func TestPatternFiltersByArg(t *testing.T) {
	b := New()
	var fired int
	b.Register(KindVariable, "PWD", func(Event) error {
		fired++
		return nil
	})

	b.Emit("PWD")
	b.Emit("HOME")
	require.NoError(t, b.Drain())
	require.Equal(t, 1, fired)
}

func TestHandlerPostedEventsRunAfterCurrentHandler(t *testing.T) {
	b := New()
	var order []string
	b.Register(KindGeneric, "first", func(Event) error {
		order = append(order, "first")
		b.Post(Event{Kind: KindGeneric, Arg: "second"})
		order = append(order, "first-done")
		return nil
	})
	b.Register(KindGeneric, "second", func(Event) error {
		order = append(order, "second")
		return nil
	})

	b.Post(Event{Kind: KindGeneric, Arg: "first"})
	require.NoError(t, b.Drain())
	require.Equal(t, []string{"first", "first-done", "second"}, order)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	var fired int
	id := b.Register(KindProcessExit, "", func(Event) error {
		fired++
		return nil
	})

	b.Post(Event{Kind: KindProcessExit, Arg: "123"})
	require.NoError(t, b.Drain())
	b.Unregister(id)
	b.Post(Event{Kind: KindProcessExit, Arg: "124"})
	require.NoError(t, b.Drain())
	require.Equal(t, 1, fired)
}
