// Package event implements the fish core's event bus:
// handlers register against a pattern, fire() looks up matches and invokes
// them by evaluating the handler's body as a function call in the main
// parser. Firing is deferred to a safe point between commands; signal
// handlers never invoke handlers directly, they post to internal/topic.
// Handlers never run from signal context; the deferred queue keeps event
// dispatch on the main evaluation goroutine.
package event

import (
	"os"
	"sort"
	"sync"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[event] ")

// Kind enumerates the event kinds.
type Kind int

const (
	KindSignal Kind = iota
	KindVariable
	KindExit
	KindJobExit
	KindCallerExit
	KindProcessExit
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindVariable:
		return "variable"
	case KindExit:
		return "exit"
	case KindJobExit:
		return "job-exit"
	case KindCallerExit:
		return "caller-exit"
	case KindProcessExit:
		return "process-exit"
	default:
		return "generic"
	}
}

// Event is one posted occurrence. Arg carries the kind-specific selector:
// a signal number (as a string), a variable name, a pid, or an internal
// job id, stringified; Argv carries any additional positional arguments
// the handler body receives.
type Event struct {
	Kind Kind
	Arg  string
	Argv []string
}

// Handler is invoked when a registered pattern matches a fired Event. It
// evaluates the handler's body as a function call in the caller's parser;
// internal/shell supplies an implementation that runs an internal/ast
// function body through internal/execengine.
type Handler func(ev Event) error

// registration is one handler plus the pattern it was registered under.
type registration struct {
	id      uint64
	kind    Kind
	pattern string // "" matches any Arg for this kind
	handler Handler
}

// Bus dispatches fired events to registered handlers. Firing is deferred:
// Post appends to a pending queue; Drain (called by internal/shell between
// commands, at a safe point) runs the queue to completion,
// matching the ordering guarantee that a handler firing further events
// produces them only after the currently-firing handler returns.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	regs    []registration
	pending []Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a handler matched against kind and, if pattern != "", the
// event's Arg (variable name, signal number, job id, ...). It returns an id
// usable with Unregister.
func (b *Bus) Register(kind Kind, pattern string, h Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.regs = append(b.regs, registration{id: id, kind: kind, pattern: pattern, handler: h})
	return id
}

// Unregister removes a previously registered handler.
func (b *Bus) Unregister(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.regs {
		if r.id == id {
			b.regs = append(b.regs[:i], b.regs[i+1:]...)
			return
		}
	}
}

// Post queues ev for dispatch at the next Drain call. Safe to call from
// anywhere, including inside another handler (ordering guarantee: it
// fires only after the
// current Drain's in-flight handler returns, since it's appended to
// pending and Drain re-checks pending after each handler call).
func (b *Bus) Post(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, ev)
}

// Emit satisfies internal/env.EventEmitter: posts a KindVariable event for
// name.
func (b *Bus) Emit(name string) {
	b.Post(Event{Kind: KindVariable, Arg: name})
}

// Drain runs every pending event (and any events handlers post while
// running) until the queue is empty, returning the first handler error
// encountered; subsequent handlers still run.
func (b *Bus) Drain() error {
	var firstErr error
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return firstErr
		}
		ev := b.pending[0]
		b.pending = b.pending[1:]
		matches := b.matchingLocked(ev)
		b.mu.Unlock()

		for _, h := range matches {
			if err := h(ev); err != nil {
				logger.Errorf("handler for %s: %v", ev.Kind, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
}

func (b *Bus) matchingLocked(ev Event) []Handler {
	var out []Handler
	ids := make([]int, 0, len(b.regs))
	for i, r := range b.regs {
		if r.kind != ev.Kind {
			continue
		}
		if r.pattern != "" && r.pattern != ev.Arg {
			continue
		}
		ids = append(ids, i)
	}
	sort.Ints(ids) // registration order
	for _, i := range ids {
		out = append(out, b.regs[i].handler)
	}
	return out
}
