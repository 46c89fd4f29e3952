// Package builtin implements built-in command dispatch: a package-level
// registry of name -> Builtin populated in init(). Each built-in asserts
// its argument shape through an internal/validator.Validator first, and
// returns 123 ("invalid arguments to a built-in") before doing any work.
//
// A built-in is handed a Host rather than the execution engine itself,
// since the package graph needs
// internal/execengine to dispatch *into* this package (to run a built-in)
// while this package needs to call back *out* to the engine (for
// `command`, `source`, `wait`) — Host is the interface that breaks that
// cycle; internal/execengine is the concrete type satisfying it.
package builtin

import (
	"bufio"
	"io"
	"os"
	"sort"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/waithandle"
)

// IoStreams bundles a built-in's standard streams
// exactly.
type IoStreams struct {
	Out, Err *bufio.Writer
	In       *os.File
}

// NewIoStreams wraps out/err in buffered writers so built-ins can Write
// freely; callers must Flush when the built-in returns.
func NewIoStreams(in *os.File, out, err io.Writer) *IoStreams {
	return &IoStreams{
		Out: bufio.NewWriter(out),
		Err: bufio.NewWriter(err),
		In:  in,
	}
}

// Flush writes any buffered output; called by the caller after the
// built-in returns.
func (s *IoStreams) Flush() {
	s.Out.Flush()
	s.Err.Flush()
}

// Host is the execution-engine surface a built-in may need. Implemented by
// internal/execengine.Engine.
type Host interface {
	Env() *env.Stack
	Emit(name string)
	WaitHandles() *waithandle.Store
	Reap(block bool)
	Disown(pid int) bool
	RunExternal(argv []string, io *IoStreams) int
	Source(src string, args []string, io *IoStreams) int
	RequestExit(code int)
	RequestReturn(code int)
	Interactive() bool
	Login() bool
	InBlock() bool
	InCommandSubstitution() bool
	CurrentCommand() string
	JobControlMode() string // "full" | "interactive" | "none"
}

// Builtin runs one built-in invocation and returns its exit status.
// Negative returns are mapped 256-(|status| mod 256) by the caller
// by the caller; built-ins themselves just return the signed value.
type Builtin func(h Host, io *IoStreams, argv []string) int

var registry = map[string]Builtin{}

func register(name string, b Builtin) {
	registry[name] = b
}

// Lookup returns the built-in registered under name, if any.
func Lookup(name string) (Builtin, bool) {
	b, ok := registry[name]
	return b, ok
}

// Names returns every registered built-in name, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NormalizeStatus applies the negative-status mapping: a
// built-in that returns a negative value maps to 256-(|status| mod 256).
func NormalizeStatus(status int) int {
	if status >= 0 {
		return status
	}
	mod := (-status) % 256
	return 256 - mod
}
