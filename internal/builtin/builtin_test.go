package builtin

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/waithandle"
)

// fakeHost is a minimal Host stub for exercising built-ins in isolation.
type fakeHost struct {
	stack       *env.Stack
	handles     *waithandle.Store
	exitCode    int
	exitCalled  bool
	returnCode  int
	retCalled   bool
	interactive bool
	login       bool
	jobControl  string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		stack:      env.New(nil),
		handles:    waithandle.New(0),
		jobControl: "interactive",
	}
}

func (h *fakeHost) Env() *env.Stack                { return h.stack }
func (h *fakeHost) Emit(string)                    {}
func (h *fakeHost) WaitHandles() *waithandle.Store { return h.handles }
func (h *fakeHost) Reap(bool)                      {}
func (h *fakeHost) Disown(int) bool                { return false }
func (h *fakeHost) RunExternal(argv []string, io *IoStreams) int {
	return 0
}
func (h *fakeHost) Source(src string, args []string, io *IoStreams) int { return 0 }
func (h *fakeHost) RequestExit(code int)                                { h.exitCalled = true; h.exitCode = code }
func (h *fakeHost) RequestReturn(code int)                              { h.retCalled = true; h.returnCode = code }
func (h *fakeHost) Interactive() bool                                   { return h.interactive }
func (h *fakeHost) Login() bool                                         { return h.login }
func (h *fakeHost) InBlock() bool                                       { return false }
func (h *fakeHost) InCommandSubstitution() bool                         { return false }
func (h *fakeHost) CurrentCommand() string                              { return "test" }
func (h *fakeHost) JobControlMode() string                              { return h.jobControl }

func newTestStreams() (*IoStreams, *bytes.Buffer, *bytes.Buffer) {
	var out, errBuf bytes.Buffer
	return NewIoStreams(os.Stdin, &out, &errBuf), &out, &errBuf
}

func TestBuiltinSetAndGet(t *testing.T) {
	h := newFakeHost()
	io, _, errBuf := newTestStreams()

	status := builtinSet(h, io, []string{"-g", "color", "blue"})
	io.Flush()
	require.Equal(t, 0, status)
	require.Empty(t, errBuf.String())

	v, ok := h.stack.Get("color", env.ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"blue"}, v.Values)
}

func TestBuiltinSetErase(t *testing.T) {
	h := newFakeHost()
	io, _, _ := newTestStreams()
	require.Equal(t, 0, builtinSet(h, io, []string{"-g", "x", "1"}))
	require.Equal(t, 0, builtinSet(h, io, []string{"-e", "x"}))
	_, ok := h.stack.Get("x", env.ScopeAuto)
	require.False(t, ok)
}

func TestBuiltinContains(t *testing.T) {
	h := newFakeHost()
	io, _, _ := newTestStreams()
	require.Equal(t, 0, builtinContains(h, io, []string{"b", "a", "b", "c"}))
	require.Equal(t, 1, builtinContains(h, io, []string{"z", "a", "b", "c"}))
}

func TestBuiltinCount(t *testing.T) {
	h := newFakeHost()
	io, out, _ := newTestStreams()
	require.Equal(t, 0, builtinCount(h, io, []string{"a", "b"}))
	io.Flush()
	require.Equal(t, "2\n", out.String())
}

func TestBuiltinStatusIsInteractive(t *testing.T) {
	h := newFakeHost()
	h.interactive = true
	io, _, _ := newTestStreams()
	require.Equal(t, 0, builtinStatus(h, io, []string{"is-interactive"}))
	h.interactive = false
	require.Equal(t, 1, builtinStatus(h, io, []string{"is-interactive"}))
}

func TestBuiltinStatusJobControl(t *testing.T) {
	h := newFakeHost()
	io, out, _ := newTestStreams()
	require.Equal(t, 0, builtinStatus(h, io, []string{"job-control"}))
	io.Flush()
	require.Equal(t, "interactive\n", out.String())
	require.Equal(t, 0, builtinStatus(h, io, []string{"job-control", "interactive"}))
	require.Equal(t, 1, builtinStatus(h, io, []string{"job-control", "full"}))
}

func TestBuiltinReturnAndExit(t *testing.T) {
	h := newFakeHost()
	io, _, _ := newTestStreams()
	require.Equal(t, 3, builtinReturn(h, io, []string{"3"}))
	require.True(t, h.retCalled)
	require.Equal(t, 3, h.returnCode)

	require.Equal(t, 7, builtinExit(h, io, []string{"7"}))
	require.True(t, h.exitCalled)
	require.Equal(t, 7, h.exitCode)
}

func TestBuiltinInvalidArgsStatus(t *testing.T) {
	h := newFakeHost()
	io, _, _ := newTestStreams()
	require.Equal(t, invalidArgs, builtinReturn(h, io, []string{"1", "2"}))
}

func TestBuiltinWaitUnknownPidDiagnostics(t *testing.T) {
	h := newFakeHost()

	// pid 1 exists but was never a child of this shell.
	io1, _, errBuf := newTestStreams()
	require.Equal(t, 1, builtinWait(h, io1, []string{"1"}))
	io1.Flush()
	require.Contains(t, errBuf.String(), "not a child of this shell")

	// A pid far beyond the kernel's pid space names nothing at all.
	io2, _, errBuf2 := newTestStreams()
	require.Equal(t, 1, builtinWait(h, io2, []string{"999999999"}))
	io2.Flush()
	require.Contains(t, errBuf2.String(), "no such process")
}

func TestNormalizeStatus(t *testing.T) {
	require.Equal(t, 0, NormalizeStatus(0))
	require.Equal(t, 5, NormalizeStatus(5))
	require.Equal(t, 255, NormalizeStatus(-1))
	require.Equal(t, 254, NormalizeStatus(-2))
}
