package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUniversal struct {
	vars map[string]Value
}

func newFakeUniversal() *fakeUniversal {
	return &fakeUniversal{vars: make(map[string]Value)}
}

func (f *fakeUniversal) Get(name string) (Value, bool) {
	v, ok := f.vars[name]
	return v, ok
}

func (f *fakeUniversal) Set(name string, v Value) error {
	f.vars[name] = v
	return nil
}

func (f *fakeUniversal) Remove(name string) error {
	delete(f.vars, name)
	return nil
}

func (f *fakeUniversal) Names() []string {
	out := make([]string, 0, len(f.vars))
	for n := range f.vars {
		out = append(out, n)
	}
	return out
}

type fakeEvents struct {
	fired []string
}

func (f *fakeEvents) Emit(name string) {
	f.fired = append(f.fired, name)
}

func TestGlobalSetAndGet(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("foo", []string{"bar"}, SetOptions{}))
	v, ok := s.Get("foo", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"bar"}, v.Values)
}

func TestFunctionFrameStillSeesGlobal(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("x", []string{"global"}, SetOptions{}))

	s.PushFrame(true) // function entry: shadows enclosing locals, not globals
	v, ok := s.Get("x", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"global"}, v.Values)
	s.PopFrame()
}

func TestBlockFrameDoesNotShadowGlobal(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("x", []string{"global"}, SetOptions{}))

	s.PushFrame(false) // block entry (for/while/if/...)
	v, ok := s.Get("x", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"global"}, v.Values)
	s.PopFrame()
}

func TestFunctionFrameHidesEnclosingLocalsButNotGlobal(t *testing.T) {
	s := New(nil)
	s.PushFrame(true) // outer function
	require.NoError(t, s.Set("local_var", []string{"outer"}, SetOptions{Scope: ScopeLocal}))
	require.NoError(t, s.Set("glob_var", []string{"g"}, SetOptions{Scope: ScopeGlobal}))

	s.PushFrame(true) // inner function call: shadow=true hides outer locals
	_, ok := s.Get("local_var", ScopeAuto)
	require.False(t, ok, "inner function must not see outer function's locals")

	v, ok := s.Get("glob_var", ScopeAuto)
	require.True(t, ok, "inner function must still see globals")
	require.Equal(t, []string{"g"}, v.Values)

	s.PopFrame()
	v, ok = s.Get("local_var", ScopeAuto)
	require.True(t, ok, "outer function's locals return once inner frame pops")
	require.Equal(t, []string{"outer"}, v.Values)
	s.PopFrame()
}

func TestBlockScopeNestsWithinFunction(t *testing.T) {
	s := New(nil)
	s.PushFrame(true) // function
	require.NoError(t, s.Set("a", []string{"1"}, SetOptions{Scope: ScopeLocal}))

	s.PushFrame(false) // for-loop body
	v, ok := s.Get("a", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"1"}, v.Values)

	require.NoError(t, s.Set("a", []string{"2"}, SetOptions{}))
	s.PopFrame()

	v, ok = s.Get("a", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"2"}, v.Values, "unqualified set inside block found and updated the existing local frame's copy")
	s.PopFrame()
}

func TestDefaultPlacementUpdatesExistingScopeNotInnermost(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("g", []string{"1"}, SetOptions{Scope: ScopeGlobal}))

	s.PushFrame(true)
	require.NoError(t, s.Set("g", []string{"2"}, SetOptions{}))
	s.PopFrame()

	v, ok := s.Get("g", ScopeGlobal)
	require.True(t, ok)
	require.Equal(t, []string{"2"}, v.Values)
}

func TestUniversalScopeDelegates(t *testing.T) {
	u := newFakeUniversal()
	s := New(u)
	require.NoError(t, s.Set("uvar", []string{"v"}, SetOptions{Scope: ScopeUniversal}))

	v, ok := u.Get("uvar")
	require.True(t, ok)
	require.Equal(t, []string{"v"}, v.Values)
	require.True(t, v.FromUniversal)

	v2, ok := s.Get("uvar", ScopeAuto)
	require.True(t, ok)
	require.Equal(t, []string{"v"}, v2.Values)
}

func TestUniversalUnavailableWhenNil(t *testing.T) {
	s := New(nil)
	err := s.Set("x", []string{"1"}, SetOptions{Scope: ScopeUniversal})
	require.Error(t, err)
}

func TestExportGenerationBumpsOnExportedChangeOnly(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("plain", []string{"1"}, SetOptions{}))
	require.Equal(t, uint64(0), s.ExportGeneration())

	require.NoError(t, s.Set("EXPORTED", []string{"1"}, SetOptions{Export: true}))
	require.Equal(t, uint64(1), s.ExportGeneration())

	require.NoError(t, s.Set("EXPORTED", []string{"2"}, SetOptions{}))
	require.Equal(t, uint64(2), s.ExportGeneration())
}

func TestObservedVariableFiresEvent(t *testing.T) {
	s := New(nil)
	ev := &fakeEvents{}
	s.SetEventEmitter(ev)
	s.Observe("WATCHED")

	require.NoError(t, s.Set("WATCHED", []string{"1"}, SetOptions{}))
	require.NoError(t, s.Set("IGNORED", []string{"1"}, SetOptions{}))

	require.Equal(t, []string{"WATCHED"}, ev.fired)
}

func TestReadOnlyRejectsPlainSet(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("ro", []string{"1"}, SetOptions{ReadOnly: true}))
	err := s.Set("ro", []string{"2"}, SetOptions{})
	require.Error(t, err)
}

func TestGetNamesUnionsVisibleLayers(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("g", []string{"1"}, SetOptions{Scope: ScopeGlobal}))
	s.PushFrame(true)
	require.NoError(t, s.Set("f", []string{"1"}, SetOptions{Scope: ScopeLocal}))

	names := s.GetNames(ScopeAuto)
	require.Contains(t, names, "g")
	require.Contains(t, names, "f")
	s.PopFrame()
}

func TestAccessorSatisfiesExpandEnvironment(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("HOME", []string{"/home/u"}, SetOptions{}))
	a := NewAccessor(s)

	home, ok := a.Home()
	require.True(t, ok)
	require.Equal(t, "/home/u", home)

	values, isPath, ok := a.Get("HOME")
	require.True(t, ok)
	require.False(t, isPath)
	require.Equal(t, []string{"/home/u"}, values)

	_, _, ok = a.Get("NOPE")
	require.False(t, ok)
}

func TestPathvarFlagPersistsAcrossPlainSet(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("PATH", []string{"/bin", "/usr/bin"}, SetOptions{Pathvar: true}))
	v, ok := s.Get("PATH", ScopeAuto)
	require.True(t, ok)
	require.True(t, v.Pathvar)

	require.NoError(t, s.Set("PATH", []string{"/bin"}, SetOptions{}))
	v, ok = s.Get("PATH", ScopeAuto)
	require.True(t, ok)
	require.True(t, v.Pathvar, "pathvar flag should survive a plain re-set")
}

func TestEnvironOnlyIncludesExportedPathvarsJoined(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set("PATH", []string{"/bin", "/usr/bin"}, SetOptions{Export: true, Pathvar: true}))
	require.NoError(t, s.Set("SECRET", []string{"hidden"}, SetOptions{}))
	require.NoError(t, s.Set("GREETING", []string{"hello"}, SetOptions{Export: true}))

	environ := s.Environ()
	require.Contains(t, environ, "PATH=/bin:/usr/bin")
	require.Contains(t, environ, "GREETING=hello")
	for _, kv := range environ {
		require.NotContains(t, kv, "SECRET=")
	}
}
