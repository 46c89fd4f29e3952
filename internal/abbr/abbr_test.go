package abbr

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandPlainCommandPosition(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{Name: "gco", Key: "gco", Replacement: "git checkout", Pos: Command}))

	repl, offset, ok := s.Expand("gco", true)
	require.True(t, ok)
	require.Equal(t, "git checkout", repl)
	require.Equal(t, len("git checkout"), offset)

	_, _, ok = s.Expand("gco", false)
	require.False(t, ok, "command-position abbreviation must not fire outside command position")
}

func TestExpandAnywhere(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{Name: "L", Key: "L", Replacement: "| less", Pos: Anywhere}))
	_, _, ok := s.Expand("L", false)
	require.True(t, ok)
}

func TestFirstMatchWins(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{Name: "a1", Key: "x", Replacement: "first", Pos: Anywhere}))
	require.NoError(t, s.Add(Abbreviation{Name: "a2", Key: "x", Replacement: "second", Pos: Anywhere}))
	repl, _, ok := s.Expand("x", true)
	require.True(t, ok)
	require.Equal(t, "first", repl)
}

func TestRegexAbbreviation(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{
		Name:        "gco-num",
		Regex:       regexp.MustCompile(`^co(\d+)$`),
		Replacement: "git checkout pr-$1",
		Pos:         Anywhere,
	}))
	repl, _, ok := s.Expand("co42", true)
	require.True(t, ok)
	require.Equal(t, "git checkout pr-42", repl)
}

func TestCursorMarkerSpliced(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{
		Name:        "co",
		Key:         "co",
		Replacement: "git commit -m '%'",
		Pos:         Command,
		SetCursor:   true,
	}))
	repl, offset, ok := s.Expand("co", true)
	require.True(t, ok)
	require.Equal(t, "git commit -m ''", repl)
	require.Equal(t, len("git commit -m '"), offset)
}

func TestCyclicWrapsRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{Name: "a", Key: "a", Replacement: "b", Pos: Anywhere}))
	err := s.Add(Abbreviation{Name: "b", Key: "b", Replacement: "a", Pos: Anywhere})
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Abbreviation{Name: "gco", Key: "gco", Replacement: "git checkout", Pos: Command}))
	s.Remove("gco")
	_, _, ok := s.Expand("gco", true)
	require.False(t, ok)
	require.Empty(t, s.List())
}
