package uvar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	tests := map[string][]string{
		"empty":          nil,
		"single":         {"red"},
		"multi":          {"1", "2", "3"},
		"newline":        {"a\nb"},
		"backslash":      {`a\b`},
		"control":        {"a\x01b"},
		"unicode":        {"héllo", "日本語"},
		"empty-value":    {""},
		"single-space":   {"a b"},
		"doubled-space":  {"a  b"},
		"trailing-space": {"foo "},
		"leading-space":  {" foo"},
		"tab":            {"a\tb"},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			escaped := escapeValue(values)
			got := unescapeValue(escaped)
			if len(values) == 0 {
				require.Nil(t, got)
				return
			}
			require.Equal(t, values, got)
		})
	}
}

func TestParseSerializeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fish_variables")

	s, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("color", env.Value{Values: []string{"red"}}))
	require.NoError(t, s.Set("PATHY", env.Value{Values: []string{"/a", "/b"}, Pathvar: true, Exported: true}))

	v, ok := s.Get("color")
	require.True(t, ok)
	require.Equal(t, []string{"red"}, v.Values)

	v, ok = s.Get("PATHY")
	require.True(t, ok)
	require.True(t, v.Exported)
	require.True(t, v.Pathvar)

	require.NoError(t, s.Remove("color"))
	_, ok = s.Get("color")
	require.False(t, ok)

	require.ElementsMatch(t, []string{"PATHY"}, s.Names())
}

// Whitespace inside values is left literal by the escape grammar, so the
// record parser must take the payload by position; anything that
// re-splits the line on whitespace corrupts these.
func TestWhitespaceValuesSurviveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fish_variables")

	a, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer a.Close()

	values := map[string][]string{
		"doubled":  {"a  b"},
		"trailing": {"foo "},
		"leading":  {" foo"},
		"multi":    {"one two", " three "},
	}
	for name, vs := range values {
		require.NoError(t, a.Set(name, env.Value{Values: vs}))
	}

	// A second store reads the rewritten file from scratch.
	b, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer b.Close()

	for name, want := range values {
		v, ok := b.Get(name)
		require.True(t, ok, name)
		require.Equal(t, want, v.Values, name)
	}
}

func TestUnknownFlagsForwardedOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fish_variables")

	contents := "# VERSION: 3.0\nSETUVAR --export --fancy-new-flag keep:v1\nSETUVAR plain:v2\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	s, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer s.Close()

	// Touch an unrelated name to force a rewrite.
	require.NoError(t, s.Set("other", env.Value{Values: []string{"x"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "--fancy-new-flag keep:")

	v, ok := s.Get("keep")
	require.True(t, ok)
	require.True(t, v.Exported)
	require.Equal(t, []string{"v1"}, v.Values)
}

func TestCrossProcessSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fish_variables")

	a, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer a.Close()

	b, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set("color", env.Value{Values: []string{"red"}}))

	var observed env.Value
	var sawSet bool
	b.SetOnChange(func(name string, v env.Value, ok bool) {
		if name == "color" && ok {
			observed = v
			sawSet = true
		}
	})
	require.NoError(t, b.Sync())

	require.True(t, sawSet)
	require.Equal(t, []string{"red"}, observed.Values)

	v, ok := b.Get("color")
	require.True(t, ok)
	require.Equal(t, []string{"red"}, v.Values)
}

func TestUnknownVersionIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fish_variables")

	contents := "# VERSION: 99.0\nSETUVAR fromfuture:value\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	s, err := New(Config{Path: path, Notifier: newPollNotifier(path, time.Hour)})
	require.NoError(t, err)
	defer s.Close()

	v, ok := s.Get("fromfuture")
	require.True(t, ok)
	require.Equal(t, []string{"value"}, v.Values)
	require.True(t, s.unknownVersion)
}
