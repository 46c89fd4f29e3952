package shell

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fish-shell/fish-shell-sub008/internal/abbr"
)

// captureStdout swaps the real os.Stdout for a pipe for the duration of fn,
// since external processes write to the
// real fd 1, not any io.Writer the Shell itself is configured with.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		done <- string(b)
	}()

	fn()

	w.Close()
	out := <-done
	os.Stdout = orig
	return out
}

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{
		UvarPath:    dir + "/fish_variables",
		HistoryPath: dir + "/fish_history",
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestEndToEndScenarios(t *testing.T) {
	t.Run("pipeline status and pipestatus", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "echo hello | tr a-z A-Z")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "HELLO\n", out)
	})

	t.Run("false then status", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "false; echo $status")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "1\n", out)
	})

	t.Run("set -l and for loop", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "set -l x 1 2 3; for v in $x; echo $v; end")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "1\n2\n3\n", out)
	})

	t.Run("not false", func(t *testing.T) {
		s := newTestShell(t)
		status := s.RunScript(context.Background(), "not false")
		require.Equal(t, 0, status)
	})

	t.Run("not true", func(t *testing.T) {
		s := newTestShell(t)
		status := s.RunScript(context.Background(), "not true")
		require.Equal(t, 1, status)
	})

	t.Run("builtin pipeline", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "echo hello | string upper")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "HELLO\n", out)
	})

	t.Run("pipestatus", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			s.RunScript(context.Background(), "false | true; echo $pipestatus")
		})
		require.Equal(t, "1 0\n", out)
	})

	t.Run("command substitution", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "echo (echo inner)")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "inner\n", out)
	})

	t.Run("function definition and call", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			status := s.RunScript(context.Background(), "function greet; echo hi $argv; end; greet world")
			require.Equal(t, 0, status)
		})
		require.Equal(t, "hi world\n", out)
	})

	t.Run("function return unwinds", func(t *testing.T) {
		s := newTestShell(t)
		status := s.RunScript(context.Background(), "function f; return 4; echo unreachable; end; f")
		require.Equal(t, 4, status)
	})

	t.Run("if else", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			s.RunScript(context.Background(), "if false; echo then; else; echo otherwise; end")
		})
		require.Equal(t, "otherwise\n", out)
	})

	t.Run("switch", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			s.RunScript(context.Background(), "switch b; case a; echo A; case b; echo B; end")
		})
		require.Equal(t, "B\n", out)
	})

	t.Run("conjunctions", func(t *testing.T) {
		s := newTestShell(t)
		out := captureStdout(t, func() {
			s.RunScript(context.Background(), "true && echo yes || echo no")
		})
		require.Equal(t, "yes\n", out)
	})

	t.Run("background job then wait", func(t *testing.T) {
		s := newTestShell(t)
		status := s.RunScript(context.Background(), "sleep 0.2 &\nwait $last_pid")
		require.Equal(t, 0, status)
	})
}

func TestAbbreviationReplacementMayBeFunction(t *testing.T) {
	s := newTestShell(t)
	status := s.RunScript(context.Background(), "function pick_cmd; echo true; end")
	require.Equal(t, 0, status)
	require.NoError(t, s.Abbreviations().Add(abbr.Abbreviation{
		Name:        "xx",
		Key:         "xx",
		Replacement: "pick_cmd",
		Pos:         abbr.Command,
	}))

	// Expanding `xx` resolves the function-named replacement by calling
	// pick_cmd, whose output ("true") becomes the command actually run.
	status = s.RunScript(context.Background(), "xx")
	require.Equal(t, 0, status)

	status = s.RunScript(context.Background(), "not xx")
	require.Equal(t, 1, status)
}

func TestVariableEventHandlerFires(t *testing.T) {
	s := newTestShell(t)
	out := captureStdout(t, func() {
		s.RunScript(context.Background(), "function noted --on-variable color; echo changed $argv; end; set -g color red")
	})
	require.Equal(t, "changed color\n", out)
}

func TestCommandNotFoundStatus(t *testing.T) {
	s := newTestShell(t)
	status := s.RunScript(context.Background(), "definitely-not-a-command-xyz")
	require.Equal(t, 127, status)
}

func TestBraceAndVariableExpansionThroughEcho(t *testing.T) {
	s := newTestShell(t)
	out := captureStdout(t, func() {
		s.RunScript(context.Background(), "echo {a,b}2")
	})
	require.Equal(t, "a2 b2\n", out)

	out = captureStdout(t, func() {
		s.RunScript(context.Background(), "set -g v hi; echo $v there")
	})
	require.Equal(t, "hi there\n", out)
}

func TestRunScriptParseErrorReturnsMisuse(t *testing.T) {
	s := newTestShell(t)
	status := s.RunScript(context.Background(), "if true")
	require.Equal(t, ExitMisuse, status)
}

func TestSeedEnvExportsPath(t *testing.T) {
	s := newTestShell(t)
	environ := s.Env().Environ()
	found := false
	for _, kv := range environ {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			found = true
		}
	}
	require.True(t, found, "expected PATH to be exported into the environ slice: %v", environ)
}
