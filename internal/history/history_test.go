package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fish_history")
	w := NewWriter(path)

	require.NoError(t, w.Append("ls -la", 1000, nil))
	require.NoError(t, w.Append("cat file.txt", 1001, []string{"file.txt"}))

	r := NewReader(path)
	entries, err := r.All()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "ls -la", entries[0].Cmd)
	require.Equal(t, int64(1000), entries[0].When)
	require.Empty(t, entries[0].Paths)

	require.Equal(t, "cat file.txt", entries[1].Cmd)
	require.Equal(t, []string{"file.txt"}, entries[1].Paths)
}

func TestAppendEscapesNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fish_history")
	w := NewWriter(path)
	require.NoError(t, w.Append("echo a\nb", 2000, nil))

	r := NewReader(path)
	entries, err := r.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "echo a\nb", entries[0].Cmd)
}

func TestReverseSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fish_history")
	w := NewWriter(path)
	require.NoError(t, w.Append("git status", 1, nil))
	require.NoError(t, w.Append("git commit", 2, nil))
	require.NoError(t, w.Append("ls", 3, nil))

	r := NewReader(path)
	matches, err := r.ReverseSearch("git")
	require.NoError(t, err)
	require.Equal(t, []string{"git commit", "git status"}, []string{matches[0].Cmd, matches[1].Cmd})
}

func TestReadMissingFile(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "does-not-exist"))
	entries, err := r.All()
	require.NoError(t, err)
	require.Nil(t, entries)
}
