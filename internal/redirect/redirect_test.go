package redirect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fish-shell/fish-shell-sub008/internal/token"
)

func TestBuild_PipeDupsComeFirst(t *testing.T) {
	plan, err := Build([]PipeDup{{Src: 10, Dst: 1}}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionDup2, plan.Actions[0].Kind)
	require.Equal(t, 10, plan.Actions[0].Src)
	require.Equal(t, 1, plan.Actions[0].Dst)
}

func TestBuild_OverwriteOpensFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	plan, err := Build(nil, []Spec{{SourceFD: 1, Mode: token.RedirOverwrite, Target: path}})
	require.NoError(t, err)
	defer closeAll(plan.Opened)

	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionOpenAt, plan.Actions[0].Kind)
	require.Equal(t, 1, plan.Actions[0].Dst)
	require.NotNil(t, plan.Actions[0].File)
	require.FileExists(t, path)
}

func TestBuild_NoClobberFailsOnExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Build(nil, []Spec{{SourceFD: 1, Mode: token.RedirNoClobber, Target: path}})
	require.Error(t, err)
}

func TestBuild_DupFdCloses(t *testing.T) {
	plan, err := Build(nil, []Spec{{SourceFD: 3, Mode: token.RedirDupFd, DupFD: -1}})
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionClose, plan.Actions[0].Kind)
	require.Equal(t, 3, plan.Actions[0].FD)
}

func TestBuild_DupFdDuplicates(t *testing.T) {
	plan, err := Build(nil, []Spec{{SourceFD: 2, Mode: token.RedirDupFd, DupFD: 1}})
	require.NoError(t, err)
	require.Equal(t, ActionDup2, plan.Actions[0].Kind)
	require.Equal(t, 1, plan.Actions[0].Src)
	require.Equal(t, 2, plan.Actions[0].Dst)
}

func TestBuild_ErrorClosesAlreadyOpenedFiles(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.txt")
	missing := filepath.Join(dir, "nope", "missing.txt")

	_, err := Build(nil, []Spec{
		{SourceFD: 1, Mode: token.RedirOverwrite, Target: ok},
		{SourceFD: 0, Mode: token.RedirInput, Target: missing},
	})
	require.Error(t, err)
}
