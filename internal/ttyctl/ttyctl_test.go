package ttyctl

import (
	"os"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// newTestPTY allocates a real pty so job-control tests can exercise tty
// transfer without an attached terminal.
func newTestPTY(t testing.TB) (*os.File, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		master.Close()
		slave.Close()
	})
	return master, slave
}

func TestSaveRestoreTermios(t *testing.T) {
	_, slave := newTestPTY(t)

	st, err := SaveTermios(int(slave.Fd()))
	require.NoError(t, err)
	require.NotNil(t, st)

	require.NoError(t, RestoreTermios(int(slave.Fd()), st))
}

func TestRestoreTermiosNil(t *testing.T) {
	require.NoError(t, RestoreTermios(0, nil))
}

func TestTransferToNoTTY(t *testing.T) {
	// A plain (non-tty) file: IoctlGetInt fails with ENOTTY, which must be
	// swallowed rather than propagated.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	err = TransferTo(int(r.Fd()), 1234, 1, nil)
	require.NoError(t, err)
}
