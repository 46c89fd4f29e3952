// Package ttyctl wraps golang.org/x/term and golang.org/x/sys/unix with
// the terminal-ownership transfer the execution engine needs:
// tcgetpgrp/tcsetpgrp with per-errno handling (ENOTTY/EBADF mean no tty;
// EINVAL, or EPERM with the group leader gone, mean the target group
// died), plus termios save/restore
// for a suspended job group's tmodes.
package ttyctl

import (
	"os"
	"syscall"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[ttyctl] ")

// SaveTermios captures fd's current terminal mode via term.GetState, which
// under the hood performs the TCGETATTR ioctl; the returned *term.State is
// stored verbatim on JobGroup.tmodes.
func SaveTermios(fd int) (*term.State, error) {
	st, err := term.GetState(fd)
	if err != nil {
		return nil, wrap("save", err)
	}
	return st, nil
}

// RestoreTermios is the inverse of SaveTermios, applied when a job is
// foregrounded again after SIGTSTP/SIGCONT.
func RestoreTermios(fd int, st *term.State) error {
	if st == nil {
		return nil
	}
	if err := term.Restore(fd, st); err != nil {
		return wrap("restore", err)
	}
	return nil
}

// TransferTo hands the controlling terminal to pgid: because the
// shell ignores SIGTTOU it can always issue tcsetpgrp, but to avoid
// zombifying other processes it first checks tcgetpgrp and only transfers
// when it (or the target) already owns the tty. alive reports (via
// waitpid WNOHANG on the group leader, supplied by the caller) whether the
// target group is still alive, used to resolve EPERM/EINVAL per the
// spec's error table.
func TransferTo(fd int, pgid int, shellPgid int, alive func() bool) error {
	cur, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	switch {
	case err == nil:
		if cur != shellPgid && cur != pgid {
			// Neither the shell nor the target currently owns the tty;
			// transferring now could steal it from an unrelated foreground
			// group. Only transfer when the shell or the target already owns
			// the tty.
			return nil
		}
	case errIs(err, unix.ENOTTY), errIs(err, unix.EBADF):
		return nil // "no tty", skip transfer
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid); err != nil {
		switch {
		case errIs(err, unix.EPERM):
			if alive != nil && !alive() {
				return nil // group has died, abandon
			}
			return wrap("transfer(EPERM, retry)", err)
		case errIs(err, unix.EINVAL):
			return nil // group has died, abandon
		default:
			return wrap("transfer", err)
		}
	}
	return nil
}

// Reclaim restores the shell's own pgroup as the tty's foreground group
// on job completion; failure is logged but not fatal.
func Reclaim(fd int) {
	pgid := unix.Getpgrp()
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid); err != nil {
		logger.Warnf("reclaim tty: %v", err)
	}
}

func errIs(err error, target syscall.Errno) bool {
	errno, ok := err.(syscall.Errno)
	return ok && errno == target
}

func wrap(op string, err error) error {
	wrapped := pkgerrors.Wrapf(err, "ttyctl: %s", op)
	logger.Errorf("%v", wrapped)
	return wrapped
}
