package execengine

import (
	"context"

	"github.com/fish-shell/fish-shell-sub008/internal/proc"
	"github.com/fish-shell/fish-shell-sub008/internal/ttyctl"
)

// waitForeground blocks until job finishes (or stops), driving the
// shared reaper loop directly rather than polling: wait for a topic
// generation to change, then reap. Reclaims the tty once control returns
// to the shell.
func (e *Engine) waitForeground(ctx context.Context, job *proc.Job) int {
	for {
		if job.AllCompleted() || job.AnyStopped() {
			break
		}
		e.Reaper.ReapOnce(true)
		if ctx.Err() != nil {
			break
		}
	}

	// One non-blocking pass so a pipeline whose stages all completed
	// in-process (builtins, functions) still gets its exit events posted
	// and is retired from the active list.
	e.Reaper.ReapOnce(false)

	if job.Group.JobControl && job.Group.Pgid() != 0 && e.interactive {
		ttyctl.Reclaim(e.ttyFD)
	}

	return job.Status()
}
