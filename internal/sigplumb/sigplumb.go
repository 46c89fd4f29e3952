// Package sigplumb installs the shell's signal handling. Go can't
// install a raw POSIX sigaction from user code, so signal.Notify delivers
// signals on a channel serviced by one dedicated goroutine whose only job
// per signal is a topic Bump: an atomic add plus a self-pipe write. The
// runtime's signal-to-channel plumbing stands in for sigaction here;
// nothing on this path touches process or job state directly.
package sigplumb

import (
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/topic"
)

// Plumbing owns the signal.Notify channel and its servicing goroutine.
type Plumbing struct {
	monitor     *topic.Monitor
	sigCh       chan os.Signal
	done        chan struct{}
	interrupted int32 // atomic bool
}

// Install starts routing SIGCHLD, SIGHUP, SIGINT, and SIGQUIT into m's
// topics. SIGHUP, SIGINT and SIGQUIT additionally set the interrupt flag
// that long-running loops poll between steps.
func Install(m *topic.Monitor) *Plumbing {
	p := &Plumbing{
		monitor: m,
		sigCh:   make(chan os.Signal, 16),
		done:    make(chan struct{}),
	}
	signal.Notify(p.sigCh, unix.SIGCHLD, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT)
	go p.serve()
	return p
}

// Stop stops routing signals and releases the channel.
func (p *Plumbing) Stop() {
	signal.Stop(p.sigCh)
	close(p.done)
}

// Interrupted reports whether SIGHUP, SIGINT or SIGQUIT has been observed since the
// last ClearInterrupt call.
func (p *Plumbing) Interrupted() bool {
	return atomic.LoadInt32(&p.interrupted) != 0
}

// ClearInterrupt resets the interrupt flag; the execution engine calls
// this once it has acted on an interrupt (e.g. cancelled the foreground
// job) so a stale flag doesn't short-circuit the next command.
func (p *Plumbing) ClearInterrupt() {
	atomic.StoreInt32(&p.interrupted, 0)
}

func (p *Plumbing) serve() {
	for {
		select {
		case <-p.done:
			return
		case sig := <-p.sigCh:
			switch sig {
			case unix.SIGCHLD:
				p.monitor.Bump(topic.SIGCHLD)
			case unix.SIGHUP, unix.SIGINT, unix.SIGQUIT:
				atomic.StoreInt32(&p.interrupted, 1)
				p.monitor.Bump(topic.SIGHUPINT)
			}
		}
	}
}
