// Package reaper implements the topic-monitor-driven loop that calls
// waitpid on terminated children, updates Process/Job state, and posts
// process-exit/job-exit/caller-exit events through internal/event.
package reaper

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/event"
	"github.com/fish-shell/fish-shell-sub008/internal/log"
	"github.com/fish-shell/fish-shell-sub008/internal/proc"
	"github.com/fish-shell/fish-shell-sub008/internal/topic"
	"github.com/fish-shell/fish-shell-sub008/internal/waithandle"
)

var logger = log.New(os.Stderr, "[reaper] ")

// JobRegistry is the execution engine's active-job list, as the reaper
// needs to see it: enumerate every job still being tracked, and move a
// completed one out of the active set once the reaper is done with it.
type JobRegistry interface {
	ActiveJobs() []*proc.Job
	RetireJob(j *proc.Job)
}

// SummaryPrinter renders the fish_job_summary event.
// internal/execengine wires this to the event bus (posting a KindGeneric event
// named "fish_job_summary") or, in tests, a recording stub.
type SummaryPrinter interface {
	PrintJobSummary(j *proc.Job, p *proc.Process, ended bool)
}

// InternalProcess is a built-in or function running on a helper
// goroutine whose completion doesn't come through SIGCHLD. Done reports
// whether it has finished and its Status.
type InternalProcess interface {
	Process() *proc.Process
	Done() (proc.Status, bool)
}

// Reaper drives the reap loop.
type Reaper struct {
	monitor  *topic.Monitor
	bus      *event.Bus
	handles  *waithandle.Store
	jobs     JobRegistry
	summary  SummaryPrinter
	internal []InternalProcess

	disownedMu sync.Mutex
	disowned   map[int]struct{}
}

// New creates a Reaper.
func New(m *topic.Monitor, bus *event.Bus, handles *waithandle.Store, jobs JobRegistry, summary SummaryPrinter) *Reaper {
	return &Reaper{
		monitor:  m,
		bus:      bus,
		handles:  handles,
		jobs:     jobs,
		summary:  summary,
		disowned: make(map[int]struct{}),
	}
}

// RegisterInternal adds a built-in/function helper to the set polled at
// step 4.
func (r *Reaper) RegisterInternal(p InternalProcess) {
	r.internal = append(r.internal, p)
}

// Disown marks pid as disclaimed; it will
// be polled with waitpid(pid, WNOHANG) on future passes and pruned silently,
// with no process-exit event and no zombie.
func (r *Reaper) Disown(pid int) {
	r.disownedMu.Lock()
	defer r.disownedMu.Unlock()
	r.disowned[pid] = struct{}{}
}

// snapshotReapable computes the minimum-of-generations snapshot across
// every reapable process.
func (r *Reaper) snapshotReapable() topic.Generations {
	var min topic.Generations
	haveMin := false
	for _, job := range r.jobs.ActiveJobs() {
		for _, p := range job.Processes {
			if p.Completed() {
				continue
			}
			g, ok := p.Gens.(topic.Generations)
			if !ok {
				continue
			}
			if !haveMin {
				min = g
				haveMin = true
				continue
			}
			for i := range min {
				if g[i] < min[i] {
					min[i] = g[i]
				}
			}
		}
	}
	if !haveMin {
		return r.monitor.Snapshot()
	}
	return min
}

// ReapOnce runs one pass of the reap loop. block controls
// whether step 2's Check call may sleep.
func (r *Reaper) ReapOnce(block bool) {
	snapshot := r.snapshotReapable()
	r.monitor.Check(snapshot, block)

	// Taken before the waitpid sweep: a child that dies mid-sweep bumps
	// the sigchld generation past cur, so the next blocking check wakes
	// immediately instead of sleeping through the death.
	cur := r.monitor.Snapshot()
	r.reapExternal(cur)
	r.reapInternal()
	r.pruneDisowned()
	r.retireCompletedJobs()
}

// reapExternal implements step 3: waitpid(WNOHANG|WUNTRACED|WCONTINUED) on
// every tracked, not-yet-completed external process. Survivors have their
// generation snapshot advanced to cur so the next pass blocks instead of
// re-polling them.
func (r *Reaper) reapExternal(cur topic.Generations) {
	for _, job := range r.jobs.ActiveJobs() {
		if !job.Flags.Constructed {
			// Reap gating: don't reap the leader until the
			// whole pipeline has been constructed, or its pgid could be
			// recycled before trailing processes join the group.
			continue
		}
		for _, p := range job.Processes {
			if p.Type != proc.TypeExternal || p.Completed() {
				continue
			}
			pid := p.PID()
			if pid <= 0 {
				continue
			}
			if p.WaitHandle() == nil {
				p.SetWaitHandle(r.handles.GetOrCreate(pid, job.InternalJobID, baseName(p)))
			}
			r.reapOne(job, p, pid)
			if !p.Completed() {
				p.Gens = cur
			}
		}
	}
}

func (r *Reaper) reapOne(job *proc.Job, p *proc.Process, pid int) {
	var ws unix.WaitStatus
	gotPid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
	if err != nil {
		if err != unix.ECHILD {
			logger.Warnf("wait4(%d): %v", pid, err)
		}
		return
	}
	if gotPid != pid {
		return // no state change
	}

	switch {
	case ws.Exited() || ws.Signaled():
		status := proc.StatusFromWait(syscall.WaitStatus(ws))
		p.MarkCompleted(status)
		if h, ok := p.WaitHandle().(*waithandle.Handle); ok {
			h.SetStatus(status.Code)
		}
		if ws.Signaled() && (ws.Signal() == unix.SIGINT || ws.Signal() == unix.SIGQUIT) {
			job.Group.LatchCancelSignal(int(ws.Signal()))
		}
		r.bus.Post(event.Event{Kind: event.KindProcessExit, Arg: strconv.Itoa(pid)})
	case ws.Stopped():
		p.SetStopped(true)
	case ws.Continued():
		p.SetStopped(false)
	}
}

// reapInternal implements step 4.
func (r *Reaper) reapInternal() {
	remaining := r.internal[:0]
	for _, ip := range r.internal {
		status, done := ip.Done()
		if !done {
			remaining = append(remaining, ip)
			continue
		}
		p := ip.Process()
		p.MarkCompleted(status)
		r.monitor.Bump(topic.InternalExit)
		r.bus.Post(event.Event{Kind: event.KindProcessExit, Arg: strconv.Itoa(p.PID())})
	}
	r.internal = remaining
}

// pruneDisowned polls each disclaimed pid with waitpid(pid, WNOHANG),
// dropping them from the disowned set as they exit; this prevents zombies
// from `disown` without emitting any event.
func (r *Reaper) pruneDisowned() {
	r.disownedMu.Lock()
	defer r.disownedMu.Unlock()

	for pid := range r.disowned {
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == nil && got == pid {
			delete(r.disowned, pid)
		}
	}
}

// retireCompletedJobs implements steps 5-7: emit job-exit/caller-exit for
// completed group-root jobs, queue fish_job_summary, and move finished
// jobs out of the active list, transferring wait handles to the completed
// cache (the waithandle.Store already outlives the Job/Process; nothing
// further to transfer).
func (r *Reaper) retireCompletedJobs() {
	for _, job := range r.jobs.ActiveJobs() {
		if job.AnyStopped() && !job.AllCompleted() {
			if !job.Flags.NotifiedOfStop {
				job.Flags.NotifiedOfStop = true
				if r.summary != nil {
					r.summary.PrintJobSummary(job, nil, false)
				}
			}
			continue
		}
		if !job.AllCompleted() {
			continue
		}

		if job.Flags.IsGroupRoot && job.HasExternalProcess() {
			r.bus.Post(event.Event{Kind: event.KindJobExit, Arg: strconv.Itoa(lastPID(job))})
		}
		r.bus.Post(event.Event{Kind: event.KindCallerExit, Arg: strconv.FormatUint(job.InternalJobID, 10)})

		// Foreground jobs that ran to completion don't get a summary; the
		// user watched them finish. Background jobs do, unless the job asked
		// to skip notification.
		if job.Properties.InitialBackground && !job.Properties.SkipNotification && r.summary != nil {
			r.summary.PrintJobSummary(job, nil, true)
		}

		r.jobs.RetireJob(job)
	}
}

func lastPID(j *proc.Job) int {
	if len(j.Processes) == 0 {
		return 0
	}
	return j.Processes[len(j.Processes)-1].PID()
}

// baseName is the short process name a `wait`-by-name lookup matches
// against.
func baseName(p *proc.Process) string {
	if len(p.Argv) == 0 {
		return ""
	}
	return filepath.Base(p.Argv[0])
}
