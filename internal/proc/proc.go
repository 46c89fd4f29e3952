// Package proc implements the shell's job/process model: Job, Process,
// and JobGroup plus the invariants binding them. One Job owns N Processes
// sharing one JobGroup.
package proc

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/term"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[proc] ")

// Type identifies what kind of command a Process runs.
type Type int

const (
	TypeExternal Type = iota
	TypeBuiltin
	TypeFunction
	TypeBlockNode
	TypeExec
)

// VariableAssignment is one `NAME=value...` prefix applied only for the
// Process it's attached to.
type VariableAssignment struct {
	Name   string
	Values []string
}

// Status encodes a process's exit/signal disposition. Empty marks a status
// that didn't contribute to $status (a bare variable-assignment process),
// so pipestatus propagation can tell it apart from exit code zero; the
// zero value is exit code zero.
type Status struct {
	Code   int
	Empty  bool
	Signal syscall.Signal // valid when the process was signal-terminated
	Killed bool
}

// StatusFromWait decodes a syscall.WaitStatus into a Status, matching
// internal/jobworker/reexec.exitCode's shape generalized to also record
// signal-termination.
func StatusFromWait(ws syscall.WaitStatus) Status {
	switch {
	case ws.Exited():
		return Status{Code: ws.ExitStatus()}
	case ws.Signaled():
		return Status{Code: 128 + int(ws.Signal()), Signal: ws.Signal(), Killed: true}
	default:
		return Status{}
	}
}

// Process is a single command within a pipeline.
type Process struct {
	Type Type

	Argv                []string
	VariableAssignments []VariableAssignment
	Redirections        []RedirectionSpec

	mu        sync.Mutex
	pid       int
	status    Status
	completed bool
	stopped   bool

	// Gens is the topic-generation snapshot taken just before launch;
	// internal/reaper compares against it to skip redundant reap
	// attempts. Stored as an opaque value to avoid importing
	// internal/topic here (it would create proc -> topic -> proc cycle risk
	// as the package graph grows); the reaper type-asserts it back.
	Gens interface{}

	waitHandleOnce sync.Once
	waitHandle     interface{} // *waithandle.Handle, set lazily; see SetWaitHandle
}

// RedirectionSpec is the expanded, process-local redirection: Target has
// already been through internal/expand.
type RedirectionSpec struct {
	SourceFD int
	Target   string
	Mode     int // token.RedirMode, duplicated here to avoid import cycle
	DupFD    int32
}

// SetPID records the pid assigned after fork/posix_spawn. Called exactly
// once.
func (p *Process) SetPID(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pid = pid
}

// PID returns the recorded pid, or 0 if unset.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// MarkCompleted records status and sets completed=true. completed is set
// exactly once and the transition is monotonic; subsequent calls are
// no-ops.
func (p *Process) MarkCompleted(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return
	}
	p.status = status
	p.completed = true
	p.stopped = false
}

// SetStopped flips the stopped flag. It may flip false->true->false
// repeatedly (SIGSTOP/SIGCONT) but never once Completed is true.
func (p *Process) SetStopped(stopped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return
	}
	p.stopped = stopped
}

// Completed, Stopped, Status report the process's current state.
func (p *Process) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetWaitHandle lazily attaches h; internal/reaper calls it the first time
// it polls the process's pid. Subsequent calls are ignored; the handle
// outlives the process.
func (p *Process) SetWaitHandle(h interface{}) {
	p.waitHandleOnce.Do(func() {
		p.waitHandle = h
	})
}

// WaitHandle returns the attached handle, or nil if none has been created.
func (p *Process) WaitHandle() interface{} {
	return p.waitHandle
}

// Flags are the Job-level mutable bits.
type Flags struct {
	Constructed     bool
	NotifiedOfStop  bool
	Negate          bool
	DisownRequested bool
	IsGroupRoot     bool
}

// Properties are immutable-after-creation Job bits.
type Properties struct {
	SkipNotification  bool
	InitialBackground bool
	FromEventHandler  bool
}

// Job is one pipeline. It owns its Process list by value.
type Job struct {
	Processes       []*Process
	Group           *JobGroup
	InternalJobID   uint64
	Flags           Flags
	Properties      Properties
	Command         string
}

// HasExternalProcess reports whether any Process in the pipeline is
// TypeExternal; job-exit only fires for jobs with at least one external
// process.
func (j *Job) HasExternalProcess() bool {
	for _, p := range j.Processes {
		if p.Type == TypeExternal {
			return true
		}
	}
	return false
}

// AllCompleted reports whether every process in the pipeline has
// completed.
func (j *Job) AllCompleted() bool {
	for _, p := range j.Processes {
		if !p.Completed() {
			return false
		}
	}
	return true
}

// AnyStopped reports whether any process in the pipeline is currently
// stopped (and none completed after it, which MarkCompleted already
// guards).
func (j *Job) AnyStopped() bool {
	for _, p := range j.Processes {
		if p.Stopped() {
			return true
		}
	}
	return false
}

// Status returns $status for this job: the last process's status, unless
// Flags.Negate is set, in which case it's the logical negation.
func (j *Job) Status() int {
	if len(j.Processes) == 0 {
		return 0
	}
	last := j.Processes[len(j.Processes)-1].Status().Code
	if j.Flags.Negate {
		if last == 0 {
			return 1
		}
		return 0
	}
	return last
}

// Pipestatus returns one integer per process for $pipestatus. A process
// whose status is "empty" (a bare variable-assignment process) copies the
// previous slot's value, keeping len(pipestatus) == len(processes).
func (j *Job) Pipestatus() []int {
	out := make([]int, len(j.Processes))
	prev := 0
	for i, p := range j.Processes {
		st := p.Status()
		if st.Empty {
			out[i] = prev
			continue
		}
		out[i] = st.Code
		prev = st.Code
	}
	return out
}

// JobGroup is shared state across a pipeline and any sub-pipelines it
// spawns via command substitution or function calls. Shared
// by reference count (a *JobGroup held by a Job and any child Jobs it
// spawns); no weak references are needed since a sub-Job
// never outlives its parent's group.
type JobGroup struct {
	Command     string
	JobControl  bool
	WantsTerm   bool

	mu          sync.Mutex
	jobID       int  // 0 means none assigned (single internal process pipeline)
	hasJobID    bool
	isForeground int32 // atomic bool
	pgid        int32 // 0 until latched; atomic
	pgidSet     int32 // atomic bool, CAS-guarded latch
	tmodes      *term.State
	cancelSig   int32 // atomic; 0 means none yet (CAS from 0)
}

// NewJobGroup constructs a JobGroup. jobID/hasJobID should be assigned by
// the caller's job-id free-list.
func NewJobGroup(command string, jobControl, wantsTerm bool) *JobGroup {
	return &JobGroup{Command: command, JobControl: jobControl, WantsTerm: wantsTerm}
}

// AssignJobID latches the user-visible small integer job id.
func (g *JobGroup) AssignJobID(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobID = id
	g.hasJobID = true
}

// JobID returns the assigned job id, if any.
func (g *JobGroup) JobID() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jobID, g.hasJobID
}

// SetForeground/IsForeground manage the atomic foreground flag.
func (g *JobGroup) SetForeground(fg bool) {
	v := int32(0)
	if fg {
		v = 1
	}
	atomic.StoreInt32(&g.isForeground, v)
}

func (g *JobGroup) IsForeground() bool {
	return atomic.LoadInt32(&g.isForeground) != 0
}

// LatchPgid sets the group's pgid exactly once. Returns false if a pgid
// was already latched; the caller should then use Pgid(), not its own
// value. This tolerates the parent/child race where both sides compute
// and would assign the same value.
func (g *JobGroup) LatchPgid(pgid int) bool {
	if !atomic.CompareAndSwapInt32(&g.pgidSet, 0, 1) {
		return false
	}
	atomic.StoreInt32(&g.pgid, int32(pgid))
	return true
}

// Pgid returns the latched pgid, or 0 if not yet set.
func (g *JobGroup) Pgid() int {
	if atomic.LoadInt32(&g.pgidSet) == 0 {
		return 0
	}
	return int(atomic.LoadInt32(&g.pgid))
}

// SaveTermios/Termios store the termios snapshot captured when the group
// is suspended.
func (g *JobGroup) SaveTermios(t *term.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tmodes = t
}

func (g *JobGroup) Termios() *term.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tmodes
}

// LatchCancelSignal records the first fatal signal observed in the
// group; later signals are ignored. Returns true iff this call was the
// one that latched it.
func (g *JobGroup) LatchCancelSignal(sig int) bool {
	return atomic.CompareAndSwapInt32(&g.cancelSig, 0, int32(sig))
}

// CancelSignal returns the latched signal, or 0 if none.
func (g *JobGroup) CancelSignal() int {
	return int(atomic.LoadInt32(&g.cancelSig))
}
