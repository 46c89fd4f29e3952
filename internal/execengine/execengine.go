// Package execengine walks the AST top-down: assembling Jobs, deciding
// job control, building pipes, launching each process by type,
// transferring the tty, and waiting for completion.
package execengine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/abbr"
	"github.com/fish-shell/fish-shell-sub008/internal/ast"
	"github.com/fish-shell/fish-shell-sub008/internal/builtin"
	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/event"
	"github.com/fish-shell/fish-shell-sub008/internal/expand"
	"github.com/fish-shell/fish-shell-sub008/internal/log"
	"github.com/fish-shell/fish-shell-sub008/internal/proc"
	"github.com/fish-shell/fish-shell-sub008/internal/reaper"
	"github.com/fish-shell/fish-shell-sub008/internal/sigplumb"
	"github.com/fish-shell/fish-shell-sub008/internal/topic"
	"github.com/fish-shell/fish-shell-sub008/internal/waithandle"
)

var logger = log.New(os.Stderr, "[execengine] ")

// blockRef remembers which AST node a TypeBlockNode process evaluates,
// since proc.Process carries no AST reference of its own.
type blockRef struct {
	arena *ast.Arena
	id    ast.NodeID
}

// functionDef is a registered `function name; ...; end` body.
type functionDef struct {
	Name   string
	Params []string
	Body   ast.NodeID
	Arena  *ast.Arena
}

// Engine is the process-wide execution orchestrator. It implements
// internal/reaper.JobRegistry, internal/builtin.Host, and
// internal/expand.CommandSubstituter all at once, since every one of those
// roles needs the same active-job bookkeeping.
type Engine struct {
	EnvStack *env.Stack
	Bus      *event.Bus
	Monitor  *topic.Monitor
	Reaper   *reaper.Reaper
	Handles  *waithandle.Store
	Abbrevs  *abbr.Store
	sig      *sigplumb.Plumbing

	jobControlMode string // "full" | "interactive" | "none"
	interactive    bool
	login          bool
	shellPgid      int
	ttyFD          int

	mu                sync.Mutex
	activeJobs        []*proc.Job
	blockRefs         map[*proc.Process]blockRef
	functions         map[string]*functionDef
	nextJobID         int
	nextInternalJobID uint64

	blockDepth     int32 // atomic
	cmdSubstDepth  int32 // atomic
	currentCommand atomic.Value // string

	// captureOut, when set, replaces fd 1 in every launched process's base
	// fd table; runCaptured points it at a pipe for the duration of a
	// command substitution. Only touched on the main evaluation goroutine.
	captureOut *os.File

	exitRequested   bool
	exitCode        int
	returnRequested bool
	returnCode      int
}

// Config configures a new Engine.
type Config struct {
	Env            *env.Stack
	Bus            *event.Bus
	Abbrevs        *abbr.Store
	Interactive    bool
	Login          bool
	JobControlMode string // "full" | "interactive" | "none"; "" means "interactive"
}

// New constructs an Engine with its own topic monitor, reaper, and signal
// plumbing wired together in that order.
func New(cfg Config) (*Engine, error) {
	mon, err := topic.New()
	if err != nil {
		return nil, err
	}
	mode := cfg.JobControlMode
	if mode == "" {
		mode = "interactive"
	}
	e := &Engine{
		EnvStack:       cfg.Env,
		Bus:            cfg.Bus,
		Monitor:        mon,
		Handles:        waithandle.New(0),
		Abbrevs:        cfg.Abbrevs,
		jobControlMode: mode,
		interactive:    cfg.Interactive,
		login:          cfg.Login,
		shellPgid:      unix.Getpgrp(),
		ttyFD:          int(os.Stdin.Fd()),
		blockRefs:      make(map[*proc.Process]blockRef),
		functions:      make(map[string]*functionDef),
	}
	e.currentCommand.Store("")
	e.Reaper = reaper.New(mon, cfg.Bus, e.Handles, e, summaryAdapter{e})
	e.sig = sigplumb.Install(mon)
	return e, nil
}

// Close tears down the Engine's signal plumbing and topic monitor.
func (e *Engine) Close() {
	if e.sig != nil {
		e.sig.Stop()
	}
	e.Monitor.Close()
}

// summaryAdapter turns a completed/stopped job into a fish_job_summary
// event, posted through the shared bus rather than
// printed directly so internal/shell controls when it's flushed to the
// terminal.
type summaryAdapter struct{ e *Engine }

func (s summaryAdapter) PrintJobSummary(j *proc.Job, p *proc.Process, ended bool) {
	arg := "stopped"
	if ended {
		arg = "ended"
	}
	s.e.Bus.Post(event.Event{Kind: event.KindGeneric, Arg: "fish_job_summary", Argv: []string{arg, j.Command}})
}

// ActiveJobs and RetireJob implement internal/reaper.JobRegistry.
func (e *Engine) ActiveJobs() []*proc.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*proc.Job, len(e.activeJobs))
	copy(out, e.activeJobs)
	return out
}

func (e *Engine) RetireJob(j *proc.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, job := range e.activeJobs {
		if job == j {
			e.activeJobs = append(e.activeJobs[:i], e.activeJobs[i+1:]...)
			return
		}
	}
}

func (e *Engine) addActiveJob(j *proc.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// The job id is the smallest positive integer no active job holds; a
	// pipeline of a single internal process takes none.
	if len(j.Processes) != 1 || j.Processes[0].Type == proc.TypeExternal || j.Processes[0].Type == proc.TypeExec {
		id := 1
		for taken := true; taken; {
			taken = false
			for _, a := range e.activeJobs {
				if got, ok := a.Group.JobID(); ok && got == id {
					id++
					taken = true
				}
			}
		}
		j.Group.AssignJobID(id)
	}
	e.nextInternalJobID++
	j.InternalJobID = e.nextInternalJobID
	e.activeJobs = append(e.activeJobs, j)
}

// RegisterFunction defines (or replaces) a function, the side effect of
// evaluating a `function name ...; end` block.
func (e *Engine) RegisterFunction(name string, params []string, body ast.NodeID, arena *ast.Arena) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = &functionDef{Name: name, Params: params, Body: body, Arena: arena}
}

func (e *Engine) lookupFunction(name string) (*functionDef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.functions[name]
	return f, ok
}

// decideJobControl: enabled iff the session is interactive and the mode
// is "interactive", or the mode is "full" regardless of interactivity.
func (e *Engine) decideJobControl() bool {
	switch e.jobControlMode {
	case "full":
		return true
	case "interactive":
		return e.interactive
	default:
		return false
	}
}

func (e *Engine) newExpander() *expand.Expander {
	var abbrevs expand.AbbreviationExpander
	if e.Abbrevs != nil {
		abbrevs = abbrExpander{e}
	}
	return expand.New(expand.Config{
		Abbreviations: abbrevs,
		CommandSubst:  e,
		Env:           env.NewAccessor(e.EnvStack),
	})
}

// RunJobList evaluates one parsed JobList, honoring each Job's
// Conjunction against the previous Job's $status.
func (e *Engine) RunJobList(ctx context.Context, arena *ast.Arena, id ast.NodeID) int {
	n := arena.Node(id)
	status := 0
	for _, jobID := range n.Jobs {
		jn := arena.Node(jobID)
		switch jn.Conjunction {
		case ast.ConjunctionAnd:
			if status != 0 {
				continue
			}
		case ast.ConjunctionOr:
			if status == 0 {
				continue
			}
		}
		status = e.runJob(ctx, arena, jobID)
		e.EnvStack.Set("status", []string{fmt.Sprint(status)}, env.SetOptions{Scope: env.ScopeGlobal})
		e.Bus.Drain()
		if e.exitRequested || e.returnRequested {
			break
		}
	}
	return status
}

// runJob dispatches one Job: a lone control-structure statement is
// evaluated inline without going through process assembly; everything
// else becomes a proc.Job launched through the reaper-backed machinery.
func (e *Engine) runJob(ctx context.Context, arena *ast.Arena, jobID ast.NodeID) int {
	jn := arena.Node(jobID)

	if len(jn.Pipeline) == 1 {
		st := arena.Node(jn.Pipeline[0])
		real := arena.Node(st.Inner)
		if isControlKind(real.Kind) {
			status := e.evalControl(ctx, arena, st.Inner)
			return negateIf(jn.Negate, status)
		}
	}

	job, err := e.buildJob(ctx, arena, jobID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if pkgerrors.Is(err, errExpansion) {
			return 121
		}
		return 127
	}
	if len(job.Processes) == 0 {
		return 0
	}

	if err := e.launch(ctx, job); err != nil {
		logger.Errorf("launch: %v", err)
		fmt.Fprintln(os.Stderr, err)
		if pkgerrors.Is(err, errCommandNotFound) {
			e.Bus.Post(event.Event{Kind: event.KindGeneric, Arg: "fish_command_not_found", Argv: job.Processes[0].Argv})
			return 127
		}
		if pkgerrors.Is(err, unix.EACCES) || pkgerrors.Is(err, unix.ENOEXEC) {
			return 126
		}
		for _, p := range job.Processes {
			if p.Type == proc.TypeExec {
				return 127
			}
		}
		return 1
	}

	e.addActiveJob(job)

	if job.Properties.InitialBackground {
		if pid := lastExternalPID(job); pid > 0 {
			e.EnvStack.Set("last_pid", []string{fmt.Sprint(pid)}, env.SetOptions{Scope: env.ScopeGlobal})
		}
		return 0
	}

	job.Group.SetForeground(true)
	status := e.waitForeground(ctx, job)
	job.Group.SetForeground(false)
	e.setPipestatus(job)
	return status
}

func lastExternalPID(job *proc.Job) int {
	for i := len(job.Processes) - 1; i >= 0; i-- {
		if pid := job.Processes[i].PID(); pid > 0 {
			return pid
		}
	}
	return 0
}

// setPipestatus publishes one status per pipeline stage into $pipestatus.
func (e *Engine) setPipestatus(job *proc.Job) {
	codes := job.Pipestatus()
	values := make([]string, len(codes))
	for i, c := range codes {
		values[i] = fmt.Sprint(c)
	}
	e.EnvStack.Set("pipestatus", values, env.SetOptions{Scope: env.ScopeGlobal})
}

func isControlKind(k ast.Kind) bool {
	return k == ast.KindBlockStatement || k == ast.KindIfStatement || k == ast.KindSwitchStatement
}

func negateIf(negate bool, status int) int {
	if !negate {
		return status
	}
	if status == 0 {
		return 1
	}
	return 0
}

// Substitute implements internal/expand.CommandSubstituter: parse and run
// cmd as a nested job list with stdout captured, rather than written to
// the real terminal.
func (e *Engine) Substitute(ctx context.Context, cmd string) (string, int, error) {
	atomic.AddInt32(&e.cmdSubstDepth, 1)
	defer atomic.AddInt32(&e.cmdSubstDepth, -1)
	return e.runCaptured(ctx, cmd)
}

// Host interface (internal/builtin.Host).

func (e *Engine) Env() *env.Stack                { return e.EnvStack }
func (e *Engine) WaitHandles() *waithandle.Store { return e.Handles }
func (e *Engine) Emit(name string)               { e.Bus.Emit(name) }

// Reap runs one reaper pass on behalf of a built-in (`wait`) that needs
// completion state to advance while it blocks the main goroutine.
func (e *Engine) Reap(block bool) { e.Reaper.ReapOnce(block) }

// Disown detaches the active job owning pid from event dispatch and job
// summaries, handing the pid to the reaper's quiet-poll list. Returns
// false if no active job owns pid.
func (e *Engine) Disown(pid int) bool {
	e.mu.Lock()
	var owner *proc.Job
	for _, job := range e.activeJobs {
		for _, p := range job.Processes {
			if p.PID() == pid {
				owner = job
			}
		}
	}
	if owner != nil {
		owner.Flags.DisownRequested = true
		owner.Properties.SkipNotification = true
		for i, job := range e.activeJobs {
			if job == owner {
				e.activeJobs = append(e.activeJobs[:i], e.activeJobs[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()

	if owner == nil {
		return false
	}
	for _, p := range owner.Processes {
		if ppid := p.PID(); ppid > 0 && !p.Completed() {
			e.Reaper.Disown(ppid)
		}
	}
	return true
}

func (e *Engine) RequestExit(code int) {
	e.exitRequested = true
	e.exitCode = code
}

// ExitRequested reports whether a built-in (`exit`) has asked the shell to
// terminate, and the code it should terminate with.
func (e *Engine) ExitRequested() (int, bool) {
	return e.exitCode, e.exitRequested
}

func (e *Engine) RequestReturn(code int) {
	e.returnRequested = true
	e.returnCode = code
}

func (e *Engine) Interactive() bool           { return e.interactive }
func (e *Engine) Login() bool                 { return e.login }
func (e *Engine) InBlock() bool               { return atomic.LoadInt32(&e.blockDepth) > 0 }
func (e *Engine) InCommandSubstitution() bool { return atomic.LoadInt32(&e.cmdSubstDepth) > 0 }
func (e *Engine) CurrentCommand() string      { return e.currentCommand.Load().(string) }
func (e *Engine) JobControlMode() string      { return e.jobControlMode }

// Interrupted reports whether SIGINT/SIGQUIT has arrived since the last
// ClearInterrupt; internal/shell
// polls this between prompts to decide whether to print a fresh one.
func (e *Engine) Interrupted() bool {
	if e.sig == nil {
		return false
	}
	return e.sig.Interrupted()
}

// ClearInterrupt resets the flag Interrupted reports.
func (e *Engine) ClearInterrupt() {
	if e.sig != nil {
		e.sig.ClearInterrupt()
	}
}

func (e *Engine) RunExternal(argv []string, io *builtin.IoStreams) int {
	if len(argv) == 0 {
		return 127
	}
	p := &proc.Process{Type: proc.TypeExternal, Argv: argv}
	job := &proc.Job{
		Processes:  []*proc.Process{p},
		Group:      proc.NewJobGroup(argv[0], false, false),
		Flags:      proc.Flags{IsGroupRoot: true},
		Properties: proc.Properties{SkipNotification: true},
	}
	if err := e.launch(context.Background(), job); err != nil {
		fmt.Fprintln(io.Err, err)
		return 127
	}
	e.addActiveJob(job)
	return e.waitForeground(context.Background(), job)
}

func (e *Engine) Source(src string, args []string, io *builtin.IoStreams) int {
	return e.runSourceInline(src, args)
}
