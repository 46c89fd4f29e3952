package execengine

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/builtin"
	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/proc"
	"github.com/fish-shell/fish-shell-sub008/internal/redirect"
	"github.com/fish-shell/fish-shell-sub008/internal/ttyctl"
)

// launch builds the pipes between consecutive stages, plans each process's redirections, and starts every process in
// the pipeline. Go forbids doing anything beyond dup2/close/execve between
// fork and exec, so rather than replaying a raw Action list in the child
// (which would need unsafe code to avoid the runtime), the final fd table
// for each child is pre-resolved here, in the parent, and handed to
// syscall.ForkExec as ProcAttr.Files.
func (e *Engine) launch(ctx context.Context, job *proc.Job) error {
	n := len(job.Processes)
	pipeReads := make([]*os.File, n)
	pipeWrites := make([]*os.File, n)
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return pkgerrors.Wrap(err, "execengine: pipe")
		}
		pipeReads[i+1] = r
		pipeWrites[i] = w
	}
	defer func() {
		for _, f := range pipeReads {
			if f != nil {
				f.Close()
			}
		}
		for _, f := range pipeWrites {
			if f != nil {
				f.Close()
			}
		}
	}()

	for i, p := range job.Processes {
		table := e.baseFDTable()
		if pipeReads[i] != nil {
			table[0] = pipeReads[i]
		}
		if pipeWrites[i] != nil {
			table[1] = pipeWrites[i]
		}

		plan, err := redirect.Build(nil, toRedirectSpecs(p.Redirections))
		if err != nil {
			return err
		}
		if err := applyPlan(table, plan); err != nil {
			closePlan(plan)
			return err
		}

		switch p.Type {
		case proc.TypeExternal:
			err = e.spawnExternal(job, p, table)
		case proc.TypeExec:
			err = e.spawnExec(job, p, table)
		case proc.TypeBuiltin:
			err = e.spawnBuiltin(ctx, job, p, table)
		case proc.TypeFunction:
			err = e.spawnFunction(ctx, job, p, table)
		case proc.TypeBlockNode:
			err = e.spawnBlockNode(ctx, job, p, table)
		default:
			err = pkgerrors.Errorf("execengine: unknown process type %v", p.Type)
		}

		closePlan(plan)
		if err != nil {
			return err
		}

		// This stage's pipe ends are no longer needed in the parent:
		// spawned children hold their own dups, and a later in-process
		// stage reading the pipe only sees EOF once the parent's write end
		// is gone.
		if pipeReads[i] != nil {
			pipeReads[i].Close()
			pipeReads[i] = nil
		}
		if pipeWrites[i] != nil {
			pipeWrites[i].Close()
			pipeWrites[i] = nil
		}
	}

	// Every process has been started; the reaper may now safely reap the
	// pipeline's leader without racing a not-yet-forked trailing stage.
	job.Flags.Constructed = true

	if job.Group.JobControl && job.HasExternalProcess() {
		if pid := job.Processes[0].PID(); pid > 0 {
			job.Group.LatchPgid(pid)
			if e.interactive {
				alive := func() bool { return !job.AllCompleted() }
				if err := ttyctl.TransferTo(e.ttyFD, job.Group.Pgid(), e.shellPgid, alive); err != nil {
					logger.Warnf("tty transfer: %v", err)
				}
			}
		}
	}

	return nil
}

// baseFDTable is the fd table a freshly-launched process inherits before
// pipe wiring and redirections are layered on. During a command
// substitution fd 1 starts out pointed at the capture pipe.
func (e *Engine) baseFDTable() map[int]*os.File {
	table := map[int]*os.File{
		0: os.Stdin,
		1: os.Stdout,
		2: os.Stderr,
	}
	if e.captureOut != nil {
		table[1] = e.captureOut
	}
	return table
}

// applyPlan replays a redirect.Plan's Action list against a virtual fd
// table (fd number -> the *os.File that will end up there), rather than
// against real file descriptors: ActionDup2's Src is itself resolved
// against the table, so `2>&1` means "fd 2 becomes whatever fd 1 currently
// maps to," preserving source-order semantics.
func applyPlan(table map[int]*os.File, plan redirect.Plan) error {
	for _, a := range plan.Actions {
		switch a.Kind {
		case redirect.ActionDup2:
			f, ok := table[a.Src]
			if !ok {
				return pkgerrors.Errorf("execengine: dup2 from closed fd %d", a.Src)
			}
			table[a.Dst] = f
		case redirect.ActionClose:
			delete(table, a.FD)
		case redirect.ActionOpenAt:
			table[a.Dst] = a.File
		}
	}
	return nil
}

func closePlan(plan redirect.Plan) {
	for _, f := range plan.Opened {
		f.Close()
	}
}

// procAttrFiles turns a virtual fd table into syscall.ForkExec's
// contiguous ProcAttr.Files, where slice index N becomes the child's fd N.
// Gaps (no entry for some fd below the table's maximum) get /dev/null so
// an accidental read/write on an unmapped fd fails cleanly instead of
// reusing an unrelated parent fd.
func procAttrFiles(table map[int]*os.File) ([]uintptr, func(), error) {
	max := -1
	for fd := range table {
		if fd > max {
			max = fd
		}
	}
	if max < 2 {
		max = 2
	}

	var devNull *os.File
	closeFns := func() {
		if devNull != nil {
			devNull.Close()
		}
	}

	files := make([]uintptr, max+1)
	for fd := 0; fd <= max; fd++ {
		f, ok := table[fd]
		if !ok {
			if devNull == nil {
				var err error
				devNull, err = os.OpenFile(os.DevNull, os.O_RDWR, 0)
				if err != nil {
					return nil, closeFns, pkgerrors.Wrap(err, "execengine: open /dev/null")
				}
			}
			files[fd] = devNull.Fd()
			continue
		}
		files[fd] = f.Fd()
	}
	return files, closeFns, nil
}

// envSlice builds the envp for p: the exported-variable set computed from
// e.EnvStack, with p's own variable-assignment prefix
// layered on top so a per-process `NAME=value cmd` binding always wins.
func (e *Engine) envSlice(p *proc.Process) []string {
	env := e.EnvStack.Environ()
	for _, a := range p.VariableAssignments {
		env = append(env, a.Name+"="+joinValues(a.Values))
	}
	return env
}

func joinValues(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += " "
		}
		out += v
	}
	return out
}

// spawnExternal starts a real child process via syscall.ForkExec rather
// than os/exec.Cmd, which doesn't expose pre-fork pgid placement in a
// form this package can drive per-process within one pipeline.
func (e *Engine) spawnExternal(job *proc.Job, p *proc.Process, table map[int]*os.File) error {
	path, err := lookPath(p.Argv[0])
	if err != nil {
		return err
	}
	files, closeFn, err := procAttrFiles(table)
	defer closeFn()
	if err != nil {
		return err
	}

	attr := &syscall.ProcAttr{
		Env:   e.envSlice(p),
		Files: files,
	}
	if job.Group.JobControl {
		pgid := job.Group.Pgid()
		attr.Sys = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	}

	// Snapshot the topic generations before the fork: a SIGCHLD that lands
	// between here and the reaper's first pass advances past this snapshot,
	// so the reaper's blocking check wakes instead of sleeping through it.
	p.Gens = e.Monitor.Snapshot()

	pid, err := syscall.ForkExec(path, p.Argv, attr)
	if err != nil {
		return pkgerrors.Wrapf(err, "execengine: exec %s", p.Argv[0])
	}
	p.SetPID(pid)
	if job.Group.JobControl {
		job.Group.LatchPgid(pid)
	}
	return nil
}

// errCommandNotFound distinguishes a failed PATH lookup from every other
// launch failure; the caller maps it to exit status 127 and fires the
// fish_command_not_found event.
var errCommandNotFound = pkgerrors.New("command not found")

func lookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", pkgerrors.Wrapf(errCommandNotFound, "execengine: %s", name)
	}
	return path, nil
}

// spawnExec implements the `exec` decorator: replace the current process
// image in-place via execve rather than forking. Only valid as the sole
// process in its job; the caller is expected to have checked
// this, since a multi-stage pipeline with `exec` in the middle makes no
// sense.
func (e *Engine) spawnExec(job *proc.Job, p *proc.Process, table map[int]*os.File) error {
	path, err := lookPath(p.Argv[0])
	if err != nil {
		return err
	}
	for fd, f := range table {
		if int(f.Fd()) != fd {
			if err := unix.Dup2(int(f.Fd()), fd); err != nil {
				return pkgerrors.Wrap(err, "execengine: dup2 for exec")
			}
		}
	}
	return syscall.Exec(path, p.Argv, e.envSlice(p))
}

// spawnBuiltin runs a built-in synchronously on the calling goroutine,
// redirected through the resolved fd table, and marks the process
// completed immediately; built-ins never pass through the SIGCHLD reap
// path. A stage with no command word at all (a bare variable assignment)
// applies its assignments to the enclosing scope and contributes no
// status of its own.
func (e *Engine) spawnBuiltin(ctx context.Context, job *proc.Job, p *proc.Process, table map[int]*os.File) error {
	if len(p.Argv) == 0 {
		for _, a := range p.VariableAssignments {
			e.EnvStack.Set(a.Name, a.Values, env.SetOptions{})
		}
		p.MarkCompleted(proc.Status{Empty: true})
		return nil
	}
	b, ok := builtin.Lookup(p.Argv[0])
	if !ok {
		p.MarkCompleted(proc.Status{Code: 127})
		return nil
	}
	in := table[0]
	io := builtin.NewIoStreams(in, fileOrDiscard(table[1]), fileOrDiscard(table[2]))
	e.currentCommand.Store(p.Argv[0])
	if len(p.VariableAssignments) > 0 {
		e.EnvStack.PushFrame(false)
		defer e.EnvStack.PopFrame()
		for _, a := range p.VariableAssignments {
			e.EnvStack.Set(a.Name, a.Values, env.SetOptions{Scope: env.ScopeLocal})
		}
	}
	status := b(e, io, p.Argv[1:])
	io.Flush()
	p.MarkCompleted(proc.Status{Code: builtin.NormalizeStatus(status)})
	return nil
}

func fileOrDiscard(f *os.File) *os.File {
	if f == nil {
		return os.Stdout
	}
	return f
}

// spawnFunction pushes a function-scoped env frame, binds argv[1:] to the
// function's declared parameters (plus $argv), and evaluates its body
// in-process.
func (e *Engine) spawnFunction(ctx context.Context, job *proc.Job, p *proc.Process, table map[int]*os.File) error {
	def, ok := e.lookupFunction(p.Argv[0])
	if !ok {
		p.MarkCompleted(proc.Status{Code: 127})
		return nil
	}
	e.currentCommand.Store(p.Argv[0])
	restore := e.pushStdout(table[1])
	status := e.callFunction(ctx, def, p.Argv[1:])
	restore()
	p.MarkCompleted(proc.Status{Code: status})
	return nil
}

// pushStdout reroutes fd 1 for jobs launched while an in-process stage
// (function or block) runs inside a pipeline, so its body's own children
// inherit the stage's stdout rather than the terminal's.
func (e *Engine) pushStdout(out *os.File) (restore func()) {
	prev := e.captureOut
	if out != nil && out != os.Stdout {
		e.captureOut = out
	}
	return func() { e.captureOut = prev }
}

// spawnBlockNode evaluates a bare control-structure job (an `if`/`while`/
// `switch`/`begin` that's itself one stage of a larger pipeline, e.g.
// `begin; ...; end | wc -l`) inline.
func (e *Engine) spawnBlockNode(ctx context.Context, job *proc.Job, p *proc.Process, table map[int]*os.File) error {
	e.mu.Lock()
	ref, ok := e.blockRefs[p]
	e.mu.Unlock()
	if !ok {
		p.MarkCompleted(proc.Status{Code: 1})
		return nil
	}
	restore := e.pushStdout(table[1])
	status := e.evalControl(ctx, ref.arena, ref.id)
	restore()
	p.MarkCompleted(proc.Status{Code: status})
	return nil
}
