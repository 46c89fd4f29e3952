package builtin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/validator"
)

// invalidArgs is the fixed status for a built-in rejecting its own argv
// shape, before it does any work.
const invalidArgs = 123

func init() {
	register("return", builtinReturn)
	register("exit", builtinExit)
	register("set", builtinSet)
	register("cd", builtinCd)
	register("command", builtinCommand)
	register("builtin", builtinBuiltin)
	register("contains", builtinContains)
	register("count", builtinCount)
	register("status", builtinStatus)
	register("wait", builtinWait)
	register("read", builtinRead)
	register("source", builtinSource)
	register("disown", builtinDisown)
	register("echo", builtinEcho)
	register("string", builtinString)
}

func parseStatusArg(argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, nil
	}
	return strconv.Atoi(argv[0])
}

func builtinReturn(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) <= 1, "return takes at most one argument")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	code, err := parseStatusArg(argv)
	if err != nil {
		fmt.Fprintf(io.Err, "return: %s: invalid status\n", argv[0])
		return invalidArgs
	}
	h.RequestReturn(code)
	return code
}

func builtinExit(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) <= 1, "exit takes at most one argument")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	code, err := parseStatusArg(argv)
	if err != nil {
		fmt.Fprintf(io.Err, "exit: %s: invalid status\n", argv[0])
		return invalidArgs
	}
	h.RequestExit(code)
	return code
}

// builtinSet implements the variable scope rules:
// `set NAME value...` (default placement), `set -l/-g/-U NAME value...`
// (explicit scope), `set -e NAME` (remove), `set -x/-u NAME` (export
// toggle), `set -q NAME...` (query, status-only), bare `set` (list every
// visible name).
func builtinSet(h Host, io *IoStreams, argv []string) int {
	var opts env.SetOptions
	erase, query := false, false
	var rest []string

	i := 0
	for ; i < len(argv); i++ {
		switch argv[i] {
		case "-l", "--local":
			opts.Scope = env.ScopeLocal
		case "-g", "--global":
			opts.Scope = env.ScopeGlobal
		case "-U", "--universal":
			opts.Scope = env.ScopeUniversal
		case "-x", "--export":
			opts.Export = true
		case "-u", "--unexport":
			opts.Unexport = true
		case "-e", "--erase":
			erase = true
		case "-q", "--query":
			query = true
		case "--path":
			opts.Pathvar = true
		default:
			rest = argv[i:]
			i = len(argv)
		}
	}

	if erase {
		v := validator.New()
		v.AssertFunc(func() bool { return len(rest) >= 1 }, "set -e requires a variable name")
		if v.Err() != nil {
			fmt.Fprintln(io.Err, v.Err())
			return invalidArgs
		}
		for _, name := range rest {
			if err := h.Env().Remove(name, opts.Scope); err != nil {
				fmt.Fprintf(io.Err, "set: %v\n", err)
				return 1
			}
		}
		return 0
	}

	if query {
		missing := 0
		for _, name := range rest {
			if _, ok := h.Env().Get(name, env.ScopeAuto); !ok {
				missing++
			}
		}
		return missing
	}

	if len(rest) == 0 {
		for _, name := range h.Env().GetNames(env.ScopeAuto) {
			v, _ := h.Env().Get(name, env.ScopeAuto)
			fmt.Fprintf(io.Out, "%s %s\n", name, strings.Join(v.Values, " "))
		}
		return 0
	}

	name, values := rest[0], rest[1:]
	if err := h.Env().Set(name, values, opts); err != nil {
		fmt.Fprintf(io.Err, "set: %v\n", err)
		return 1
	}
	return 0
}

func builtinCd(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) <= 1, "cd takes at most one argument")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}

	target := ""
	if len(argv) == 1 {
		target = argv[0]
	} else if home, ok := h.Env().Home(); ok {
		target = home
	}
	if target == "" {
		fmt.Fprintln(io.Err, "cd: no home directory")
		return 1
	}
	if err := osChdir(target); err != nil {
		fmt.Fprintf(io.Err, "cd: %v\n", err)
		return 1
	}
	if prev, ok := h.Env().Get("PWD", env.ScopeGlobal); ok {
		h.Env().Set("OLDPWD", prev.Values, env.SetOptions{Scope: env.ScopeGlobal, Export: true})
	}
	if abs, err := osGetwd(); err == nil {
		h.Env().Set("PWD", []string{abs}, env.SetOptions{Scope: env.ScopeGlobal, Export: true})
	}
	return 0
}

// builtinCommand bypasses function/builtin lookup and runs argv as an
// external process.
func builtinCommand(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "command requires a command name")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	return h.RunExternal(argv, io)
}

// builtinBuiltin forces built-in dispatch, bypassing any function with the
// same name.
func builtinBuiltin(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "builtin requires a built-in name")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	b, ok := Lookup(argv[0])
	if !ok {
		fmt.Fprintf(io.Err, "builtin: %s: no such built-in\n", argv[0])
		return 1
	}
	return b(h, io, argv[1:])
}

func builtinContains(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "contains requires a needle")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	needle, haystack := argv[0], argv[1:]
	for _, s := range haystack {
		if s == needle {
			return 0
		}
	}
	return 1
}

func builtinCount(h Host, io *IoStreams, argv []string) int {
	fmt.Fprintln(io.Out, len(argv))
	if len(argv) == 0 {
		return 1
	}
	return 0
}

// builtinStatus implements the shell-state introspection subcommands.
func builtinStatus(h Host, io *IoStreams, argv []string) int {
	if len(argv) == 0 {
		fmt.Fprintln(io.Out, h.CurrentCommand())
		return 0
	}
	switch argv[0] {
	case "is-interactive":
		return boolStatus(h.Interactive())
	case "is-login":
		return boolStatus(h.Login())
	case "is-block":
		return boolStatus(h.InBlock())
	case "is-command-substitution":
		return boolStatus(h.InCommandSubstitution())
	case "current-command":
		fmt.Fprintln(io.Out, h.CurrentCommand())
		return 0
	case "job-control":
		if len(argv) == 1 {
			fmt.Fprintln(io.Out, h.JobControlMode())
			return 0
		}
		v := validator.New()
		v.Assert(argv[1] == "full" || argv[1] == "interactive" || argv[1] == "none", "job-control mode must be full, interactive, or none")
		if v.Err() != nil {
			fmt.Fprintln(io.Err, v.Err())
			return invalidArgs
		}
		return boolStatus(argv[1] == h.JobControlMode())
	default:
		fmt.Fprintf(io.Err, "status: %s: unknown subcommand\n", argv[0])
		return invalidArgs
	}
}

func boolStatus(b bool) int {
	if b {
		return 0
	}
	return 1
}

// builtinWait blocks until every named pid's wait handle records a status,
// printing nothing.
func builtinWait(h Host, io *IoStreams, argv []string) int {
	status := 0
	for _, a := range argv {
		pid, err := strconv.Atoi(a)
		if err != nil {
			fmt.Fprintf(io.Err, "wait: %s: not a pid\n", a)
			status = invalidArgs
			continue
		}
		handle, ok := h.WaitHandles().Lookup(pid)
		if !ok {
			// The reaper creates handles on its first pass over a process;
			// a pid waited on straight after `cmd &` may not have had one
			// pass yet.
			h.Reap(false)
			handle, ok = h.WaitHandles().Lookup(pid)
		}
		if !ok {
			// Consult the OS process table so the diagnostic distinguishes
			// "that process exists but isn't ours" from "no such process".
			if p, err := ps.FindProcess(pid); err == nil && p != nil {
				fmt.Fprintf(io.Err, "wait: %d (%s): not a child of this shell\n", pid, p.Executable())
			} else {
				fmt.Fprintf(io.Err, "wait: %d: no such process\n", pid)
			}
			status = 1
			continue
		}
		for {
			if s, done := handle.Status(); done {
				status = s
				break
			}
			// Drive the reaper ourselves: nothing else advances completion
			// state while this built-in occupies the foreground.
			h.Reap(true)
		}
	}
	return status
}

// builtinDisown disclaims interest in a background pid: no exit event, no
// job summary, and the reaper still polls it so it never lingers as a
// zombie.
func builtinDisown(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "disown requires at least one pid")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	status := 0
	for _, a := range argv {
		pid, err := strconv.Atoi(a)
		if err != nil {
			fmt.Fprintf(io.Err, "disown: %s: not a pid\n", a)
			status = invalidArgs
			continue
		}
		if !h.Disown(pid) {
			fmt.Fprintf(io.Err, "disown: %d: no such job\n", pid)
			status = 1
		}
	}
	return status
}

func builtinRead(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "read requires at least one variable name")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	line, err := readLine(io.In)
	if err != nil {
		return 1
	}
	fields := strings.Fields(line)
	for i, name := range argv {
		if i < len(fields) {
			h.Env().Set(name, []string{fields[i]}, env.SetOptions{})
		} else {
			h.Env().Set(name, nil, env.SetOptions{})
		}
	}
	return 0
}

func builtinSource(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "source requires a path")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	contents, err := readFile(argv[0])
	if err != nil {
		fmt.Fprintf(io.Err, "source: %v\n", err)
		return 1
	}
	return h.Source(contents, argv[1:], io)
}
